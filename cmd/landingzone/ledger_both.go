//go:build sqlite && postgres

package main

import (
	"context"
	"os"

	"landingzone/internal/ledger"
	"landingzone/internal/observability"
)

// selectLedger picks PostgreSQL when DATABASE_URL is set, otherwise
// SQLite, when built with both storage tags.
func selectLedger(logger observability.Logger) ledger.Store {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		st, err := ledger.NewPostgresStore(context.Background(), url)
		if err == nil {
			logger.Info("using postgres ledger")
			return st
		}
		logger.Error("postgres ledger init failed; falling back to sqlite", "error", err)
	}
	dsn := os.Getenv("LEDGER_DSN")
	if dsn == "" {
		dsn = "file:landingzone.db?cache=shared"
	}
	st, err := ledger.NewSQLiteStore(dsn)
	if err != nil {
		logger.Error("sqlite ledger init failed; falling back to in-memory ledger", "error", err)
		return ledger.NewMemoryStore()
	}
	logger.Info("using sqlite ledger", "dsn", dsn)
	return st
}
