//go:build sqlite && !postgres

package main

import (
	"os"

	"landingzone/internal/ledger"
	"landingzone/internal/observability"
)

// selectLedger returns a SQLite-backed ledger when built with the
// 'sqlite' tag. Configure with LEDGER_DSN.
func selectLedger(logger observability.Logger) ledger.Store {
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
