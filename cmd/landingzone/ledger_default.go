//go:build !sqlite && !postgres

package main

import (
	"os"

	"landingzone/internal/ledger"
	"landingzone/internal/observability"
)

// selectLedger returns the in-memory ledger when built without a
// storage tag. Resumption across process restarts needs -tags sqlite
// or -tags postgres.
func selectLedger(logger observability.Logger) ledger.Store {
	if os.Getenv("LEDGER_DSN") != "" {
		logger.Warn("LEDGER_DSN set, but binary not built with -tags sqlite; using in-memory ledger")
	}
	if os.Getenv("DATABASE_URL") != "" {
		logger.Warn("DATABASE_URL set, but binary not built with -tags postgres; using in-memory ledger")
	}
	return ledger.NewMemoryStore()
}
