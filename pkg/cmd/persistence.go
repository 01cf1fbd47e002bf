package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/approvia/approvia/pkg/persistence"
	"github.com/approvia/approvia/pkg/persistence/memory"
	"github.com/approvia/approvia/pkg/persistence/postgresql"
)

// NewPersistence selects a storage backend from the database URL scheme.
// postgres URLs get the durable backend with migrations applied; the
// "memory" scheme is for local development and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return store
	case databaseURL == "memory://" || databaseURL == "memory":
		return memory.NewPersistence()
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}
