package cmd

import (
	"context"
	"log/slog"

	"github.com/approvia/approvia/pkg/config"
)

// NewChainStore builds the chain store and seeds it from a directory of JSON
// chain definitions when one is configured.
func NewChainStore(ctx context.Context, logger *slog.Logger, chainsPath string) config.ChainStore {
	store := config.NewMemoryStore()

	if chainsPath != "" {
		if err := config.LoadDirectory(ctx, logger, store, chainsPath); err != nil {
			panic(err)
		}
	}

	return store
}
