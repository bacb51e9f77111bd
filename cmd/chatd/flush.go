package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const flushTimeout = 10 * time.Second

func newFlushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Delete every room, history list and subscription key from the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flushTimeout)
			defer cancel()
			return a.flush(ctx)
		},
	}
}

func (a *app) flush(ctx context.Context) error {
	st, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			a.log.Warn().Err(err).Msg("error closing store")
		}
	}()

	if err := st.Flush(ctx); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	a.log.Info().Str("store", describe(a.cfg)).Msg("store flushed")
	return nil
}
