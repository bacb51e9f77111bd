package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomcast/internal/chat"
	"github.com/Tyrowin/roomcast/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept websocket connections (default command)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("port", ":5000", "listen address or port")
	flags.String("allowed-origins", "*", "comma separated websocket origins")
	flags.Int("history-limit", chat.DefaultHistoryLimit, "messages kept per room")

	bindings := map[string]string{
		server.KeyPort:           "port",
		server.KeyAllowedOrigins: "allowed-origins",
		server.KeyHistoryLimit:   "history-limit",
	}
	for key, name := range bindings {
		cobra.CheckErr(a.v.BindPFlag(key, flags.Lookup(name)))
	}
	return cmd
}

// serve runs until a termination signal arrives or the listener fails.
// Startup fails when the store is unreachable.
func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.log

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store).Msg("store unavailable; refusing to start")
		return exitCodeError{code: 1}
	}

	hub := server.NewHub(logger)
	service := chat.NewService(st, hub, chat.Options{
		HistoryLimit: cfg.History.Limit,
		PageSize:     cfg.History.PageSize,
		Logger:       logger,
	})
	if err := service.Start(ctx); err != nil {
		_ = st.Close()
		logger.Error().Err(err).Msg("failed to watch room directory")
		return exitCodeError{code: 1}
	}

	logger.Info().Str("store", describe(cfg)).Str("port", cfg.Port).Int("history", cfg.History.Limit).Msg("starting roomcast")

	handler := server.NewHandler(hub, server.NewDispatcher(service, hub, logger), st, cfg, logger)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handler))

	var once sync.Once
	var shutdownErr error
	shutdown := func(ctx context.Context) error {
		once.Do(func() {
			logger.Info().Msg("graceful shutdown initiated")
			shutdownErr = errors.Join(
				server.ShutdownServer(ctx, httpServer, logger),
				hub.Shutdown(cfg.ShutdownTimeout),
				service.Close(),
				st.Close(),
			)
		})
		return shutdownErr
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"roomcast": shutdown,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return server.StartServer(httpServer, logger)
	})
	g.Go(func() error {
		select {
		case code := <-wait:
			a.code = code
		case <-gctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = shutdown(stopCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		return exitCodeError{code: 1}
	}
	logger.Info().Int("code", a.code).Msg("server exited")
	if a.code != 0 {
		return exitCodeError{code: a.code}
	}
	return nil
}

// describe names the store backend without its password.
func describe(cfg *server.Config) string {
	if cfg.Store == server.StoreBackendMemory {
		return "memory"
	}
	return fmt.Sprintf("redis://%s:%d/%d", cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DB)
}
