package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Tyrowin/roomcast/internal/logging"
	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/internal/store"
)

// app carries what every subcommand needs once flags and config are read.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *server.Config
	log     zerolog.Logger
	code    int
}

// exitCodeError lets a command choose the process exit status.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func execute(args []string) int {
	a := &app{}
	cmd, err := newRootCmd(a)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return a.code
}

func newRootCmd(a *app) (*cobra.Command, error) {
	v, err := server.NewViper()
	if err != nil {
		return nil, err
	}
	a.v = v

	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Multi-room websocket chat server",
		Long:          "chatd serves chat rooms over websockets. Several chatd processes sharing one Redis act as a single chat service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("store", server.StoreBackendRedis, "store backend: redis or memory")
	flags.String("redis-host", "localhost", "Redis host")
	flags.Int("redis-port", 6379, "Redis port")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", logging.FormatConsole, "log format: console or json")

	bindings := map[string]string{
		server.KeyStore:     "store",
		server.KeyRedisHost: "redis-host",
		server.KeyRedisPort: "redis-port",
		server.KeyLogLevel:  "log-level",
		server.KeyLogFormat: "log-format",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	serve := newServeCmd(a)
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newFlushCmd(a))
	return root, nil
}

// load reads the optional config file and resolves the final Config.
func (a *app) load() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.cfgFile, err)
		}
	}

	a.cfg = server.LoadConfig(a.v)
	a.log = logging.New(a.cfg.Log.Level, a.cfg.Log.Format, os.Stderr)
	if a.cfgFile != "" {
		a.log.Info().Str("file", a.v.ConfigFileUsed()).Msg("loaded config file")
	}
	return nil
}

// openStore connects the configured backend. A Redis server that does not
// answer is reported as an error.
func openStore(ctx context.Context, cfg *server.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Store {
	case server.StoreBackendMemory:
		logger.Warn().Msg("using in-memory store; history and rooms are not shared between processes")
		return store.NewMemory(logger), nil
	default:
		return store.OpenRedis(ctx, store.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
	}
}
