package main

import (
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
	"github.com/elixir-cloud-aai/foca-sub000/internal/logctx"
	"github.com/elixir-cloud-aai/foca-sub000/storage"
	"github.com/elixir-cloud-aai/foca-sub000/storage/memory"
	"github.com/elixir-cloud-aai/foca-sub000/storage/redis"
)

var BuildVersion = "dev"

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "tokencheck",
	Short: "Validate OpenID Connect bearer tokens",
	Long: "Validate OpenID Connect bearer tokens against the issuing provider.\n\n" +
		"Validation settings are read from AUTH_* environment variables.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error.")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of tokencheck",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newServeCommand())
}

func Execute() error {
	return rootCmd.Execute()
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		level = slog.LevelWarn
	}
	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	return slog.New(logctx.Handler{Handler: h})
}

// runtime is what every subcommand needs: the environment settings and a
// Validator built from them.
type runtime struct {
	env       *auth.EnvConfig
	log       *slog.Logger
	validator *auth.Validator
	cache     storage.Storage
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	env, err := auth.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	log := newLogger(cmd)

	opts := append(env.Options(), auth.WithLogger(log))
	cache, err := newCache(env)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		opts = append(opts, auth.WithCache(cache, env.CacheTTL))
	}
	return &runtime{env: env, log: log, validator: auth.New(opts...), cache: cache}, nil
}

func (r *runtime) Close() error {
	if r.cache != nil {
		return r.cache.Close()
	}
	return nil
}

// newCache returns nil when caching is disabled (AUTH_CACHE_TTL unset or
// zero). REDIS_ADDR selects a shared Redis cache over the in-process one.
func newCache(env *auth.EnvConfig) (storage.Storage, error) {
	if env.CacheTTL <= 0 {
		return nil, nil
	}
	if env.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: env.RedisAddr})
		store, err := redis.New(redis.Config{Client: client, KeyPrefix: env.CacheKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return store, nil
	}
	store, err := memory.New(env.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return store, nil
}
