package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/config"
	"github.com/Sternrassler/botdash-proxy/pkg/proxy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	loader := config.NewLoader()
	var configFile string

	root := &cobra.Command{
		Use:           "botdash-proxy",
		Short:         "Offline-capable caching proxy for the bot analytics dashboard",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				loader.SetConfigFile(configFile)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loader)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./botdash-proxy.yaml)")
	flags.String("addr", "", "listen address")
	flags.String("origin", "", "dashboard origin URL")
	flags.String("cache-version", "", "cache version tag")
	flags.String("backend", "", "cache backend (redis|memory)")
	flags.String("log-level", "", "log level (debug|info|warn|error)")

	v := loader.Viper()
	for key, flag := range map[string]string{
		"server.addr":   "addr",
		"origin.url":    "origin",
		"cache.version": "cache-version",
		"cache.backend": "backend",
		"log.level":     "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), loader)
		},
	}

	clearCache := &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete the current static and API stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClearCache(cmd, loader)
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "botdash-proxy %s\n", buildVersion)
		},
	}

	root.AddCommand(serve, clearCache, version)
	return root
}

// runServe installs the configured worker version and serves until
// interrupted. An install failure aborts startup.
func runServe(ctx context.Context, loader *config.Loader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.registration.Register(ctx, cfg.Cache.Version); err != nil {
		return fmt.Errorf("register worker %s: %w", cfg.Cache.Version, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var version atomic.Value
	version.Store(cfg.Cache.Version)
	loader.Watch(func(updated *config.Config) {
		version.Store(updated.Cache.Version)
		a.registration.CheckForUpdate()
	})
	go a.registration.Run(ctx, cfg.Worker.UpdateInterval, func() string {
		return version.Load().(string)
	})

	server := proxy.New(proxy.Config{
		Origin:       a.origin,
		Registration: a.registration,
		Storage:      a.storage,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runClearCache deletes the current stores of the configured backend.
func runClearCache(cmd *cobra.Command, loader *config.Loader) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Cache.Backend == config.BackendMemory {
		log.Warn().Msg("Memory backend is per process; nothing outside this command is cleared")
	}

	manager := cache.NewManager(a.storage, cfg.Cache.Version)
	if err := manager.Clear(ctx); err != nil {
		return err
	}

	names := manager.Names()
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %s and %s\n", names.Static, names.API)
	return nil
}
