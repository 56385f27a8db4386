package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/cache"
	"github.com/Sternrassler/botdash-proxy/pkg/client"
	"github.com/Sternrassler/botdash-proxy/pkg/config"
	"github.com/Sternrassler/botdash-proxy/pkg/logging"
	"github.com/Sternrassler/botdash-proxy/pkg/precache"
	"github.com/Sternrassler/botdash-proxy/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app holds the wired components of one process.
type app struct {
	origin       *url.URL
	storage      cache.Storage
	upstream     *client.Client
	registration *worker.Registration
	redis        *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}

	a := &app{origin: origin}

	switch cfg.Cache.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.storage = cache.NewRedisStorage(a.redis, cfg.Cache.Namespace)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	default:
		a.storage = cache.NewMemoryStorage()
	}

	a.upstream, err = client.New(client.Config{
		UserAgent: cfg.Worker.UserAgent,
		Timeout:   cfg.Origin.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registration = worker.NewRegistration(worker.Config{
		Storage:   a.storage,
		Upstream:  a.upstream,
		Origin:    origin,
		Manifest:  cfg.Cache.Precache,
		APIWindow: cfg.Cache.APITTL,
		Precache:  precache.DefaultConfig(),
	})

	return a, nil
}

// Close releases the storage connection.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing Redis failed")
		}
	}
}
