// Package app assembles a gateway process from its configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/gochat-gateway/internal/gateway"
	"github.com/Tyrowin/gochat-gateway/internal/identity"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/presence"
	"github.com/Tyrowin/gochat-gateway/internal/rooms"
	"github.com/Tyrowin/gochat-gateway/internal/router"
	"github.com/Tyrowin/gochat-gateway/internal/server"
	"github.com/Tyrowin/gochat-gateway/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// App is a fully wired gateway.
type App struct {
	Config   server.Config
	Store    *store.Store
	Presence presence.Registry
	Verifier *identity.JWTVerifier
	Gateway  *gateway.Gateway
	Hub      *server.Hub
	Server   *server.Server
	Registry *prometheus.Registry

	closers []func() error
}

// New opens the store, connects the presence backend and builds every
// component. Close releases what New opened.
func New(ctx context.Context, cfg server.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	s, err := store.Open(cfg.BadgerPath, log, cfg.UserCacheSize)
	if err != nil {
		return nil, fmt.Errorf("database opening failed: %w", err)
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	registry, err := newPresence(ctx, cfg)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	a.Presence = registry
	if r, ok := registry.(*presence.Redis); ok {
		a.closers = append(a.closers, r.Close)
	}

	a.Hub = server.NewHub(log, m)
	a.Verifier = identity.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	manager := rooms.NewManager(s, s, registry, log, m)
	r := router.New(s, manager, s, registry, a.Hub, log, m, router.WithLimits(cfg.Limits()))
	a.Gateway = gateway.New(gateway.Deps{
		Verifier: a.Verifier,
		Users:    s,
		Presence: registry,
		Rooms:    manager,
		Router:   r,
		Emitter:  a.Hub,
		Log:      log,
		Metrics:  m,
	})
	a.Server = server.New(cfg, a.Hub, a.Gateway, a.Registry, log)
	return a, nil
}

func newPresence(ctx context.Context, cfg server.Config) (presence.Registry, error) {
	if cfg.PresenceBackend != server.PresenceRedis {
		return presence.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.RedisAddr, err)
	}
	return presence.NewRedis(client, ""), nil
}

// Close releases the store and the presence backend. It is safe to call
// after a failed New.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
