package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/vango-go/vai-memoir/pkg/config"
	"github.com/vango-go/vai-memoir/pkg/handoff"
	"github.com/vango-go/vai-memoir/pkg/live/credentials"
	"github.com/vango-go/vai-memoir/pkg/live/retry"
	"github.com/vango-go/vai-memoir/pkg/live/session"
	"github.com/vango-go/vai-memoir/pkg/live/tools"
	"github.com/vango-go/vai-memoir/pkg/live/transport"
	"github.com/vango-go/vai-memoir/pkg/memory"
	"github.com/vango-go/vai-memoir/pkg/memory/memstore"
	"github.com/vango-go/vai-memoir/pkg/memory/pgstore"
	"github.com/vango-go/vai-memoir/pkg/memory/sqlitestore"
	"github.com/vango-go/vai-memoir/pkg/metrics"
)

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore returns the configured memory store and its close func.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (memory.Store, func(), error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return memstore.New(), func() {}, nil
	case config.StoreSQLite:
		s, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLitePath, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		s, err := pgstore.Open(ctx, pgstore.Config{DSN: cfg.PostgresDSN, MaxConns: cfg.MaxConns, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newIssuer(cfg config.CredentialsConfig) (session.CredentialIssuer, error) {
	switch cfg.Mode {
	case config.CredentialsUpstream:
		return credentials.NewUpstreamIssuer(credentials.UpstreamOptions{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
	default:
		return credentials.NewBackendIssuer(credentials.BackendOptions{
			Endpoint:    cfg.Endpoint,
			BearerToken: cfg.Token,
			Timeout:     cfg.Timeout,
		})
	}
}

// handoffs fans navigation events out to the in-process broadcaster and, when
// configured, a redis channel.
type handoffs struct {
	broadcaster *handoff.Broadcaster
	redis       *handoff.RedisPublisher
}

func openHandoffs(ctx context.Context, cfg config.HandoffConfig, logger *slog.Logger) (*handoffs, error) {
	h := &handoffs{broadcaster: handoff.NewBroadcaster()}
	if cfg.RedisURL == "" {
		return h, nil
	}
	p, err := handoff.DialRedis(ctx, cfg.RedisURL, cfg.Channel)
	if err != nil {
		h.broadcaster.Close()
		return nil, err
	}
	logger.Info("publishing handoffs to redis", "channel", p.Channel())
	h.redis = p
	return h, nil
}

func (h *handoffs) publisher() handoff.Publisher {
	if h.redis == nil {
		return h.broadcaster
	}
	return handoff.Multi{h.broadcaster, h.redis}
}

func (h *handoffs) Close() {
	h.broadcaster.Close()
	if h.redis != nil {
		_ = h.redis.Close()
	}
}

func newController(cfg config.Config, store memory.Store, issuer session.CredentialIssuer, pub handoff.Publisher, m *metrics.Metrics, logger *slog.Logger) (*session.Controller, error) {
	return session.New(session.Config{
		UserID:         cfg.Session.UserID,
		AgentID:        cfg.Session.AgentID,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		OutputVolume:   cfg.Session.OutputVolume,
		Retry: retry.Config{
			EarlyDisconnect: cfg.Retry.EarlyDisconnect,
			StableSession:   cfg.Retry.StableSession,
			BackoffStep:     cfg.Retry.BackoffStep,
			MaxRetries:      cfg.Retry.MaxRetries,
		},
	}, session.Deps{
		Issuer: issuer,
		Dialer: session.TransportDialer(transport.Options{
			DynamicVariables: map[string]string{"user_id": cfg.Session.UserID},
			HandshakeTimeout: cfg.Transport.HandshakeTimeout,
			WriteTimeout:     cfg.Transport.WriteTimeout,
			Logger:           logger,
		}),
		Microphone: session.AlwaysGranted,
		Tools: tools.Options{
			Store:        store,
			Handoff:      pub,
			HandoffDelay: cfg.Handoff.Delay,
			Rate:         rate.Limit(cfg.Tools.RatePerSecond),
			Burst:        cfg.Tools.Burst,
			Observer:     m,
		},
		Metrics: m,
		Logger:  logger,
	})
}
