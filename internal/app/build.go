package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyberguardng/voicegateway/internal/config"
	"github.com/cyberguardng/voicegateway/internal/httpapi"
	"github.com/cyberguardng/voicegateway/internal/knowledge"
	"github.com/cyberguardng/voicegateway/internal/observability"
	"github.com/cyberguardng/voicegateway/internal/relay"
	"github.com/cyberguardng/voicegateway/internal/session"
)

const janitorInterval = 5 * time.Second

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Gateway  *relay.Gateway
	Registry *session.Registry
	Metrics  *observability.Metrics
	Store    knowledge.Store

	// Cleanup releases the knowledge store. Call it after live calls have drained.
	Cleanup func() error
}

// Options override collaborators that are normally built from config.
type Options struct {
	Metrics *observability.Metrics
	Dialer  relay.Dialer
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*BuildResult, error) {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}

	store, err := knowledge.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("knowledge store init failed: %w", err)
	}
	logger.Info("knowledge store ready", "mode", store.Mode())

	registry := session.NewRegistry(cfg.MaxCallDuration, cfg.CallIdleTimeout)
	registry.SetExpireHook(func(s *session.CallSession, reason string) {
		metrics.ObserveSessionEvent("expired_" + reason)
		logger.Warn("call expired", "session_id", s.ID, "call_id", s.CallID(), "reason", reason)
	})

	gateway := &relay.Gateway{
		Config:    relay.NewConfig(cfg),
		Logger:    logger,
		Metrics:   metrics,
		Registry:  registry,
		Functions: knowledge.NewTools(store),
		Dialer:    opts.Dialer,
	}

	return &BuildResult{
		Config:   cfg,
		API:      httpapi.New(cfg, gateway, store.Mode()),
		Gateway:  gateway,
		Registry: registry,
		Metrics:  metrics,
		Store:    store,
		Cleanup:  store.Close,
	}, nil
}

// Start launches background maintenance bound to ctx.
func (b *BuildResult) Start(ctx context.Context) {
	b.Registry.StartJanitor(ctx, janitorInterval)
}

// Drain cancels every live call and waits for teardown until ctx is done.
// It reports how many calls were canceled and whether all of them finished.
func (b *BuildResult) Drain(ctx context.Context) (canceled int, drained bool) {
	canceled = b.Registry.CancelAll()
	return canceled, b.Registry.Wait(ctx)
}
