package services

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghuser/notifyhub/pkg/app"
	"github.com/ghuser/notifyhub/pkg/cache"
	"github.com/ghuser/notifyhub/services/notification/application/fanout"
	"github.com/ghuser/notifyhub/services/notification/infrastructure/bridge"
	"github.com/ghuser/notifyhub/services/notification/infrastructure/presence"
)

// PresenceReader looks up which instances hold streams for a recipient.
type PresenceReader interface {
	Instances(ctx context.Context, recipient string) ([]string, error)
}

// Services is the application-layer service container for this bounded context.
// It wires the fan-out engine with its bridge and presence infrastructure.
type Services struct {
	Fanout   *fanout.Service
	Presence PresenceReader // nil without Redis

	bridge    *bridge.Bridge
	heartbeat *presence.Heartbeat
}

// New wires the notification services with infrastructure from the Application container.
func New(a *app.Application) (*Services, error) {
	cfg := a.Config

	br := bridge.New(a.EventBus, bridge.Config{
		Topic:          cfg.NotificationTopic,
		InstanceID:     cfg.InstanceID,
		MaxMessageAge:  cfg.BridgeMaxMessageAge,
		HealthInterval: cfg.BrokerHealthInterval,
	}, a.Logger)

	svc, err := fanout.NewService(fanout.Config{
		InstanceID:       cfg.InstanceID,
		ReplaySize:       cfg.ReplayBufferSize,
		BatchSize:        cfg.BatchSize,
		FlushInterval:    cfg.BatchFlushInterval,
		PublishTimeout:   cfg.PublishTimeout,
		ConnectionBuffer: cfg.ConnectionBufferSize,
		SubscribeRetry:   cfg.SubscribeRetryInterval,
	}, br, a.Logger)
	if err != nil {
		return nil, err
	}

	s := &Services{Fanout: svc, bridge: br}
	if a.Redis != nil {
		dir := cache.NewPresenceDirectory(a.Redis)
		s.Presence = dir
		s.heartbeat = presence.NewHeartbeat(dir, svc, cfg.InstanceID,
			cfg.PresenceInterval, cfg.PresenceTTL, a.Logger)
	}
	return s, nil
}

// BrokerHealthy reports the bridge's last known broker state.
func (s *Services) BrokerHealthy() bool {
	return s.bridge.Healthy()
}

// Run drives the engine, the broker probe and the presence heartbeat until
// ctx is done. The engine flushes its pending batches before Run returns.
func (s *Services) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Fanout.Run(gctx) })
	g.Go(func() error {
		s.bridge.RunHealthProbe(gctx)
		return nil
	})
	if s.heartbeat != nil {
		g.Go(func() error {
			s.heartbeat.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}

// BrokerCheck adapts the bridge to httpx.HealthChecker.
type BrokerCheck struct{ s *Services }

// BrokerHealth returns a health checker for the broker bridge.
func (s *Services) BrokerHealth() BrokerCheck { return BrokerCheck{s: s} }

// Ping reports the broker as down when the bridge last saw it fail.
func (c BrokerCheck) Ping(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.s.bridge.Probe(pctx)
}
