// Package fanout is the notification fan-out engine: the per-instance
// connection registry, the per-recipient replay window, the burst batcher
// and the Service façade that ties them to the cross-instance bridge.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/ghuser/notifyhub/pkg/logger"
	"github.com/ghuser/notifyhub/services/notification/domain"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// Bridge carries envelopes between instances.
type Bridge interface {
	// Publish sends env to every instance, this one included.
	Publish(ctx context.Context, env models.Envelope) error
	// Subscribe starts delivering broker envelopes to onReceive until ctx is
	// done. It returns once the first subscription is established.
	Subscribe(ctx context.Context, onReceive func(context.Context, models.Envelope)) error
	// Healthy reports the last broker probe result without blocking.
	Healthy() bool
}

// Config tunes the engine.
type Config struct {
	InstanceID       string
	ReplaySize       int
	BatchSize        int
	FlushInterval    time.Duration
	PublishTimeout   time.Duration
	ConnectionBuffer int
	// SubscribeRetry is the delay between bridge subscription attempts
	// when the broker is unreachable at startup.
	SubscribeRetry time.Duration
}

// Status is the operator-facing health snapshot.
type Status struct {
	ActiveConnections   int    `json:"activeConnections"`
	BrokerHealthy       bool   `json:"messagingHealthy"`
	ConnectedRecipients int    `json:"connectedRecipients"`
	PendingEnvelopes    int    `json:"pendingEnvelopes"`
	InstanceID          string `json:"instanceId"`
}

// Service is the fan-out façade used by transports and business logic.
type Service struct {
	cfg      Config
	replay   *ReplayBuffer
	registry *Registry
	batcher  *Batcher
	bridge   Bridge
	metrics  *Metrics
	log      logger.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	meter metric.Meter
}

// WithMeter overrides the OTel meter. Defaults to the global provider.
func WithMeter(m metric.Meter) ServiceOption {
	return func(o *serviceOptions) { o.meter = m }
}

// NewService wires the engine. bridge may be nil, in which case delivery
// is local to this instance.
func NewService(cfg Config, bridge Bridge, log logger.Logger, opts ...ServiceOption) (*Service, error) {
	o := serviceOptions{meter: otel.Meter(meterName)}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.ConnectionBuffer <= 0 {
		cfg.ConnectionBuffer = 256
	}
	if cfg.SubscribeRetry <= 0 {
		cfg.SubscribeRetry = 5 * time.Second
	}

	m, err := newMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("fanout: metrics: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		replay:   NewReplayBuffer(cfg.ReplaySize),
		registry: NewRegistry(),
		bridge:   bridge,
		metrics:  m,
		log:      log.With("component", "fanout"),
	}
	s.batcher = NewBatcher(s.registry, cfg.BatchSize, cfg.FlushInterval,
		WithFlushObserver(func(_ string, res DeliveryResult) {
			m.recordDelivery(context.Background(), res, "batch")
		}),
	)
	if err := m.registerGauges(o.meter, s); err != nil {
		return nil, fmt.Errorf("fanout: gauges: %w", err)
	}
	return s, nil
}

// Run subscribes to the bridge and drives the batch ticker until ctx is done.
// When the broker is unreachable the engine starts anyway, delivering
// locally, and keeps retrying the subscription in the background.
func (s *Service) Run(ctx context.Context) error {
	if s.bridge != nil {
		if err := s.bridge.Subscribe(ctx, s.OnBridgeMessage); err != nil {
			s.log.WarnContext(ctx, "bridge subscribe failed, delivering locally until it succeeds",
				"error", err, "retry_interval", s.cfg.SubscribeRetry)
			go s.subscribeWithRetry(ctx)
		}
	}
	s.log.InfoContext(ctx, "fanout started")
	s.batcher.Run(ctx)
	s.log.Info("fanout stopped")
	return nil
}

func (s *Service) subscribeWithRetry(ctx context.Context) {
	op := func() (struct{}, error) {
		return struct{}{}, s.bridge.Subscribe(ctx, s.OnBridgeMessage)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.SubscribeRetry)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return
	}
	s.log.InfoContext(ctx, "bridge subscribed after retry")
}

// OpenConnection registers a stream for recipient. When lastEventID is set,
// the envelopes buffered after it are queued ahead of any live envelope.
// Live envelopes delivered while the replay is assembled are held back and
// de-duplicated against it, so nothing is lost or doubled at the seam.
func (s *Service) OpenConnection(ctx context.Context, recipient, lastEventID string) (*Connection, error) {
	if recipient == "" {
		return nil, domain.ErrMissingRecipient
	}

	conn := newConnection(recipient, s.cfg.ConnectionBuffer, s.onConnectionClosed)
	conn.beginReplay()
	s.registry.Register(recipient, conn)

	backlog := s.replay.Since(recipient, lastEventID)
	dropped, err := conn.finishReplay(backlog)
	if err != nil {
		conn.Close(ReasonErrored)
		return nil, fmt.Errorf("fanout: replay %d envelopes: %w", len(backlog), err)
	}
	if dropped > 0 {
		s.log.WarnContext(ctx, "replay trimmed to connection buffer",
			"recipient", recipient,
			"dropped", dropped,
			"connection_buffer", s.cfg.ConnectionBuffer,
		)
		backlog = backlog[dropped:]
	}

	s.metrics.opened.Add(ctx, 1)
	if len(backlog) > 0 {
		s.metrics.replayed.Add(ctx, int64(len(backlog)))
	}
	s.log.InfoContext(ctx, "connection opened",
		"recipient", recipient,
		"connection_id", conn.ID(),
		"last_event_id", lastEventID,
		"replayed", len(backlog),
	)
	return conn, nil
}

func (s *Service) onConnectionClosed(c *Connection, reason CloseReason) {
	s.registry.Remove(c.Recipient(), c)
	s.metrics.recordClose(context.Background(), reason)
	s.log.Info("connection closed",
		"recipient", c.Recipient(),
		"connection_id", c.ID(),
		"reason", string(reason),
	)
}

// Publish accepts an envelope from business logic. Only validation errors
// are returned. The envelope is buffered for replay, sent to the broker and
// queued for local delivery; a broker failure or timeout is logged and
// reflected in Status, and local delivery still happens.
func (s *Service) Publish(ctx context.Context, env models.Envelope) error {
	if err := env.Validate(); err != nil {
		s.metrics.rejected.Add(ctx, 1)
		s.log.WarnContext(ctx, "envelope rejected", "envelope_id", env.ID, "error", err)
		return err
	}

	s.replay.Record(env.Recipient, env)
	s.metrics.published.Add(ctx, 1)

	if s.bridge != nil {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
		err := s.bridge.Publish(pctx, env)
		cancel()
		if err != nil {
			s.metrics.brokerFailures.Add(ctx, 1)
			s.log.WarnContext(ctx, "broker publish failed, delivering locally only",
				"envelope_id", env.ID,
				"recipient", env.Recipient,
				"error", err,
			)
		}
	}

	s.batcher.Enqueue(env.Recipient, env)
	return nil
}

// OnBridgeMessage handles an envelope received from the broker. Envelopes
// whose id is already in the recipient's replay window were delivered here
// before (typically because this instance published them) and are skipped.
// Everything else is buffered and delivered directly, bypassing the batcher.
func (s *Service) OnBridgeMessage(ctx context.Context, env models.Envelope) {
	if err := env.Validate(); err != nil {
		s.log.WarnContext(ctx, "bridge envelope dropped", "envelope_id", env.ID, "error", err)
		return
	}
	s.metrics.bridgeReceived.Add(ctx, 1)

	if !s.replay.Record(env.Recipient, env) {
		s.metrics.bridgeDuplicates.Add(ctx, 1)
		s.log.DebugContext(ctx, "bridge envelope already delivered", "envelope_id", env.ID)
		return
	}
	res := s.registry.DeliverLocal(env.Recipient, env)
	s.metrics.recordDelivery(ctx, res, "bridge")
}

// Status aggregates registry, batcher and broker health.
func (s *Service) Status() Status {
	healthy := true
	if s.bridge != nil {
		healthy = s.bridge.Healthy()
	}
	return Status{
		ActiveConnections:   s.registry.ActiveConnectionCount(),
		BrokerHealthy:       healthy,
		ConnectedRecipients: len(s.registry.ConnectedRecipients()),
		PendingEnvelopes:    s.batcher.Pending(),
		InstanceID:          s.cfg.InstanceID,
	}
}

// ConnectedRecipients lists recipients with a live stream on this instance.
func (s *Service) ConnectedRecipients() []string {
	return s.registry.ConnectedRecipients()
}

// ConnectionCount returns how many streams recipient holds on this instance.
func (s *Service) ConnectionCount(recipient string) int {
	return s.registry.ConnectionCount(recipient)
}

// ReplayLen returns the size of recipient's replay window.
func (s *Service) ReplayLen(recipient string) int {
	return s.replay.Len(recipient)
}
