package fanout

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ghuser/notifyhub/services/notification/application/fanout"

// Metrics holds the fan-out counters exported through OTel.
type Metrics struct {
	published        metric.Int64Counter
	rejected         metric.Int64Counter
	brokerFailures   metric.Int64Counter
	delivered        metric.Int64Counter
	deliveryFailures metric.Int64Counter
	bridgeReceived   metric.Int64Counter
	bridgeDuplicates metric.Int64Counter
	replayed         metric.Int64Counter
	opened           metric.Int64Counter
	closed           metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m    Metrics
		errs []error
	)
	counter := func(dst *metric.Int64Counter, name, desc string) {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		*dst = c
	}
	counter(&m.published, "notifyhub.envelopes.published", "Envelopes accepted by Publish")
	counter(&m.rejected, "notifyhub.envelopes.rejected", "Envelopes rejected by validation")
	counter(&m.brokerFailures, "notifyhub.broker.publish_failures", "Broker publishes that failed or timed out")
	counter(&m.delivered, "notifyhub.deliveries.succeeded", "Envelopes written to a local connection queue")
	counter(&m.deliveryFailures, "notifyhub.deliveries.failed", "Local deliveries that removed a connection")
	counter(&m.bridgeReceived, "notifyhub.bridge.received", "Envelopes received from the broker")
	counter(&m.bridgeDuplicates, "notifyhub.bridge.duplicates", "Broker envelopes skipped because their id was already buffered")
	counter(&m.replayed, "notifyhub.replay.envelopes", "Envelopes replayed to resuming streams")
	counter(&m.opened, "notifyhub.connections.opened", "Streams opened")
	counter(&m.closed, "notifyhub.connections.closed", "Streams closed, by reason")
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

// registerGauges exports live state read from s on every collection.
func (m *Metrics) registerGauges(meter metric.Meter, s *Service) error {
	active, err := meter.Int64ObservableGauge("notifyhub.connections.active",
		metric.WithDescription("Streams currently registered on this instance"))
	if err != nil {
		return err
	}
	pending, err := meter.Int64ObservableGauge("notifyhub.batcher.pending",
		metric.WithDescription("Envelopes waiting in batch queues"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("notifyhub.broker.healthy",
		metric.WithDescription("1 when the last broker probe succeeded"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := s.Status()
		o.ObserveInt64(active, int64(st.ActiveConnections))
		o.ObserveInt64(pending, int64(st.PendingEnvelopes))
		var h int64
		if st.BrokerHealthy {
			h = 1
		}
		o.ObserveInt64(healthy, h)
		return nil
	}, active, pending, healthy)
	return err
}

func (m *Metrics) recordDelivery(ctx context.Context, res DeliveryResult, path string) {
	attrs := metric.WithAttributes(attribute.String("path", path))
	if res.Succeeded > 0 {
		m.delivered.Add(ctx, int64(res.Succeeded), attrs)
	}
	if res.Failed > 0 {
		m.deliveryFailures.Add(ctx, int64(res.Failed), attrs)
	}
}

func (m *Metrics) recordClose(ctx context.Context, reason CloseReason) {
	m.closed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}
