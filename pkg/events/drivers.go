package events

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ghuser/notifyhub/pkg/config"
	"github.com/ghuser/notifyhub/pkg/logger"
)

// NewEventBus builds the EventBus selected by cfg.BrokerDriver.
// rdb is required for the redis driver and ignored by the others.
//
// Every driver is configured for broadcast: the subscriber identity
// (consumer group) is derived from cfg.InstanceID so that no two instances
// share a group.
func NewEventBus(cfg *config.Config, log logger.Logger, rdb *redis.Client) (*EventBus, error) {
	var (
		t   Transport
		err error
	)
	switch cfg.BrokerDriver {
	case config.BrokerRedis:
		if rdb == nil {
			return nil, fmt.Errorf("events: redis driver requires a redis client")
		}
		t = NewRedisTransport(rdb, log)
	case config.BrokerPostgres:
		t, err = NewSQLTransport(cfg.DatabaseURL, consumerGroup(cfg), log)
	case config.BrokerKafka:
		t, err = NewKafkaTransport(cfg.KafkaBrokers, consumerGroup(cfg), log)
	case config.BrokerMemory:
		t = NewMemoryTransport(log)
	default:
		return nil, fmt.Errorf("events: unknown broker driver %q", cfg.BrokerDriver)
	}
	if err != nil {
		return nil, err
	}
	return New(t, log, WithRetryInterval(cfg.SubscribeRetryInterval)), nil
}

func consumerGroup(cfg *config.Config) string {
	return cfg.ServiceName + "-" + cfg.InstanceID
}
