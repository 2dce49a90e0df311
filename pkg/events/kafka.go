package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/segmentio/kafka-go"

	"github.com/ghuser/notifyhub/pkg/logger"
)

const kafkaUUIDHeader = "message_uuid"

// NewKafkaTransport returns a transport over Kafka. groupID must be unique
// per instance to get broadcast delivery. New groups start at the latest
// offset so an instance does not replay the topic's history on first boot.
// Watermill metadata, including trace context, travels as record headers.
func NewKafkaTransport(brokers, groupID string, log logger.Logger) (Transport, error) {
	list := SplitBrokers(brokers)
	if len(list) == 0 {
		return Transport{}, errors.New("events: kafka brokers not configured")
	}
	if groupID == "" {
		return Transport{}, errors.New("events: kafka consumer group not configured")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(list...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}

	return Transport{
		Name:       "kafka",
		Publisher:  &kafkaPublisher{w: w},
		Subscriber: newKafkaSubscriber(list, groupID, log),
		Ping:       kafkaReadyCheck(list),
	}, nil
}

// SplitBrokers parses a comma-separated broker list, dropping blanks.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func kafkaReadyCheck(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

type kafkaPublisher struct {
	w *kafka.Writer
}

func (p *kafkaPublisher) Publish(topic string, msgs ...*message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		records = append(records, toKafkaMessage(topic, msg))
	}
	return p.w.WriteMessages(msgs[0].Context(), records...)
}

func (p *kafkaPublisher) Close() error { return p.w.Close() }

func toKafkaMessage(topic string, msg *message.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Metadata)+1)
	headers = append(headers, kafka.Header{Key: kafkaUUIDHeader, Value: []byte(msg.UUID)})
	for k, v := range msg.Metadata {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Metadata.Get(PartitionKeyMetadata)),
		Value:   msg.Payload,
		Headers: headers,
	}
}

func fromKafkaMessage(m kafka.Message) *message.Message {
	uuid := ""
	md := make(message.Metadata, len(m.Headers))
	for _, h := range m.Headers {
		if h.Key == kafkaUUIDHeader {
			uuid = string(h.Value)
			continue
		}
		md.Set(h.Key, string(h.Value))
	}
	if uuid == "" {
		uuid = watermill.NewUUID()
	}
	msg := message.NewMessage(uuid, m.Value)
	msg.Metadata = md
	return msg
}

// PartitionKeyMetadata is the metadata key used as the Kafka record key.
// Messages sharing a key land on the same partition and keep their order.
const PartitionKeyMetadata = "partition_key"

type kafkaSubscriber struct {
	brokers []string
	groupID string
	log     logger.Logger

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

func newKafkaSubscriber(brokers []string, groupID string, log logger.Logger) *kafkaSubscriber {
	return &kafkaSubscriber{
		brokers: brokers,
		groupID: groupID,
		log:     log.With("component", "events.kafka", "group_id", groupID),
		closing: make(chan struct{}),
	}
}

// Subscribe starts a group reader. A fetch error ends the subscription and
// closes the returned channel; the EventBus resubscribes.
func (s *kafkaSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("kafka subscriber closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		GroupID:     s.groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})

	readCtx, cancel := context.WithCancel(ctx)
	out := make(chan *message.Message)
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-readCtx.Done():
		}
	}()

	go func() {
		defer s.wg.Done()
		defer close(out)
		defer cancel()
		defer reader.Close() //nolint:errcheck

		for {
			m, err := reader.FetchMessage(readCtx)
			if err != nil {
				if readCtx.Err() == nil {
					s.log.Error("kafka fetch failed", "topic", topic, "error", err)
				}
				return
			}
			msg := fromKafkaMessage(m)
			msg.SetContext(readCtx)

			select {
			case out <- msg:
			case <-readCtx.Done():
				return
			}
			select {
			case <-msg.Acked():
			case <-msg.Nacked():
			case <-readCtx.Done():
				return
			}
			if err := reader.CommitMessages(readCtx, m); err != nil && readCtx.Err() == nil {
				s.log.Warn("kafka commit failed", "topic", topic, "offset", m.Offset, "error", err)
			}
		}
	}()
	return out, nil
}

func (s *kafkaSubscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
