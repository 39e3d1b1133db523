package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"simjur/internal/model"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes JSON messages with retries.
type KafkaProducer struct {
	writer      messageWriter
	maxAttempts int
	backoff     time.Duration
}

// NewKafkaProducer creates a producer for topic.
func NewKafkaProducer(brokers []string, topic string, maxAttempts int) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return newKafkaProducer(w, maxAttempts), nil
}

func newKafkaProducer(w messageWriter, maxAttempts int) *KafkaProducer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &KafkaProducer{writer: w, maxAttempts: maxAttempts, backoff: 100 * time.Millisecond}
}

// ProduceJSON marshals v and writes it under key, retrying with exponential
// backoff.
func (p *KafkaProducer) ProduceJSON(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(attemptCtx, kafka.Message{Key: []byte(key), Value: value, Time: time.Now().UTC()})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// KafkaSink publishes notifications to a topic, keyed by proposal.
type KafkaSink struct {
	producer *KafkaProducer
}

func NewKafkaSink(producer *KafkaProducer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, n model.Notification) error {
	return s.producer.ProduceJSON(ctx, strconv.FormatInt(n.ProposalID, 10), n)
}

// pushEnvelope is what the external web-push worker consumes.
type pushEnvelope struct {
	Endpoint string         `json:"endpoint"`
	Keys     model.PushKeys `json:"keys"`
	Message  PushMessage    `json:"message"`
}

// KafkaDeliverer hands push messages to a web-push worker through a topic.
type KafkaDeliverer struct {
	producer *KafkaProducer
}

func NewKafkaDeliverer(producer *KafkaProducer) *KafkaDeliverer {
	return &KafkaDeliverer{producer: producer}
}

func (d *KafkaDeliverer) Deliver(ctx context.Context, sub model.PushSubscription, msg PushMessage) error {
	return d.producer.ProduceJSON(ctx, sub.UserID, pushEnvelope{Endpoint: sub.Endpoint, Keys: sub.Keys, Message: msg})
}

var (
	_ Sink      = (*KafkaSink)(nil)
	_ Deliverer = (*KafkaDeliverer)(nil)
)
