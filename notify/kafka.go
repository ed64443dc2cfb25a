package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig contains configurable parameters for the Kafka sink
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port)
	Brokers []string

	// Topic receives one message per ledger event
	Topic string

	// MaxAttempts is how many times a block is retried on transient error.
	// Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 5s if zero.
	WriteTimeout time.Duration
}

// MessageWriter is the subset of kafka.Writer the sink needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes committed events as JSON messages. Messages are keyed by
// batch id, or by principal for role changes, so each key stays ordered
// within a partition.
type KafkaSink struct {
	writer       MessageWriter
	maxAttempts  int
	writeTimeout time.Duration
}

// NewKafkaSink constructs a KafkaSink backed by a kafka.Writer
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaSink(w, cfg), nil
}

func newKafkaSink(w MessageWriter, cfg KafkaConfig) *KafkaSink {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaSink{
		writer:       w,
		maxAttempts:  cfg.MaxAttempts,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (k *KafkaSink) Name() string { return "kafka" }

// Deliver writes the events of one block, retrying with exponential backoff
func (k *KafkaSink) Deliver(ctx context.Context, envs []Envelope) error {
	msgs := make([]kafka.Message, 0, len(envs))
	for _, env := range envs {
		value, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   messageKey(env),
			Value: value,
			Time:  env.Event.Timestamp,
		})
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, k.writeTimeout)
		err := k.writer.WriteMessages(attemptCtx, msgs...)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == k.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("produce cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", k.maxAttempts, lastErr)
}

// Close shuts down the underlying writer
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func messageKey(env Envelope) []byte {
	if env.Event.BatchID != 0 {
		return []byte("batch-" + strconv.FormatUint(env.Event.BatchID, 10))
	}
	return []byte("principal-" + string(env.Event.Principal))
}
