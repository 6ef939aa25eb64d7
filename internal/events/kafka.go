package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

const defaultKafkaTimeout = 3 * time.Second

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaConfig selects the brokers and topic for lifecycle events.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

// KafkaPublisher writes each event as a JSON message keyed by document ref,
// so events for one document stay ordered within a partition. Writes are
// asynchronous; delivery errors are logged.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Brokers) == 0 || strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	w := &kgo.Writer{
		Addr:         kgo.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
		Async:        true,
		Completion: func(msgs []kgo.Message, err error) {
			if err != nil {
				logger.Warn("kafka event delivery failed", "topic", cfg.Topic, "messages", len(msgs), "error", err)
			}
		},
	}
	logger.Info("kafka event publisher ready", "brokers", strings.Join(cfg.Brokers, ","), "topic", cfg.Topic)
	return newKafkaPublisher(w, cfg.Timeout, logger), nil
}

func newKafkaPublisher(w messageWriter, timeout time.Duration, logger *slog.Logger) *KafkaPublisher {
	if timeout <= 0 {
		timeout = defaultKafkaTimeout
	}
	return &KafkaPublisher{writer: w, timeout: timeout, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("kafka event encode failed", "event", string(e.Type), "error", err)
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	err = p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(e.DocumentRef),
		Value: b,
		Time:  e.OccurredAt,
		Headers: []kgo.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		p.logger.Warn("kafka event publish failed", "event", string(e.Type), "document_ref", e.DocumentRef, "error", err)
	}
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
