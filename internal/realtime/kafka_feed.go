package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/moto-driver/internal/offer"
)

// KafkaFeed consumes offers from a Kafka topic. Each driver uses its own
// consumer group so every driver sees every offer.
type KafkaFeed struct {
	Brokers []string
	GroupID string
	Logger  *slog.Logger
}

func NewKafkaFeed(brokers []string, driverID string, logger *slog.Logger) *KafkaFeed {
	return &KafkaFeed{Brokers: brokers, GroupID: "moto-driver-" + driverID, Logger: logger}
}

func (f *KafkaFeed) Subscribe(ctx context.Context, topic string) (offer.Subscription, error) {
	if len(f.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	// the reader connects lazily, so dial a broker once to fail fast
	conn, err := kafka.DialContext(ctx, "tcp", f.Brokers[0])
	if err != nil {
		return nil, err
	}
	_ = conn.Close()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     f.Brokers,
		Topic:       topic,
		GroupID:     f.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	readCtx, cancel := context.WithCancel(context.Background())
	s := newSubscription(16, func() error {
		cancel()
		return r.Close()
	})
	go f.read(readCtx, r, s)
	return s, nil
}

func (f *KafkaFeed) read(ctx context.Context, r *kafka.Reader, s *subscription) {
	defer close(s.ch)
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		if !s.deliver(m.Value) {
			return
		}
	}
}
