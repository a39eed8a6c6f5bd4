// Package events publishes screening verdicts to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher emits keyed JSON events.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

var publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "payguard",
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Verdict events handed to the broker, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(publishedTotal)
}

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes events to a Kafka topic, keyed so that all verdicts
// for one receiver land on the same partition.
type KafkaPublisher struct {
	client producer
	closer func()
	pinger func(context.Context) error
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects to brokers and produces to topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	p := newKafkaPublisher(cl, topic, logger)
	p.closer = cl.Close
	p.pinger = cl.Ping
	return p, nil
}

func newKafkaPublisher(client producer, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}
}

// Publish marshals payload as JSON and waits for the broker to acknowledge it.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		publishedTotal.WithLabelValues("marshal_error").Inc()
		return fmt.Errorf("kafka publish: marshal: %w", err)
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(key),
		Value:     data,
		Timestamp: time.Now(),
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		publishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	publishedTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("published verdict event", "topic", p.topic, "key", key)
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if p.pinger == nil {
		return nil
	}
	return p.pinger(ctx)
}

// Close flushes and closes the underlying client.
func (p *KafkaPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}
