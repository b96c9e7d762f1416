// Package kafka ships audit events to a Kafka topic. When the brokers keep
// failing, a circuit breaker diverts events to a fallback store until a
// trial write succeeds again.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "cleanpoints/pkg/platform/audit"
	"cleanpoints/pkg/platform/circuit"
	"cleanpoints/pkg/platform/sentinel"
)

const (
	// DefaultAppendTimeout bounds one produce, so an unreachable cluster
	// counts as a failure instead of stalling the caller.
	DefaultAppendTimeout  = 5 * time.Second
	produceRequestTimeout = 3 * time.Second
	dialTimeout           = 10 * time.Second
)

// Producer is the part of *kgo.Client the store uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type Store struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	fallback audit.Store
	logger   *slog.Logger
	timeout  time.Duration
}

type Option func(*Store)

// WithFallback receives events while the breaker is open or a write fails.
func WithFallback(s audit.Store) Option {
	return func(st *Store) {
		st.fallback = s
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(st *Store) {
		st.breaker = b
	}
}

// WithAppendTimeout bounds each produce. Zero keeps DefaultAppendTimeout.
func WithAppendTimeout(d time.Duration) Option {
	return func(st *Store) {
		if d > 0 {
			st.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(st *Store) {
		st.logger = logger
	}
}

// New wraps an existing producer. Use Dial to build one from broker
// addresses.
func New(producer Producer, topic string, opts ...Option) (*Store, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	s := &Store{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("audit-kafka", circuit.WithFailureThreshold(3)),
		logger:   slog.Default(),
		timeout:  DefaultAppendTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dial connects to brokers and makes sure topic exists. Records that cannot
// be delivered within DefaultAppendTimeout fail instead of being retried
// forever.
func Dial(ctx context.Context, brokers []string, topic string, opts ...Option) (*Store, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordDeliveryTimeout(DefaultAppendTimeout),
		kgo.ProduceRequestTimeout(produceRequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := EnsureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}
	return New(client, topic, opts...)
}

// EnsureTopic creates topic with one partition when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	topics, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("listing kafka topics: %w", err)
	}
	if d, ok := topics[topic]; ok && d.Err == nil {
		return nil
	}
	resp, err := adm.CreateTopic(ctx, 1, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("creating kafka topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("creating kafka topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Append writes event keyed by its session id so one session stays ordered
// within a partition.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if !s.breaker.Allow() {
		return s.toFallback(ctx, event, nil)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.SessionID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "category", Value: []byte(event.Category)},
		},
	}

	produceCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.producer.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.logger.WarnContext(ctx, "audit kafka circuit opened", "topic", s.topic, "error", err)
		}
		return s.toFallback(ctx, event, err)
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "audit kafka circuit closed", "topic", s.topic)
	}
	return nil
}

func (s *Store) toFallback(ctx context.Context, event audit.Event, cause error) error {
	if s.fallback == nil {
		if cause == nil {
			cause = fmt.Errorf("audit kafka circuit open: %w", sentinel.ErrUnavailable)
		}
		return fmt.Errorf("producing audit event: %w", cause)
	}
	return s.fallback.Append(ctx, event)
}

func (s *Store) Close() {
	s.producer.Close()
}
