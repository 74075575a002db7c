package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LedgerCore/internal/observability"
)

// SubjectConfig maps a NATS subject to its JetStream stream and durable
// consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: SubjectBatchSubmit, ConsumerName: "ledger-batch-submit", StreamName: "LEDGER_BATCHES"},
		{Subject: SubjectBatchConfirm, ConsumerName: "ledger-batch-confirm", StreamName: "LEDGER_BATCHES"},
		{Subject: SubjectBatchExecute, ConsumerName: "ledger-batch-execute", StreamName: "LEDGER_BATCHES"},
		{Subject: SubjectTradeOpen, ConsumerName: "ledger-trade-open", StreamName: "LEDGER_TRADES"},
		{Subject: SubjectTradeClose, ConsumerName: "ledger-trade-close", StreamName: "LEDGER_TRADES"},
		{Subject: SubjectLiquidate, ConsumerName: "ledger-liquidate", StreamName: "LEDGER_RISK"},
		{Subject: SubjectADL, ConsumerName: "ledger-adl", StreamName: "LEDGER_RISK"},
		{Subject: SubjectFunding, ConsumerName: "ledger-funding", StreamName: "LEDGER_FUNDING"},
		{Subject: AdminSubjectPrefix + ">", ConsumerName: "ledger-admin", StreamName: "LEDGER_ADMIN"},
	}
}

// Subscriber consumes ledger subjects from JetStream and feeds the
// dispatcher. Rejected messages (ErrRejected) are terminated so they are
// not redelivered; transient failures are NAKed for redelivery.
type Subscriber struct {
	js         jetstream.JetStream
	dispatcher *Dispatcher
	log        zerolog.Logger
	metrics    *observability.Metrics
	consumers  []jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, dispatcher *Dispatcher, log zerolog.Logger, metrics *observability.Metrics) *Subscriber {
	return &Subscriber{
		js:         js,
		dispatcher: dispatcher,
		log:        log,
		metrics:    metrics,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerCtx, err := consumer.Consume(func(msg jetstream.Msg) {
			s.handle(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, consumerCtx)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg jetstream.Msg) {
	subject := msg.Subject()
	err := s.dispatcher.Dispatch(ctx, subject, msg.Data())
	switch {
	case err == nil:
		msg.Ack()
		s.count(subject, "ok")
	case errors.Is(err, ErrRejected):
		// Poison or protocol-final: drop, never redeliver.
		msg.Term()
		s.count(subject, "rejected")
		s.log.Warn().Err(err).Str("subject", subject).Msg("message rejected")
	default:
		msg.Nak()
		s.count(subject, "retry")
		s.log.Error().Err(err).Str("subject", subject).Msg("message failed, will redeliver")
	}
}

func (s *Subscriber) count(subject, result string) {
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues(subject, result).Inc()
	}
}

// Drain stops all consumers.
func (s *Subscriber) Drain() {
	for _, c := range s.consumers {
		c.Stop()
	}
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{Name: "LEDGER_BATCHES", Subjects: []string{"ledger.batch.>"}},
		{Name: "LEDGER_TRADES", Subjects: []string{"ledger.trade.>"}},
		{Name: "LEDGER_RISK", Subjects: []string{"ledger.risk.>"}},
		{Name: "LEDGER_FUNDING", Subjects: []string{"ledger.funding.>"}},
		{Name: "LEDGER_ADMIN", Subjects: []string{"ledger.admin.>"}},
	}
	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}
