package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/pkg/config"
	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/metrics"
	"github.com/angelmondragon/pixpay-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

// publisher is the slice of *pubsub.Publisher the relay needs. With message
// ordering on, a failed publish pauses its key until ResumePublish.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	Metrics          *metrics.OutboxMetrics
}

// Service relays committed outbox rows to Pub/Sub. Each cycle claims a batch
// under row locks, publishes it concurrently with one ordering key per
// transaction, then settles every row before committing.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	s := &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		publisherFactory: params.PublisherFactory,
		metrics:          params.Metrics,
		batchSize:        positiveOr(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval:     defaultPollInterval,
		publishTimeout:   defaultPublishTimeout,
	}
	if ms := params.Config.Outbox.PollIntervalMS; ms > 0 {
		s.pollInterval = time.Duration(ms) * time.Millisecond
	}
	if t := params.Config.Outbox.PublishTimeout; t > 0 {
		s.publishTimeout = t
	}
	if s.publisherFactory == nil {
		s.publisherFactory = func(topic string) publisher {
			p := params.PubSub.Publisher(topic)
			if p == nil {
				return nil
			}
			return gcpPublisher{p}
		}
	}
	return s, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is canceled. Busy cycles run back to back; idle or
// failing cycles back off up to maxIdleBackoff.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", name), "outbox publisher dependency unavailable", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		claimed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publish cycle failed", err)
			wait = nextBackoff(wait, s.pollInterval, maxIdleBackoff)
		case claimed:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}

		if err := sleep(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// delivery tracks one claimed row through publish and settlement.
type delivery struct {
	row         models.OutboxEvent
	resolved    *registry.ResolvedEvent
	orderingKey string
	result      publishResult
	err         error
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		s.metrics.BatchClaimed(len(rows))
		if len(rows) == 0 {
			return nil
		}
		claimed = true

		publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()

		deliveries := make([]*delivery, 0, len(rows))
		for _, row := range rows {
			deliveries = append(deliveries, s.dispatch(publishCtx, row))
		}

		paused := map[string]publisher{}
		for _, d := range deliveries {
			if d.result != nil {
				_, d.err = d.result.Get(publishCtx)
			}
			if err := s.settle(ctx, tx, d, paused); err != nil {
				return err
			}
		}
		for key, pub := range paused {
			pub.ResumePublish(key)
		}
		return nil
	})
	return claimed, err
}

// dispatch resolves the row and hands it to the topic publisher without
// waiting for the broker ack.
func (s *Service) dispatch(ctx context.Context, row models.OutboxEvent) *delivery {
	d := &delivery{row: row}
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		d.err = err
		return d
	}
	d.resolved = resolved
	d.orderingKey = registry.OrderingKey(row)

	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
		return d
	}
	d.result = pub.Publish(ctx, &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: d.orderingKey,
		Attributes:  messageAttributes(row, resolved),
	})
	if d.result == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	return d
}

func messageAttributes(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	return map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"schema_version": fmt.Sprint(resolved.Envelope.Version),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// settle records the outcome of one delivery. Rows behind a failed row with
// the same ordering key are left untouched for the next cycle so their
// attempt budget is not spent on someone else's failure.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, d *delivery, paused map[string]publisher) error {
	row := d.row
	eventType := string(row.EventType)
	logCtx := s.logg.WithFields(ctx, s.fields(d))

	if d.err == nil {
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.metrics.Published(eventType, row.CreatedAt)
		s.logg.Info(logCtx, "outbox event published")
		return nil
	}

	if _, blocked := paused[d.orderingKey]; blocked && d.orderingKey != "" {
		s.metrics.Failed(eventType, metrics.OutboxReasonBlocked)
		s.logg.Debug(logCtx, "outbox event held behind earlier failure")
		return nil
	}
	if d.orderingKey != "" && d.result != nil {
		paused[d.orderingKey] = s.publisherFactory(d.resolved.Descriptor.Topic)
	}

	logCtx = s.logg.WithField(logCtx, "error", d.err.Error())
	reason := classify(d.err)
	if reason == metrics.OutboxReasonRetry && row.AttemptCount+1 >= s.maxAttempts {
		reason = metrics.OutboxReasonMaxAttempts
	}
	s.metrics.Failed(eventType, reason)

	if reason == metrics.OutboxReasonRetry {
		s.logg.Warn(logCtx, "outbox publish failed, will retry")
		if err := s.repo.MarkFailedTx(tx, row.ID, d.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", row.ID, err)
		}
		return nil
	}

	s.logg.Warn(s.logg.WithField(logCtx, "terminal_reason", reason), "outbox event parked")
	if err := s.repo.MarkTerminalTx(tx, row.ID, d.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

// classify separates failures a retry cannot fix from transient ones.
func classify(err error) string {
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return metrics.OutboxReasonNonRetryable
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return metrics.OutboxReasonNonRetryable
	}
	return metrics.OutboxReasonRetry
}

func (s *Service) fields(d *delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      d.row.ID.String(),
		"event_type":     d.row.EventType,
		"aggregate_id":   d.row.AggregateID.String(),
		"attempt_count":  d.row.AttemptCount,
		"max_attempts":   s.maxAttempts,
		"aggregate_type": d.row.AggregateType,
	}
	if d.resolved != nil {
		fields["event_id"] = d.resolved.Envelope.EventID
		fields["topic"] = d.resolved.Descriptor.Topic
	}
	if d.orderingKey != "" {
		fields["ordering_key"] = d.orderingKey
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
