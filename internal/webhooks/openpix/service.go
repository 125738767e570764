// Package openpixwebhook reconciles local transactions with OpenPix charge
// events. Status only moves forward and repeated deliveries are no-ops.
package openpixwebhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/internal/transactions"
	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/metrics"
	"github.com/angelmondragon/pixpay-backend/pkg/outbox"
	"github.com/angelmondragon/pixpay-backend/pkg/outbox/payloads"
)

const (
	SourceWebhook = "openpix_webhook"

	errMissingCorrelation = "Missing correlationID"
	errNotFound           = "Transaction not found"
	errUpdateFailed       = "Failed to update transaction"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

type ServiceParams struct {
	Repo              transactions.Repository
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
	Guard             *DeliveryGuard
	Now               func() time.Time
}

type Service struct {
	repo     transactions.Repository
	txRunner txRunner
	outbox   outboxEmitter
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
	guard    *DeliveryGuard
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transactions repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		txRunner: params.TransactionRunner,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		guard:    params.Guard,
		now:      now,
	}, nil
}

// HandleDelivery runs HandleEvent behind the redis guard. Guard failures
// fall through to normal processing; unsuccessful outcomes release the key
// so the provider's retry is processed again.
func (s *Service) HandleDelivery(ctx context.Context, deliveryID string, event *Event) Outcome {
	if s.guard == nil || event == nil {
		return s.HandleEvent(ctx, event)
	}
	key := deliveryKey(deliveryID, event)
	if key == "" {
		return s.HandleEvent(ctx, event)
	}

	claimed, err := s.guard.Claim(ctx, key)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "openpix.webhook.guard_unavailable")
		return s.HandleEvent(ctx, event)
	}
	if !claimed {
		outcome := Outcome{Success: true, Event: event.Event, CorrelationID: event.CorrelationID(), Duplicate: true}
		s.record(ctx, event, outcome)
		return outcome
	}

	outcome := s.HandleEvent(ctx, event)
	if !outcome.Success {
		if err := s.guard.Release(ctx, key); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "openpix.webhook.guard_release_failed")
		}
	}
	return outcome
}

func deliveryKey(deliveryID string, event *Event) string {
	if id := strings.TrimSpace(deliveryID); id != "" {
		return id
	}
	correlationID := event.CorrelationID()
	if correlationID == "" {
		return ""
	}
	return correlationID + ":" + event.Kind().String()
}

// HandleEvent applies one provider event. It never returns an error: the
// outcome is reported in the response body.
func (s *Service) HandleEvent(ctx context.Context, event *Event) Outcome {
	outcome := s.handle(ctx, event)
	s.record(ctx, event, outcome)
	return outcome
}

func (s *Service) handle(ctx context.Context, event *Event) Outcome {
	correlationID := event.CorrelationID()
	if correlationID == "" {
		return Outcome{Success: false, Error: errMissingCorrelation, Reason: ReasonMalformedEvent}
	}
	raw := event.Event
	ctx = s.logg.WithCorrelationID(ctx, correlationID)

	res := s.repo.LookupByCorrelationID(ctx, correlationID)
	if res.IsFailed() {
		s.logg.Error(ctx, "openpix.webhook.lookup_failed", res.Err())
	}
	txn, ok := res.Collapse()
	if !ok {
		return Outcome{Success: false, Error: errNotFound, Reason: ReasonTransactionNotFound}
	}

	kind := event.Kind()
	switch kind.Action() {
	case ActionIgnore:
		s.logg.Info(s.logg.WithField(ctx, "event", raw), "openpix.webhook.unhandled_event")
		return Outcome{Success: true, Event: raw, CorrelationID: correlationID}
	case ActionAcknowledge:
		return Outcome{Success: true, Event: raw, CorrelationID: correlationID}
	case ActionTransition:
	}

	target, _ := kind.TargetStatus()
	if txn.Status.IsTerminal() {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"status": string(txn.Status),
			"event":  raw,
		}), "openpix.webhook.already_terminal")
		return Outcome{Success: true, Event: raw, CorrelationID: correlationID}
	}

	var paidAt *time.Time
	if target == enums.TransactionStatusCompleted {
		ts := event.PaidAt(s.now())
		paidAt = &ts
	}
	applied, err := s.ApplyTransition(ctx, txn, target, paidAt, SourceWebhook)
	if err != nil {
		s.logg.Error(ctx, "openpix.webhook.update_failed", err)
		return Outcome{Success: false, Event: raw, CorrelationID: correlationID, Error: errUpdateFailed, Reason: ReasonStoreFailure}
	}
	return Outcome{Success: true, Event: raw, CorrelationID: correlationID, Applied: applied}
}

// ApplyTransition moves txn from its current status to target and queues the
// matching outbox event in the same database transaction. It reports false
// without error when another writer already moved the row.
func (s *Service) ApplyTransition(ctx context.Context, txn *models.Transaction, target enums.TransactionStatus, paidAt *time.Time, source string) (bool, error) {
	if txn == nil {
		return false, errors.New("transaction required")
	}
	from := txn.Status
	if !from.CanTransitionTo(target) {
		return false, nil
	}
	eventType, ok := enums.OutboxEventForStatus(target)
	if !ok {
		return false, pkgerrors.Newf(pkgerrors.CodeInternal, "no outbox event for status %s", target)
	}

	applied := false
	occurredAt := s.now().UTC()
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).TransitionStatus(ctx, txn.CorrelationID, from, target, paidAt)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{Source: source, UserID: txn.UserID},
			OccurredAt:    occurredAt,
			Data: payloads.PaymentStatusEvent{
				TransactionID:  txn.ID,
				CorrelationID:  txn.CorrelationID,
				PreviousStatus: from,
				Status:         target,
				Amount:         txn.Amount,
				NetAmount:      txn.NetAmount,
				UserID:         txn.UserID,
				PaidAt:         paidAt,
				OccurredAt:     occurredAt,
			},
		})
	})
	if err != nil {
		return false, err
	}

	fields := map[string]any{
		"from":    string(from),
		"to":      string(target),
		"source":  source,
		"applied": applied,
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "transactions.status_transition")
	return applied, nil
}

func (s *Service) record(ctx context.Context, event *Event, outcome Outcome) {
	label, correlationID, raw := "unknown", "", ""
	if event != nil {
		label, correlationID, raw = event.Kind().String(), event.CorrelationID(), event.Event
	}
	s.metrics.WebhookOutcome(label, outcome.result())
	if !outcome.Success {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"correlation_id": correlationID,
			"event":          raw,
			"reason":         string(outcome.Reason),
		}), "openpix.webhook.rejected")
	}
}
