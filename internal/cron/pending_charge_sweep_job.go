package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/lookup"
	"github.com/angelmondragon/pixpay-backend/pkg/metrics"
	"github.com/angelmondragon/pixpay-backend/pkg/openpix"
)

const (
	PendingChargeSweepJobName = "pending-charge-sweep"
	SourcePendingSweep        = "pending_sweep"

	defaultPendingAge     = 30 * time.Minute
	defaultSweepBatchSize = 100
)

type pendingStore interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
	MarkSwept(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type chargeLookup interface {
	LookupCharge(ctx context.Context, correlationID string) lookup.Result[openpix.Charge]
}

type transitionApplier interface {
	ApplyTransition(ctx context.Context, txn *models.Transaction, target enums.TransactionStatus, paidAt *time.Time, source string) (bool, error)
}

// PendingChargeSweepJobParams configures the stale pending charge sweep.
type PendingChargeSweepJobParams struct {
	Logger     *logger.Logger
	Repository pendingStore
	Provider   chargeLookup
	Reconciler transitionApplier
	Metrics    *metrics.CronJobMetrics
	PendingAge time.Duration
	BatchSize  int
}

// NewPendingChargeSweepJob re-polls the provider for pending charges whose
// webhook never arrived and applies what it reports through the reconciler.
func NewPendingChargeSweepJob(params PendingChargeSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("charge provider required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	age := params.PendingAge
	if age <= 0 {
		age = defaultPendingAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &pendingChargeSweepJob{
		logg:       params.Logger,
		repo:       params.Repository,
		provider:   params.Provider,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		pendingAge: age,
		batchSize:  batch,
		now:        time.Now,
	}, nil
}

type pendingChargeSweepJob struct {
	logg       *logger.Logger
	repo       pendingStore
	provider   chargeLookup
	reconciler transitionApplier
	metrics    *metrics.CronJobMetrics
	pendingAge time.Duration
	batchSize  int
	now        func() time.Time
}

type sweepCounts struct {
	completed int
	expired   int
	active    int
	skipped   int
	lost      int
}

func (j *pendingChargeSweepJob) Name() string { return PendingChargeSweepJobName }

// Run fails only when a transition or the sweep cursor could not be written.
// Provider lookups that fail are left for the next cycle. Every scanned row is
// stamped as swept so the next batch moves past rows still active upstream.
func (j *pendingChargeSweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.pendingAge)
	rows, err := j.repo.ListPendingBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}

	var (
		errs    error
		counts  sweepCounts
		scanned = make([]uuid.UUID, 0, len(rows))
	)
	for i := range rows {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		scanned = append(scanned, rows[i].ID)
		if err := j.reconcile(ctx, &rows[i], &counts); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if err := j.repo.MarkSwept(context.WithoutCancel(ctx), scanned, now); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("mark swept: %w", err))
	}

	j.metrics.AddItems(j.Name(), "completed", counts.completed)
	j.metrics.AddItems(j.Name(), "expired", counts.expired)
	j.metrics.AddItems(j.Name(), "active", counts.active)
	j.metrics.AddItems(j.Name(), "skipped", counts.skipped)
	j.metrics.AddItems(j.Name(), "lost_race", counts.lost)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"scanned":   len(scanned),
		"completed": counts.completed,
		"expired":   counts.expired,
		"active":    counts.active,
		"skipped":   counts.skipped,
		"lost_race": counts.lost,
	}), "pending charge sweep complete")
	return errs
}

func (j *pendingChargeSweepJob) reconcile(ctx context.Context, txn *models.Transaction, counts *sweepCounts) error {
	ctx = j.logg.WithCorrelationID(ctx, txn.CorrelationID)
	res := j.provider.LookupCharge(ctx, txn.CorrelationID)
	switch res.Kind() {
	case lookup.KindFailed:
		counts.skipped++
		j.logg.Warn(j.logg.WithField(ctx, "error", res.Err().Error()), "pending sweep lookup failed")
		return nil
	case lookup.KindNotFound:
		counts.skipped++
		j.logg.Warn(ctx, "pending sweep charge missing at provider")
		return nil
	case lookup.KindFound:
	}

	charge := res.Value()
	var (
		target enums.TransactionStatus
		paidAt *time.Time
	)
	switch charge.Status {
	case openpix.ChargeStatusCompleted:
		target = enums.TransactionStatusCompleted
		ts := j.now().UTC()
		if charge.PaidAt != nil {
			ts = charge.PaidAt.UTC()
		}
		paidAt = &ts
	case openpix.ChargeStatusExpired:
		target = enums.TransactionStatusExpired
	default:
		counts.active++
		return nil
	}

	applied, err := j.reconciler.ApplyTransition(ctx, txn, target, paidAt, SourcePendingSweep)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", txn.CorrelationID, target, err)
	}
	if !applied {
		counts.lost++
		return nil
	}
	if target == enums.TransactionStatusCompleted {
		counts.completed++
	} else {
		counts.expired++
	}
	return nil
}
