package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/pkg/db"
	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
	"github.com/angelmondragon/pixpay-backend/pkg/lookup"
	"github.com/angelmondragon/pixpay-backend/pkg/pagination"
)

const correlationConstraint = "transactions_correlation_id_key"

// Repository is the only write path for transaction rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	LookupByCorrelationID(ctx context.Context, correlationID string) lookup.Result[models.Transaction]
	FindByCorrelationID(ctx context.Context, correlationID string) (*models.Transaction, bool)
	LookupByID(ctx context.Context, id uuid.UUID) lookup.Result[models.Transaction]
	UpdateStatus(ctx context.Context, correlationID string, status enums.TransactionStatus, paidAt *time.Time) error
	TransitionStatus(ctx context.Context, correlationID string, from, to enums.TransactionStatus, paidAt *time.Time) (bool, error)
	List(ctx context.Context, query ListQuery) (*ListResult, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
	MarkSwept(ctx context.Context, ids []uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListQuery scopes a newest-first listing.
type ListQuery struct {
	UserID *uuid.UUID
	Status *enums.TransactionStatus
	pagination.Params
}

type ListResult = pagination.Page[models.Transaction]

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds a transactions repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// Create inserts txn as a pending inbound PIX record.
func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}
	if strings.TrimSpace(txn.CorrelationID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "correlation id is required")
	}
	txn.Status = enums.TransactionStatusPending
	txn.Type = enums.TransactionTypePixIn
	txn.PaidAt = nil

	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return storeError(pkgerrors.CodeConflict, "create", err).
				WithDetails(map[string]any{"correlation_id": txn.CorrelationID, "constraint": correlationConstraint})
		}
		return storeError(pkgerrors.CodeDependency, "create", err)
	}
	return nil
}

func (r *repository) LookupByCorrelationID(ctx context.Context, correlationID string) lookup.Result[models.Transaction] {
	if strings.TrimSpace(correlationID) == "" {
		return lookup.NotFound[models.Transaction]()
	}
	return r.first(ctx, "correlation_id = ?", correlationID)
}

// FindByCorrelationID treats a failed query the same as a missing row.
func (r *repository) FindByCorrelationID(ctx context.Context, correlationID string) (*models.Transaction, bool) {
	return r.LookupByCorrelationID(ctx, correlationID).Collapse()
}

func (r *repository) LookupByID(ctx context.Context, id uuid.UUID) lookup.Result[models.Transaction] {
	if id == uuid.Nil {
		return lookup.NotFound[models.Transaction]()
	}
	return r.first(ctx, "id = ?", id)
}

func (r *repository) first(ctx context.Context, where string, arg any) lookup.Result[models.Transaction] {
	var txn models.Transaction
	err := r.db.WithContext(ctx).Where(where, arg).Take(&txn).Error
	switch {
	case err == nil:
		return lookup.Found(&txn)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return lookup.NotFound[models.Transaction]()
	default:
		return lookup.Failed[models.Transaction](storeError(pkgerrors.CodeDependency, "find", err))
	}
}

// UpdateStatus writes status unconditionally in one statement. Callers own the
// forward-only check; paid_at keeps its first value once set.
func (r *repository) UpdateStatus(ctx context.Context, correlationID string, status enums.TransactionStatus, paidAt *time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("correlation_id = ?", correlationID).
		Updates(r.statusUpdates(status, paidAt))
	if res.Error != nil {
		return storeError(pkgerrors.CodeDependency, "update", res.Error)
	}
	if res.RowsAffected == 0 {
		return storeError(pkgerrors.CodeNotFound, "update", errNoRows).
			WithDetails(map[string]any{"correlation_id": correlationID})
	}
	return nil
}

// TransitionStatus moves the row from one status to another only if it is
// still in from, reporting whether this call performed the transition.
func (r *repository) TransitionStatus(ctx context.Context, correlationID string, from, to enums.TransactionStatus, paidAt *time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, pkgerrors.Newf(pkgerrors.CodeStateConflict, "transition %s -> %s not allowed", from, to)
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("correlation_id = ? AND status = ?", correlationID, from).
		Updates(r.statusUpdates(to, paidAt))
	if res.Error != nil {
		return false, storeError(pkgerrors.CodeDependency, "transition", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) statusUpdates(status enums.TransactionStatus, paidAt *time.Time) map[string]any {
	updates := map[string]any{
		"status":     status,
		"updated_at": r.now().UTC(),
	}
	if paidAt != nil {
		updates["paid_at"] = gorm.Expr("COALESCE(paid_at, ?)", paidAt.UTC())
	}
	return updates
}

// List returns rows newest first with cursor pagination.
func (r *repository) List(ctx context.Context, query ListQuery) (*ListResult, error) {
	limit := pagination.NormalizeLimit(query.Limit)
	cursor, err := pagination.ParseCursor(query.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	q := r.db.WithContext(ctx).Model(&models.Transaction{})
	if query.UserID != nil {
		q = q.Where("user_id = ?", *query.UserID)
	}
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Transaction
	if err := q.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, storeError(pkgerrors.CodeDependency, "list", err)
	}

	page := pagination.Trim(rows, limit, func(t models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
	return &page, nil
}

// ListPendingBefore returns pending rows created before cutoff. Rows never
// swept come first, then the ones swept longest ago, so charges the provider
// keeps reporting as active cannot starve newer ones.
func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.TransactionStatusPending, cutoff.UTC()).
		Order("last_swept_at IS NOT NULL").
		Order("last_swept_at ASC").
		Order("created_at ASC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, storeError(pkgerrors.CodeDependency, "list pending", err)
	}
	return rows, nil
}

// MarkSwept stamps rows that are still pending with the time they were last
// checked at the provider. updated_at is left alone.
func (r *repository) MarkSwept(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id IN ? AND status = ?", ids, enums.TransactionStatusPending).
		UpdateColumn("last_swept_at", at.UTC()).Error
	if err != nil {
		return storeError(pkgerrors.CodeDependency, "mark swept", err)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Transaction{})
	if res.Error != nil {
		return storeError(pkgerrors.CodeDependency, "delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return storeError(pkgerrors.CodeNotFound, "delete", fmt.Errorf("transaction %s: %w", id, errNoRows))
	}
	return nil
}
