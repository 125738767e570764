// Package payments opens PIX charges at the provider and keeps the local
// transaction record that webhooks later reconcile against.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/internal/fees"
	"github.com/angelmondragon/pixpay-backend/internal/transactions"
	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/lookup"
	"github.com/angelmondragon/pixpay-backend/pkg/metrics"
	"github.com/angelmondragon/pixpay-backend/pkg/openpix"
	"github.com/angelmondragon/pixpay-backend/pkg/outbox"
	"github.com/angelmondragon/pixpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pixpay-backend/pkg/pagination"
)

type chargeCreator interface {
	CreateCharge(ctx context.Context, input openpix.CreateChargeInput) (*openpix.Charge, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// Service exposes the payment lifecycle operations used by the HTTP layer.
type Service interface {
	CreatePayment(ctx context.Context, input CreatePaymentInput) (*PaymentResult, error)
	Get(ctx context.Context, id uuid.UUID) (*PaymentView, error)
	GetPublic(ctx context.Context, ref string) (*PublicPayment, error)
	List(ctx context.Context, input ListInput) (*PaymentList, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListInput filters the dashboard listing.
type ListInput struct {
	UserID *uuid.UUID
	Status *enums.TransactionStatus
	pagination.Params
}

// ServiceParams groups the collaborators built once per process.
type ServiceParams struct {
	Fees              *fees.Calculator
	Provider          chargeCreator
	Repo              transactions.Repository
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
}

type service struct {
	fees     *fees.Calculator
	provider chargeCreator
	repo     transactions.Repository
	tx       txRunner
	outbox   outboxEmitter
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
}

// NewService validates the collaborators and builds the payment service.
func NewService(params ServiceParams) (Service, error) {
	if params.Fees == nil {
		return nil, fmt.Errorf("fee calculator required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("charge provider required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		fees:     params.Fees,
		provider: params.Provider,
		repo:     params.Repo,
		tx:       params.TransactionRunner,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
	}, nil
}

// CreatePayment computes fees, opens the provider charge and records it as
// pending. The provider is called at most once per invocation.
func (s *service) CreatePayment(ctx context.Context, input CreatePaymentInput) (*PaymentResult, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	breakdown := s.fees.Calculate(input.Amount)
	state := SagaFeesComputed

	charge, err := s.provider.CreateCharge(ctx, openpix.CreateChargeInput{
		Amount:      input.Amount,
		Description: input.Description,
		Customer:    input.Customer,
		Metadata:    input.Metadata,
	})
	if uc, ok := openpix.AsUnconfirmedCharge(err); ok {
		return nil, s.unconfirmed(ctx, uc, err)
	}
	if err != nil {
		state = SagaChargeFailed
		s.metrics.ChargeOutcome(state.String())
		s.logg.Error(s.logg.WithField(ctx, "saga_state", state.String()), "payments.create.charge_failed", err)
		return nil, err
	}
	state = SagaChargeCreated
	ctx = s.logg.WithCorrelationID(ctx, charge.CorrelationID)

	txn, err := newTransaction(input, breakdown, charge)
	if err != nil {
		return nil, s.orphaned(ctx, charge, err)
	}
	if err := s.persist(ctx, txn); err != nil {
		return nil, s.orphaned(ctx, charge, err)
	}
	state = SagaPersisted
	s.metrics.ChargeOutcome(state.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID.String(),
		"amount":         breakdown.Amount.StringFixed(2),
		"saga_state":     state.String(),
	}), "payments.create.persisted")

	return &PaymentResult{
		TransactionID:  txn.ID,
		CorrelationID:  charge.CorrelationID,
		Status:         string(txn.Status),
		BRCode:         charge.BRCode,
		QRCodeImage:    charge.QRCodeImage,
		PaymentLinkURL: charge.PaymentLinkURL,
		ExpiresAt:      txn.ExpiresAt,
		Fees:           breakdown,
		AmountDisplay:  fees.FormatBRL(breakdown.Amount),
	}, nil
}

// persist inserts the pending row and its payment_created event atomically.
func (s *service) persist(ctx context.Context, txn *models.Transaction) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCreated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{Source: "payments_api", UserID: txn.UserID},
			Data: payloads.PaymentCreatedEvent{
				TransactionID: txn.ID,
				CorrelationID: txn.CorrelationID,
				Amount:        txn.Amount,
				Fee:           txn.Fee,
				UserID:        txn.UserID,
				ExpiresAt:     txn.ExpiresAt,
			},
		})
	})
}

// orphaned records a charge that exists at the provider without a local row.
// The returned error keeps the store failure in its chain.
func (s *service) orphaned(ctx context.Context, charge *openpix.Charge, cause error) error {
	state := SagaOrphanedCharge
	s.metrics.ChargeOutcome(state.String())
	s.metrics.OrphanedCharge()

	details := map[string]any{
		"correlation_id": charge.CorrelationID,
		"saga_state":     state.String(),
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"saga_state":   state.String(),
		"compensation": orphanCompensation,
	})
	s.logg.Error(logCtx, "payments.create.store_failed", cause)
	s.logg.Warn(logCtx, "payments.create.orphaned_charge")

	code := pkgerrors.CodeDependency
	if typed := pkgerrors.As(cause); typed != nil {
		code = typed.Code()
	}
	if _, ok := transactions.AsStoreError(cause); !ok {
		cause = &transactions.StoreError{Op: "create", Err: cause}
	}
	return pkgerrors.Wrap(code, cause, "charge created but transaction not recorded").WithDetails(details)
}

// unconfirmed records a charge the provider accepted but whose answer was
// unreadable. No row is written because the QR artifacts are unknown.
func (s *service) unconfirmed(ctx context.Context, uc *openpix.UnconfirmedChargeError, cause error) error {
	state := SagaChargeUnconfirmed
	s.metrics.ChargeOutcome(state.String())
	s.metrics.OrphanedCharge()

	logCtx := s.logg.WithFields(s.logg.WithCorrelationID(ctx, uc.CorrelationID), map[string]any{
		"saga_state":      state.String(),
		"provider_status": uc.StatusCode,
		"compensation":    orphanCompensation,
	})
	s.logg.Error(logCtx, "payments.create.charge_unconfirmed", cause)
	s.logg.Warn(logCtx, "payments.create.orphaned_charge")

	return pkgerrors.Wrap(pkgerrors.CodeProvider, cause, "charge outcome unknown at provider").
		WithDetails(map[string]any{
			"correlation_id": uc.CorrelationID,
			"saga_state":     state.String(),
		})
}

func validateCreateInput(input CreatePaymentInput) error {
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must have at most two decimal places")
	}
	if strings.TrimSpace(input.Customer.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	return nil
}

func newTransaction(input CreatePaymentInput, breakdown fees.Breakdown, charge *openpix.Charge) (*models.Transaction, error) {
	txn := &models.Transaction{
		CorrelationID:  charge.CorrelationID,
		Amount:         breakdown.Amount,
		Fee:            breakdown.PlatformFee,
		NetAmount:      breakdown.NetAmount,
		PayerName:      strings.TrimSpace(input.Customer.Name),
		PayerDocument:  optionalString(input.Customer.Document),
		PayerEmail:     optionalString(input.Customer.Email),
		PayerPhone:     optionalString(input.Customer.Phone),
		QRCodeURL:      charge.QRCodeImage,
		QRCodeText:     charge.BRCode,
		PaymentLinkURL: charge.PaymentLinkURL,
		Description:    optionalString(input.Description),
		UserID:         input.UserID,
	}
	if charge.ProviderTransactionID != "" {
		id := charge.ProviderTransactionID
		txn.ProviderTransactionID = &id
	}
	if !charge.ExpiresAt.IsZero() {
		expires := charge.ExpiresAt.UTC()
		txn.ExpiresAt = &expires
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		txn.Metadata = raw
	}
	return txn, nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*PaymentView, error) {
	txn, err := collapse(s.repo.LookupByID(ctx, id))
	if err != nil {
		return nil, err
	}
	view := newPaymentView(txn)
	return &view, nil
}

// GetPublic resolves ref as a transaction id first and a correlation id second.
func (s *service) GetPublic(ctx context.Context, ref string) (*PublicPayment, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}

	var res lookup.Result[models.Transaction]
	if id, err := uuid.Parse(ref); err == nil {
		res = s.repo.LookupByID(ctx, id)
	}
	if res.IsNotFound() {
		res = s.repo.LookupByCorrelationID(ctx, ref)
	}
	txn, err := collapse(res)
	if err != nil {
		return nil, err
	}
	public := newPublicPayment(txn)
	return &public, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*PaymentList, error) {
	result, err := s.repo.List(ctx, transactions.ListQuery{
		UserID: input.UserID,
		Status: input.Status,
		Params: input.Params,
	})
	if err != nil {
		return nil, err
	}
	list := &PaymentList{
		Items:      make([]PaymentView, 0, len(result.Items)),
		NextCursor: result.NextCursor,
	}
	for i := range result.Items {
		list.Items = append(list.Items, newPaymentView(&result.Items[i]))
	}
	return list, nil
}

// Delete removes a record that never settled. Completed payments are kept.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	txn, err := collapse(s.repo.LookupByID(ctx, id))
	if err != nil {
		return err
	}
	if txn.Status == enums.TransactionStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "completed payments cannot be deleted").
			WithDetails(map[string]any{"id": id.String(), "status": string(txn.Status)})
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transaction_id": id.String(),
		"correlation_id": txn.CorrelationID,
		"status":         string(txn.Status),
	}), "payments.deleted")
	return nil
}

func collapse(res lookup.Result[models.Transaction]) (*models.Transaction, error) {
	switch res.Kind() {
	case lookup.KindFound:
		return res.Value(), nil
	case lookup.KindFailed:
		return nil, res.Err()
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
}
