package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pixpay-backend/api/middleware"
	"github.com/angelmondragon/pixpay-backend/api/responses"
	"github.com/angelmondragon/pixpay-backend/api/validators"
	"github.com/angelmondragon/pixpay-backend/internal/payments"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/openpix"
	"github.com/angelmondragon/pixpay-backend/pkg/pagination"
)

const maxFieldLen = 255

type customerRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Document string `json:"document" validate:"omitempty,taxid"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

type paymentCreateRequest struct {
	Amount      decimal.Decimal   `json:"amount" validate:"brl"`
	Description string            `json:"description" validate:"max=500"`
	Customer    customerRequest   `json:"customer"`
	Metadata    map[string]string `json:"metadata" validate:"omitempty,max=20"`
}

func (r paymentCreateRequest) toInput(userID *uuid.UUID) payments.CreatePaymentInput {
	return payments.CreatePaymentInput{
		Amount:      r.Amount,
		Description: validators.SanitizeString(r.Description, 500),
		Customer: openpix.Customer{
			Name:     validators.SanitizeString(r.Customer.Name, maxFieldLen),
			Document: validators.DigitsOnly(r.Customer.Document),
			Email:    validators.SanitizeString(r.Customer.Email, maxFieldLen),
			Phone:    validators.SanitizeString(r.Customer.Phone, 32),
		},
		Metadata: validators.SanitizeMetadata(r.Metadata, maxFieldLen),
		UserID:   userID,
	}
}

// PaymentCreate opens a PIX charge and records it as pending.
func PaymentCreate(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var payload paymentCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreatePayment(r.Context(), payload.toInput(userID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// PaymentList returns the caller's payments, newest first.
func PaymentList(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := validators.ParseQueryEnum(r, "status", enums.ParseTransactionStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := payments.ListInput{
			UserID: userID,
			Status: status,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}

		list, err := svc.List(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, list)
	}
}

// PaymentGet returns the full dashboard view of one payment.
func PaymentGet(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		id, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// PaymentGetPublic serves the payer page by transaction or correlation id.
func PaymentGetPublic(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		public, err := svc.GetPublic(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, public)
	}
}

// PaymentDelete removes an unsettled payment record.
func PaymentDelete(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		id, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"id": id, "deleted": true})
	}
}

func paymentIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
	}
	return id, nil
}

func userIDFromRequest(r *http.Request) (*uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return &id, nil
}
