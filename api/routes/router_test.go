package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/api/controllers"
	"github.com/angelmondragon/pixpay-backend/internal/fees"
	"github.com/angelmondragon/pixpay-backend/internal/payments"
	"github.com/angelmondragon/pixpay-backend/internal/transactions"
	openpixwebhook "github.com/angelmondragon/pixpay-backend/internal/webhooks/openpix"
	"github.com/angelmondragon/pixpay-backend/pkg/config"
	"github.com/angelmondragon/pixpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/metrics"
	"github.com/angelmondragon/pixpay-backend/pkg/openpix"
	"github.com/angelmondragon/pixpay-backend/pkg/outbox"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// fakeOpenPix answers charge creation with an ACTIVE charge echoing the
// caller's correlation id.
type fakeOpenPix struct {
	creates atomic.Int32
}

func (f *fakeOpenPix) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/api/v1/charge" {
		http.NotFound(w, r)
		return
	}
	f.creates.Add(1)
	var body struct {
		CorrelationID string `json:"correlationID"`
		Value         int64  `json:"value"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"charge": map[string]any{
			"correlationID":  body.CorrelationID,
			"value":          body.Value,
			"status":         "ACTIVE",
			"brCode":         "00020101021226880014br.gov.bcb.pix",
			"qrCodeImage":    "https://api.openpix.com.br/openpix/charge/brcode/image/" + body.CorrelationID + ".png",
			"paymentLinkUrl": "https://openpix.com.br/pay/" + body.CorrelationID,
			"expiresDate":    "2026-10-19T12:00:00Z",
			"transactionID":  "tx-" + body.CorrelationID,
		},
	})
}

type testServer struct {
	handler  http.Handler
	conn     *gorm.DB
	provider *fakeOpenPix
	store    *memoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	client := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})

	provider := &fakeOpenPix{}
	upstream := httptest.NewServer(provider)
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		App:     config.AppConfig{Env: "test"},
		Service: config.ServiceConfig{Name: "payments-service"},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		OpenPix: config.OpenPixConfig{
			AppID:             "test",
			BaseURL:           upstream.URL,
			HTTPTimeout:       2 * time.Second,
			CorrelationPrefix: "pix",
		},
	}
	openpixClient, err := openpix.NewClient(context.Background(), cfg.OpenPix, logg)
	require.NoError(t, err)

	repo := transactions.NewRepository(client.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.NewRegistry())

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Fees:              fees.NewCalculator(decimal.RequireFromString("0.95"), decimal.RequireFromString("0.50")),
		Provider:          openpixClient,
		Repo:              repo,
		TransactionRunner: client,
		Outbox:            outboxSvc,
		Logger:            logg,
		Metrics:           paymentMetrics,
	})
	require.NoError(t, err)

	webhookSvc, err := openpixwebhook.NewService(openpixwebhook.ServiceParams{
		Repo:              repo,
		TransactionRunner: client,
		Outbox:            outboxSvc,
		Logger:            logg,
		Metrics:           paymentMetrics,
	})
	require.NoError(t, err)

	store := newMemoryStore()
	handler := NewRouter(cfg, logg, map[string]controllers.Pinger{"database": client}, store, paymentsSvc, webhookSvc, http.NotFoundHandler())
	return &testServer{handler: handler, conn: client.DB(), provider: provider, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch v := body.(type) {
		case string:
			reader = strings.NewReader(v)
		default:
			payload, err := json.Marshal(v)
			require.NoError(t, err)
			reader = bytes.NewReader(payload)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) transaction(t *testing.T, correlationID string) models.Transaction {
	t.Helper()
	var txn models.Transaction
	require.NoError(t, s.conn.Where("correlation_id = ?", correlationID).First(&txn).Error)
	return txn
}

type createdPayment struct {
	Data payments.PaymentResult `json:"data"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func paymentRequest(amount string) map[string]any {
	return map[string]any{
		"amount":      json.Number(amount),
		"description": "Pedido 42",
		"customer": map[string]any{
			"name":     "Maria Silva",
			"document": "12345678909",
			"email":    "maria@example.com",
		},
		"metadata": map[string]string{"order": "42"},
	}
}

func (s *testServer) createPayment(t *testing.T) payments.PaymentResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/payments", paymentRequest("100.00"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created createdPayment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created.Data
}

func chargeWebhook(event, correlationID string) map[string]any {
	return map[string]any{
		"event": event,
		"charge": map[string]any{
			"correlationID": correlationID,
			"status":        "COMPLETED",
			"value":         10000,
			"paidAt":        "2026-10-18T15:30:00Z",
		},
	}
}

func decodeOutcome(t *testing.T, rec *httptest.ResponseRecorder) openpixwebhook.Outcome {
	t.Helper()
	var outcome openpixwebhook.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome), rec.Body.String())
	return outcome
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "payments-service", body["service"])

	rec = srv.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreatePaymentStoresFeeBreakdown(t *testing.T) {
	srv := newTestServer(t)

	created := srv.createPayment(t)
	assert.Equal(t, "pending", created.Status)
	assert.NotEmpty(t, created.BRCode)
	assert.True(t, created.Fees.NetAmount.Equal(decimal.RequireFromString("99.05")))

	txn := srv.transaction(t, created.CorrelationID)
	assert.Equal(t, created.TransactionID, txn.ID)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, txn.Fee.Equal(decimal.RequireFromString("0.95")))
	assert.True(t, txn.NetAmount.Equal(decimal.RequireFromString("99.05")))
	assert.Equal(t, enums.TransactionStatusPending, txn.Status)
	assert.Nil(t, txn.PaidAt)
	assert.Equal(t, int32(1), srv.provider.creates.Load())
}

func TestCreatePaymentRejectsInvalidAmount(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/payments", paymentRequest("0"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, int32(0), srv.provider.creates.Load())
}

func TestCompletedWebhookIsAppliedOnce(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createPayment(t)

	first := srv.do(t, http.MethodPost, "/webhooks/openpix", chargeWebhook("OPENPIX:CHARGE_COMPLETED", created.CorrelationID), nil)
	require.Equal(t, http.StatusOK, first.Code)
	outcome := decodeOutcome(t, first)
	assert.True(t, outcome.Success)
	assert.Equal(t, created.CorrelationID, outcome.CorrelationID)

	txn := srv.transaction(t, created.CorrelationID)
	require.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.PaidAt)
	paidAt := *txn.PaidAt

	second := srv.do(t, http.MethodPost, "/webhooks/openpix", chargeWebhook("OPENPIX:CHARGE_COMPLETED", created.CorrelationID), nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.True(t, decodeOutcome(t, second).Success)

	txn = srv.transaction(t, created.CorrelationID)
	assert.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.PaidAt)
	assert.True(t, paidAt.Equal(*txn.PaidAt))

	var completedEvents int64
	require.NoError(t, srv.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPaymentCompleted).
		Count(&completedEvents).Error)
	assert.Equal(t, int64(1), completedEvents)
}

func TestWebhookUnknownCorrelationReportsNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/webhooks/openpix", chargeWebhook("OPENPIX:CHARGE_COMPLETED", "pix_missing"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Transaction not found"}`, rec.Body.String())
}

func TestWebhookMalformedBodyIsAcknowledged(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/webhooks/openpix", "{not-json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	outcome := decodeOutcome(t, rec)
	assert.False(t, outcome.Success)
	assert.Equal(t, "Missing correlationID", outcome.Error)
}

func TestPublicPaymentHidesPayerData(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createPayment(t)

	rec := srv.do(t, http.MethodGet, "/payments/public/"+created.CorrelationID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "maria@example.com")
	assert.NotContains(t, rec.Body.String(), "12345678909")

	var body struct {
		Data payments.PublicPayment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, created.CorrelationID, body.Data.CorrelationID)
	assert.False(t, body.Data.Paid)

	rec = srv.do(t, http.MethodGet, "/payments/public/"+created.TransactionID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/payments/public/pix_unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPaymentRejectsBadID(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/payments/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	created := srv.createPayment(t)
	rec = srv.do(t, http.MethodGet, "/payments/"+created.TransactionID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data payments.PaymentView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Maria Silva", body.Data.PayerName)
}

func TestDeleteRefusesCompletedPayments(t *testing.T) {
	srv := newTestServer(t)
	pending := srv.createPayment(t)
	paid := srv.createPayment(t)

	rec := srv.do(t, http.MethodPost, "/webhooks/openpix", chargeWebhook("OPENPIX:CHARGE_COMPLETED", paid.CorrelationID), nil)
	require.True(t, decodeOutcome(t, rec).Success)

	rec = srv.do(t, http.MethodDelete, "/payments/"+paid.TransactionID.String(), nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodDelete, "/payments/"+pending.TransactionID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/payments/"+pending.TransactionID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPaymentsFiltersByStatus(t *testing.T) {
	srv := newTestServer(t)
	srv.createPayment(t)
	paid := srv.createPayment(t)
	rec := srv.do(t, http.MethodPost, "/webhooks/openpix", chargeWebhook("OPENPIX:CHARGE_COMPLETED", paid.CorrelationID), nil)
	require.True(t, decodeOutcome(t, rec).Success)

	rec = srv.do(t, http.MethodGet, "/payments?status=completed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data payments.PaymentList `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.Items, 1)
	assert.Equal(t, paid.CorrelationID, body.Data.Items[0].CorrelationID)

	rec = srv.do(t, http.MethodGet, "/payments?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePaymentReplaysIdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "order-42"}

	first := srv.do(t, http.MethodPost, "/payments", paymentRequest("100.00"), headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := srv.do(t, http.MethodPost, "/payments", paymentRequest("100.00"), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), srv.provider.creates.Load())

	conflict := srv.do(t, http.MethodPost, "/payments", paymentRequest("55.00"), headers)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, int32(1), srv.provider.creates.Load())
}

func TestUserHeaderMustBeUUID(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/payments", nil, map[string]string{"X-User-Id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
