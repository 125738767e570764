package openpix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/pixpay-backend/pkg/config"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/lookup"
)

const (
	chargePath          = "/api/v1/charge"
	defaultHTTPTimeout  = 15 * time.Second
	maxErrorBodyBytes   = 64 << 10
	maxSuccessBodyBytes = 1 << 20
)

var (
	errAppIDRequired   = errors.New("openpix app id is required")
	errBaseURLRequired = errors.New("openpix base url is required")
	errLoggerRequired  = errors.New("openpix logger is required")
)

// HTTPDoer is the subset of *http.Client the provider client needs.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the OpenPix charge API. Construct once per process.
type Client struct {
	http              HTTPDoer
	appID             string
	baseURL           string
	correlationPrefix string
	now               func() time.Time
	logger            *logger.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithClock overrides the time source used for correlation ids.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient validates the credentials and builds the OpenPix wrapper.
func NewClient(ctx context.Context, cfg config.OpenPixConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, errAppIDRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	c := &Client{
		http:              &http.Client{Timeout: timeout},
		appID:             appID,
		baseURL:           baseURL,
		correlationPrefix: cfg.CorrelationPrefix,
		now:               time.Now,
		logger:            logg,
	}
	for _, opt := range opts {
		opt(c)
	}

	logg.Info(ctx, "openpix client initialized")
	return c, nil
}

// CreateCharge opens a charge with a freshly minted correlation id. A non-2xx
// answer means the charge was not created and surfaces as a ProviderError. A
// 2xx whose body cannot be decoded surfaces as an UnconfirmedChargeError
// carrying the correlation id the charge was opened under.
func (c *Client) CreateCharge(ctx context.Context, input CreateChargeInput) (*Charge, error) {
	correlationID := NewCorrelationID(c.correlationPrefix, c.now())
	req := createChargeRequest{
		CorrelationID:  correlationID,
		Value:          ToCents(input.Amount),
		Comment:        input.Description,
		Customer:       customerFromInput(input.Customer),
		AdditionalInfo: additionalInfoFromMetadata(input.Metadata),
	}

	c.log(ctx, "request", "create_charge", map[string]any{
		"correlation_id": correlationID,
		"value":          req.Value,
		"customer_name":  input.Customer.Name,
		"customer_tax":   input.Customer.Document,
		"customer_email": input.Customer.Email,
		"customer_phone": input.Customer.Phone,
	})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode openpix charge: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, c.baseURL+chargePath, body)
	if err != nil {
		c.logError(ctx, "create_charge", err)
		return nil, mapTransportError("create charge", err)
	}
	if status < 200 || status > 299 {
		pe := &ProviderError{Operation: "create charge", StatusCode: status, Body: string(respBody)}
		c.logError(ctx, "create_charge", pe)
		return nil, mapProviderError(pe)
	}

	var envelope chargeEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		uc := &UnconfirmedChargeError{CorrelationID: correlationID, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
		c.logError(ctx, "create_charge", uc)
		return nil, mapUnconfirmedCharge(uc)
	}

	charge := Charge{CorrelationID: correlationID, Value: req.Value}
	if envelope.Charge != nil {
		charge = envelope.Charge.normalize(envelope.BRCode)
		if charge.CorrelationID == "" {
			charge.CorrelationID = correlationID
		}
		if charge.Value == 0 {
			charge.Value = req.Value
		}
	}

	c.log(ctx, "response", "create_charge", map[string]any{
		"correlation_id": charge.CorrelationID,
		"status":         string(charge.Status),
	})
	return &charge, nil
}

// LookupCharge fetches a charge by correlation id, keeping "absent" apart from
// "provider unreachable".
func (c *Client) LookupCharge(ctx context.Context, correlationID string) lookup.Result[Charge] {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return lookup.NotFound[Charge]()
	}
	endpoint := c.baseURL + chargePath + "/" + url.PathEscape(correlationID)

	status, respBody, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.logError(ctx, "get_charge", err)
		return lookup.Failed[Charge](mapTransportError("get charge", err))
	}
	if status == http.StatusNotFound {
		return lookup.NotFound[Charge]()
	}
	if status < 200 || status > 299 {
		pe := &ProviderError{Operation: "get charge", StatusCode: status, Body: string(respBody)}
		c.logError(ctx, "get_charge", pe)
		return lookup.Failed[Charge](mapProviderError(pe))
	}

	var envelope chargeEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return lookup.Failed[Charge](mapTransportError("get charge", fmt.Errorf("decode response: %w", err)))
	}
	if envelope.Charge == nil || envelope.Charge.CorrelationID == "" {
		return lookup.NotFound[Charge]()
	}
	charge := envelope.Charge.normalize(envelope.BRCode)
	return lookup.Found(&charge)
}

// GetCharge collapses LookupCharge: any failure reads as "not found".
func (c *Client) GetCharge(ctx context.Context, correlationID string) (*Charge, bool) {
	return c.LookupCharge(ctx, correlationID).Collapse()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", c.appID)
	req.Header.Set("Accept", "application/json")
	if id := logger.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limit := int64(maxSuccessBodyBytes)
	if resp.StatusCode >= 300 {
		limit = maxErrorBodyBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func customerFromInput(in Customer) *customerPayload {
	if strings.TrimSpace(in.Name) == "" && in.Document == "" && in.Email == "" && in.Phone == "" {
		return nil
	}
	return &customerPayload{
		Name:  in.Name,
		TaxID: in.Document,
		Email: in.Email,
		Phone: in.Phone,
	}
}

func additionalInfoFromMetadata(metadata map[string]string) []additionalInfo {
	if len(metadata) == 0 {
		return nil
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]additionalInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, additionalInfo{Key: k, Value: metadata[k]})
	}
	return out
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	c.logger.Info(c.logger.WithFields(ctx, logFields), fmt.Sprintf("openpix %s", phase))
}

func (c *Client) logError(ctx context.Context, op string, err error) {
	if c == nil || c.logger == nil {
		return
	}
	fields := map[string]any{"operation": op, "phase": "error"}
	if pe, ok := AsProviderError(err); ok {
		fields["provider_status"] = pe.StatusCode
	}
	c.logger.Error(c.logger.WithFields(ctx, fields), fmt.Sprintf("openpix %s", op), err)
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"tax", "document", "email", "phone", "authorization"} {
		if strings.Contains(lower, sensitive) {
			if s, ok := value.(string); ok && s == "" {
				return s
			}
			return "[REDACTED]"
		}
	}
	return value
}
