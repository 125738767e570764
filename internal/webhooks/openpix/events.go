package openpixwebhook

import (
	"strings"
	"time"

	"github.com/angelmondragon/pixpay-backend/pkg/enums"
)

// EventKind is the closed set of provider events the reconciler understands.
// Anything else parses to EventUnhandled; the raw name stays on Event.
type EventKind int

const (
	EventUnhandled EventKind = iota
	EventChargeCreated
	EventChargeCompleted
	EventChargeExpired
)

const eventPrefix = "OPENPIX:"

// ParseEventKind accepts the prefixed provider names and their bare aliases.
func ParseEventKind(raw string) EventKind {
	name := strings.ToUpper(strings.TrimSpace(raw))
	name = strings.TrimPrefix(name, eventPrefix)
	switch name {
	case "CHARGE_CREATED":
		return EventChargeCreated
	case "CHARGE_COMPLETED":
		return EventChargeCompleted
	case "CHARGE_EXPIRED":
		return EventChargeExpired
	default:
		return EventUnhandled
	}
}

func (k EventKind) String() string {
	switch k {
	case EventChargeCreated:
		return "OPENPIX:CHARGE_CREATED"
	case EventChargeCompleted:
		return "OPENPIX:CHARGE_COMPLETED"
	case EventChargeExpired:
		return "OPENPIX:CHARGE_EXPIRED"
	default:
		return "unhandled"
	}
}

// Action is what the reconciler does for an event kind.
type Action int

const (
	ActionIgnore Action = iota
	ActionAcknowledge
	ActionTransition
)

func (k EventKind) Action() Action {
	switch k {
	case EventChargeCompleted, EventChargeExpired:
		return ActionTransition
	case EventChargeCreated:
		return ActionAcknowledge
	case EventUnhandled:
		return ActionIgnore
	default:
		return ActionIgnore
	}
}

// TargetStatus is the transaction status a transition event moves to.
func (k EventKind) TargetStatus() (enums.TransactionStatus, bool) {
	switch k {
	case EventChargeCompleted:
		return enums.TransactionStatusCompleted, true
	case EventChargeExpired:
		return enums.TransactionStatusExpired, true
	default:
		return "", false
	}
}

// Event is the webhook body posted by OpenPix.
type Event struct {
	Event  string         `json:"event"`
	Charge *ChargePayload `json:"charge"`
	Pix    *PixPayload    `json:"pix,omitempty"`
}

type ChargePayload struct {
	CorrelationID string  `json:"correlationID"`
	Status        string  `json:"status"`
	Value         int64   `json:"value"`
	TransactionID string  `json:"transactionID,omitempty"`
	PaidAt        *string `json:"paidAt,omitempty"`
}

type PixPayload struct {
	EndToEndID string  `json:"endToEndId,omitempty"`
	Time       *string `json:"time,omitempty"`
	Value      int64   `json:"value,omitempty"`
}

func (e *Event) Kind() EventKind {
	if e == nil {
		return EventUnhandled
	}
	return ParseEventKind(e.Event)
}

func (e *Event) CorrelationID() string {
	if e == nil || e.Charge == nil {
		return ""
	}
	return strings.TrimSpace(e.Charge.CorrelationID)
}

// PaidAt prefers the charge timestamp, then the pix timestamp, then received.
func (e *Event) PaidAt(received time.Time) time.Time {
	if e != nil {
		if e.Charge != nil {
			if ts, ok := parseTimestamp(e.Charge.PaidAt); ok {
				return ts
			}
		}
		if e.Pix != nil {
			if ts, ok := parseTimestamp(e.Pix.Time); ok {
				return ts
			}
		}
	}
	return received.UTC()
}

func parseTimestamp(raw *string) (time.Time, bool) {
	if raw == nil {
		return time.Time{}, false
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// OutcomeReason classifies an unsuccessful outcome.
type OutcomeReason string

const (
	ReasonNone                OutcomeReason = ""
	ReasonMalformedEvent      OutcomeReason = "malformed_event"
	ReasonTransactionNotFound OutcomeReason = "transaction_not_found"
	ReasonStoreFailure        OutcomeReason = "store_failure"
)

// Outcome is the webhook response body. The provider always receives HTTP 200.
type Outcome struct {
	Success       bool          `json:"success"`
	Event         string        `json:"event,omitempty"`
	CorrelationID string        `json:"correlationID,omitempty"`
	Error         string        `json:"error,omitempty"`
	Reason        OutcomeReason `json:"-"`
	Applied       bool          `json:"-"`
	Duplicate     bool          `json:"-"`
}

// result is the metrics label for the outcome.
func (o Outcome) result() string {
	switch {
	case o.Duplicate:
		return "duplicate"
	case o.Applied:
		return "applied"
	case o.Reason == ReasonMalformedEvent:
		return "malformed"
	case o.Reason == ReasonTransactionNotFound:
		return "not_found"
	case o.Reason == ReasonStoreFailure:
		return "store_failure"
	case o.Success:
		return "noop"
	default:
		return "failed"
	}
}
