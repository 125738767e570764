package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pixpay-backend/pkg/db/models"
	"github.com/angelmondragon/pixpay-backend/pkg/enums"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
)

var errTxRequired = errors.New("outbox: transaction required")

// DomainEvent is a state change to be published after its transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("outbox: unsupported event type %q", e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("outbox: unsupported aggregate type %q", e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return fmt.Errorf("outbox: %s without aggregate id", e.EventType)
	case e.Data == nil:
		return fmt.Errorf("outbox: %s without data", e.EventType)
	}
	return nil
}

// Service writes events into outbox_events alongside the rows they describe.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit stores events inside tx. Nothing is written unless all of them are
// valid, and the rows share the caller's commit or rollback.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, events ...DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if len(events) == 0 {
		return nil
	}

	rows := make([]models.OutboxEvent, 0, len(events))
	envelopes := make([]PayloadEnvelope, 0, len(events))
	for _, event := range events {
		if err := event.validate(); err != nil {
			return err
		}
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("outbox: encode %s: %w", event.EventType, err)
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = s.now()
		}
		event.OccurredAt = event.OccurredAt.UTC()

		env := newEnvelope(event, data)
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("outbox: encode envelope: %w", err)
		}
		rows = append(rows, models.OutboxEvent{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       json.RawMessage(payload),
		})
		envelopes = append(envelopes, env)
	}

	if err := s.repo.Insert(tx.WithContext(ctx), rows...); err != nil {
		return err
	}
	if s.logg != nil {
		for i, env := range envelopes {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"event_id":     env.EventID,
				"event_type":   env.EventType,
				"aggregate_id": rows[i].AggregateID.String(),
			}), "outbox.event.queued")
		}
	}
	return nil
}
