package openpixwebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/pixpay-backend/pkg/redis"
)

const defaultDeliveryTTL = 72 * time.Hour

var errEmptyDelivery = errors.New("delivery key is required")

// DeliveryGuard claims provider deliveries in redis so a redelivered webhook
// short-circuits before touching the database. The database CAS stays the
// source of truth; losing redis only costs the shortcut.
type DeliveryGuard struct {
	store     redis.DeliveryStore
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

// NewDeliveryGuard keys claims under namespace in the webhook keyspace,
// apart from client Idempotency-Key records. A zero ttl uses 72h.
func NewDeliveryGuard(store redis.DeliveryStore, namespace string, ttl time.Duration) (*DeliveryGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("delivery guard: store is required")
	case strings.TrimSpace(namespace) == "":
		return nil, errors.New("delivery guard: namespace is required")
	case ttl < 0:
		return nil, fmt.Errorf("delivery guard: negative ttl %s", ttl)
	case ttl == 0:
		ttl = defaultDeliveryTTL
	}
	return &DeliveryGuard{store: store, namespace: namespace, ttl: ttl, now: time.Now}, nil
}

// Claim returns true when this caller is the first to see delivery.
func (g *DeliveryGuard) Claim(ctx context.Context, delivery string) (bool, error) {
	if delivery == "" {
		return false, errEmptyDelivery
	}
	claimed, err := g.store.SetNX(ctx, g.key(delivery), g.now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", delivery, err)
	}
	return claimed, nil
}

// Release forgets a claim so the provider's next retry is processed.
func (g *DeliveryGuard) Release(ctx context.Context, delivery string) error {
	if delivery == "" {
		return errEmptyDelivery
	}
	return g.store.Del(ctx, g.key(delivery))
}

func (g *DeliveryGuard) key(delivery string) string {
	return g.store.WebhookKey(g.namespace, delivery)
}
