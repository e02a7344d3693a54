package vapiwebhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shipvox/shipvox-backend/pkg/redis"
	"github.com/shipvox/shipvox-backend/pkg/vapi"
)

// IdempotencyGuard dedups webhook deliveries. Vapi messages carry no global
// event id, so the key is derived from the call id, message type, and the
// message timestamp.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// NewIdempotencyGuard builds a redis-backed webhook dedup guard.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// EventKey derives the dedup key material for one webhook event.
func EventKey(event *vapi.WebhookEvent) string {
	if event == nil {
		return ""
	}
	callID := event.CallID()
	if callID == "" {
		return ""
	}
	sum := sha256.Sum256(event.Raw)
	return fmt.Sprintf("%s:%s:%s", callID, event.Message.Type, hex.EncodeToString(sum[:8]))
}

// CheckAndMark returns true when the event was already processed.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventKey string) (bool, error) {
	if eventKey == "" {
		return false, errors.New("event key is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventKey)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete removes the mark so a failed event can be retried.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventKey string) error {
	if eventKey == "" {
		return errors.New("event key is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventKey)
	return g.store.Del(ctx, key)
}
