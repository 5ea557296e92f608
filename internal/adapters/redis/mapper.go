package redis

import (
	"context"
	"log/slog"
	"time"
)

const mappingOperation = "merchant_trade_no"

// DefaultMappingTTL keeps a mapping long enough for delayed callbacks.
const DefaultMappingTTL = 24 * time.Hour

// IdempotencyMapper implements ports.IdempotencyMapper on a Cache.
type IdempotencyMapper struct {
	cache Cache
}

// NewIdempotencyMapper creates a mapper.
func NewIdempotencyMapper(cache Cache) *IdempotencyMapper {
	return &IdempotencyMapper{cache: cache}
}

// Put stores attemptID -> orderNumber. A non-positive ttl uses DefaultMappingTTL.
func (m *IdempotencyMapper) Put(ctx context.Context, attemptID, orderNumber string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultMappingTTL
	}
	return m.cache.Set(ctx, m.cache.GenerateKey(mappingOperation, attemptID), orderNumber, ttl)
}

// Resolve returns the mapped order number. A missing mapping, or a Redis
// failure, falls back to the attempt id itself so the callback can still be
// acknowledged.
func (m *IdempotencyMapper) Resolve(ctx context.Context, attemptID string) (string, bool) {
	orderNumber, err := m.cache.Get(ctx, m.cache.GenerateKey(mappingOperation, attemptID))
	if err != nil {
		slog.WarnContext(ctx, "attempt mapping lookup failed, using attempt id", "attempt_id", attemptID, "error", err)
		return attemptID, false
	}
	if orderNumber == "" {
		slog.InfoContext(ctx, "no attempt mapping, using attempt id", "attempt_id", attemptID)
		return attemptID, false
	}
	return orderNumber, true
}
