package cache

import (
	"context"
	"time"
)

// LedgerCache holds rendered sale and purchase listings per shop. Entries are
// invalidated whenever a posting changes the shop's ledger.
type LedgerCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

func ListKey(shopID string, kind string) string {
	return "ledger:" + shopID + ":" + kind
}

type NoopLedgerCache struct{}

func (NoopLedgerCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopLedgerCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopLedgerCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
