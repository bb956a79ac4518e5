package cache

import (
	"context"
	"time"
)

// FingerprintCache remembers short-lived sale fingerprints so the
// duplicate detector can veto a re-submission without a repository
// scan. Entries expire with the detector's recency window.
type FingerprintCache interface {
	Seen(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key string, saleID string, ttl time.Duration) error
}

type NoopFingerprintCache struct{}

func (NoopFingerprintCache) Seen(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopFingerprintCache) Remember(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}
