package duplicate

import (
	"context"
	"fmt"
	"log"
	"time"

	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

// totalSlackCents is how far apart two totals can be and still count as
// "the same sale entered twice".
const totalSlackCents = int64(1)

type Match struct {
	IsDuplicate bool
	MatchedSale *domain.Sale
}

// Detector flags a pending sale that looks like an accidental
// re-submission: same customer, near-identical total, committed within
// the recency window. It is a heuristic guard against a cashier
// double-tapping "process", not a uniqueness constraint.
type Detector struct {
	repo   store.Repository
	cache  cache.FingerprintCache
	window time.Duration
}

func New(repo store.Repository, fpCache cache.FingerprintCache, window time.Duration) *Detector {
	if fpCache == nil {
		fpCache = cache.NoopFingerprintCache{}
	}
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &Detector{repo: repo, cache: fpCache, window: window}
}

func (d *Detector) Window() time.Duration {
	return d.window
}

// Check compares the candidate against recently committed sales. A
// cache miss is never an error; the repository scan is authoritative.
func (d *Detector) Check(ctx context.Context, storeID string, customerID string, totalCents int64) (Match, error) {
	key := fingerprint(storeID, customerID, totalCents)

	if saleID, seen, err := d.cache.Seen(ctx, key); err != nil {
		log.Printf("[duplicate] WARN: fingerprint cache lookup failed: %v", err)
	} else if seen {
		sale, err := d.repo.FindSaleByID(ctx, saleID)
		if err == nil {
			return Match{IsDuplicate: true, MatchedSale: sale}, nil
		}
		return Match{IsDuplicate: true}, nil
	}

	since := time.Now().UTC().Add(-d.window)
	recent, err := d.repo.ListRecentSales(ctx, storeID, since, 50)
	if err != nil {
		return Match{}, err
	}

	for i := range recent {
		sale := recent[i]
		if sale.CustomerID != customerID {
			continue
		}
		delta := sale.TotalCents - totalCents
		if delta < 0 {
			delta = -delta
		}
		if delta <= totalSlackCents {
			return Match{IsDuplicate: true, MatchedSale: &sale}, nil
		}
	}

	return Match{}, nil
}

// Record remembers a committed sale's fingerprint for the window.
// Best effort: a cache failure only costs the fast path.
func (d *Detector) Record(ctx context.Context, sale *domain.Sale) {
	if sale == nil {
		return
	}
	key := fingerprint(sale.StoreID, sale.CustomerID, sale.TotalCents)
	if err := d.cache.Remember(ctx, key, sale.ID, d.window); err != nil {
		log.Printf("[duplicate] WARN: fingerprint cache store failed: %v", err)
	}
}

func fingerprint(storeID string, customerID string, totalCents int64) string {
	return fmt.Sprintf("dup:%s:%s:%d", storeID, customerID, totalCents)
}
