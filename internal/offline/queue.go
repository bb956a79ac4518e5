package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

// Queue is the durable parking lot for sales whose remote outcome is
// unknown. From the orchestrator's side it is append-only; only the
// synchronizer claims and removes entries.
type Queue struct {
	repo store.Repository
}

func NewQueue(repo store.Repository) *Queue {
	return &Queue{repo: repo}
}

// Enqueue persists the entry and returns the updated queue snapshot.
// If persistence itself fails the error is fatal for the attempt: the
// cashier was told the sale is pending, so losing the entry would lose
// the sale.
func (q *Queue) Enqueue(ctx context.Context, entry domain.OfflineQueueEntry) ([]domain.OfflineQueueEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.StoreID == "" || entry.InvoiceNumber == "" {
		return nil, store.ErrInvalidSale
	}

	if err := q.repo.EnqueueOfflineSale(ctx, entry); err != nil {
		return nil, fmt.Errorf("offline queue persistence failed: %w", err)
	}

	return q.repo.ListOfflineSales(ctx, entry.StoreID, 0)
}

func (q *Queue) Entries(ctx context.Context, storeID string, limit int) ([]domain.OfflineQueueEntry, error) {
	return q.repo.ListOfflineSales(ctx, storeID, limit)
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.repo.RemoveOfflineSale(ctx, id)
}
