package events

import (
	"context"

	"puntoventa/backend/internal/domain"
)

// Publisher fans committed sales out to interested consumers (receipt
// printers, reporting). Publication is enrichment: a failure is a
// warning on an already-sealed success, never a rollback.
type Publisher interface {
	PublishSaleCommitted(ctx context.Context, event domain.SaleCommittedEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSaleCommitted(_ context.Context, _ domain.SaleCommittedEvent) error {
	return nil
}
