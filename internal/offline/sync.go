package offline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/remote"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

// Synchronizer replays queued entries once connectivity returns. Each
// entry already carries its spent invoice number, so replay never
// allocates: it re-submits the commit with that number and removes the
// entry only on a confirmed outcome. A still-unreachable remote leaves
// the entry queued for the next pass.
type Synchronizer struct {
	queue     *Queue
	committer remote.Committer
	repo      store.Repository
}

func NewSynchronizer(queue *Queue, committer remote.Committer, repo store.Repository) *Synchronizer {
	return &Synchronizer{queue: queue, committer: committer, repo: repo}
}

func (s *Synchronizer) Replay(ctx context.Context, storeID string, limit int) (domain.OfflineReplayResponse, error) {
	entries, err := s.queue.Entries(ctx, storeID, limit)
	if err != nil {
		return domain.OfflineReplayResponse{}, err
	}

	resp := domain.OfflineReplayResponse{
		EnvelopeID: uuid.NewString(),
		Statuses:   make([]domain.OfflineReplayStatus, 0, len(entries)),
	}

	for _, entry := range entries {
		status := s.replayEntry(ctx, entry)
		resp.Statuses = append(resp.Statuses, status)
	}

	return resp, nil
}

func (s *Synchronizer) replayEntry(ctx context.Context, entry domain.OfflineQueueEntry) domain.OfflineReplayStatus {
	status := domain.OfflineReplayStatus{
		EntryID:       entry.ID,
		InvoiceNumber: entry.InvoiceNumber,
	}

	saleID, err := s.committer.CommitSale(ctx, remote.CommitRequest{
		StoreID:        entry.StoreID,
		TerminalID:     entry.TerminalID,
		CashierName:    entry.CashierName,
		CustomerID:     entry.Request.CustomerID,
		InvoiceNumber:  entry.InvoiceNumber,
		PaymentMethod:  entry.Request.PaymentMethod,
		PaymentLegs:    entry.Request.PaymentLegs,
		TaxRatePercent: entry.Request.TaxRatePercent,
		Notes:          entry.Request.Notes,
		Financing:      entry.Request.Financing,
		Lines:          entry.Lines,
		TotalCents:     entry.TotalCents,
	})

	switch {
	case err == nil:
		status.Status = "synced"
		status.RemoteSaleID = saleID
		s.finishEntry(ctx, entry, saleID)
	case remote.IsBusinessError(err):
		// The remote refused outright, so the original send can never
		// have been applied. The entry is dead; removing it is safe.
		status.Status = "rejected"
		status.Reason = err.Error()
		if removeErr := s.queue.Remove(ctx, entry.ID); removeErr != nil {
			log.Printf("[offline-sync] WARN: failed to remove rejected entry %s: %v", entry.ID, removeErr)
		}
	default:
		status.Status = "still_pending"
		status.Reason = err.Error()
	}

	return status
}

func (s *Synchronizer) finishEntry(ctx context.Context, entry domain.OfflineQueueEntry, remoteSaleID string) {
	if err := s.committer.AssignInvoiceNumber(ctx, remoteSaleID, entry.InvoiceNumber); err != nil {
		log.Printf("[offline-sync] WARN: invoice %s not attached to replayed sale %s: %v",
			entry.InvoiceNumber, remoteSaleID, err)
	}

	_, err := s.repo.RecordSale(ctx, domain.Sale{
		ID:             xid.New("sale"),
		RemoteID:       remoteSaleID,
		StoreID:        entry.StoreID,
		TerminalID:     entry.TerminalID,
		CashierName:    entry.CashierName,
		CustomerID:     entry.Request.CustomerID,
		InvoiceNumber:  entry.InvoiceNumber,
		TotalCents:     entry.TotalCents,
		TaxRatePercent: entry.Request.TaxRatePercent,
		PaymentMethod:  entry.Request.PaymentMethod,
		PaymentLegs:    entry.Request.PaymentLegs,
		Financing:      entry.Request.Financing,
		Lines:          entry.Lines,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[offline-sync] WARN: failed to mirror replayed sale %s locally: %v", remoteSaleID, err)
	}

	if err := s.queue.Remove(ctx, entry.ID); err != nil {
		log.Printf("[offline-sync] WARN: failed to remove synced entry %s: %v", entry.ID, err)
	}
}
