package remote

import (
	"context"
	"sync"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

// LocalCommitter backs dev/demo mode when no REMOTE_BASE_URL is set:
// it plays the remote system in-process, with stock tracked in memory.
// Same idea as the in-memory store fallback.
type LocalCommitter struct {
	mu       sync.Mutex
	stock    map[string]int
	invoices map[string]string
	stores   map[string]domain.StoreInfo
}

func NewLocalCommitter(stock map[string]int) *LocalCommitter {
	if stock == nil {
		stock = make(map[string]int)
	}
	return &LocalCommitter{
		stock:    stock,
		invoices: make(map[string]string),
		stores: map[string]domain.StoreInfo{
			"main-store": {ID: "main-store", Name: "Main Store"},
		},
	}
}

func (l *LocalCommitter) CommitSale(ctx context.Context, req CommitRequest) (string, error) {
	if len(req.Lines) == 0 {
		return "", &BusinessError{Reason: "sale has no lines"}
	}

	l.mu.Lock()
	for _, line := range req.Lines {
		if have, tracked := l.stock[line.ProductID]; tracked && have < line.Qty {
			l.mu.Unlock()
			return "", &BusinessError{Reason: "insufficient stock for " + line.SKU}
		}
	}
	for _, line := range req.Lines {
		if _, tracked := l.stock[line.ProductID]; tracked {
			l.stock[line.ProductID] -= line.Qty
		}
	}
	l.mu.Unlock()

	return xid.New("rsale"), nil
}

func (l *LocalCommitter) AssignInvoiceNumber(_ context.Context, saleID string, invoiceNumber string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, assigned := range l.invoices {
		if assigned == invoiceNumber {
			return ErrInvoiceConflict
		}
	}
	l.invoices[saleID] = invoiceNumber
	return nil
}

func (l *LocalCommitter) AvailableStock(_ context.Context, productID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	qty, tracked := l.stock[productID]
	if !tracked {
		return 0, store.ErrNotFound
	}
	return qty, nil
}

func (l *LocalCommitter) StoreInfo(_ context.Context, storeID string) (*domain.StoreInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.stores[storeID]
	if !ok {
		info = domain.StoreInfo{ID: storeID, Name: storeID, Address: ""}
	}
	copied := info
	copied.ID = storeID
	return &copied, nil
}
