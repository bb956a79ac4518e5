package remote

import (
	"context"
	"errors"
	"fmt"

	"puntoventa/backend/internal/domain"
)

// Committer is the authoritative remote system that persists sales.
// If CommitSale returns an id, the sale is durably persisted on the
// remote side no matter what happens afterwards.
type Committer interface {
	CommitSale(ctx context.Context, req CommitRequest) (string, error)
	AssignInvoiceNumber(ctx context.Context, saleID string, invoiceNumber string) error
	AvailableStock(ctx context.Context, productID string) (int, error)
	StoreInfo(ctx context.Context, storeID string) (*domain.StoreInfo, error)
}

type CommitRequest struct {
	StoreID        string                `json:"store_id"`
	TerminalID     string                `json:"terminal_id"`
	CashierName    string                `json:"cashier_name"`
	CustomerID     string                `json:"customer_id,omitempty"`
	InvoiceNumber  string                `json:"invoice_number"`
	PaymentMethod  string                `json:"payment_method"`
	PaymentLegs    []domain.PaymentLeg   `json:"payment_legs,omitempty"`
	TaxRatePercent float64               `json:"tax_rate_percent"`
	Notes          string                `json:"notes,omitempty"`
	Financing      *domain.FinancingPlan `json:"financing,omitempty"`
	Lines          []domain.SaleLine     `json:"lines"`
	TotalCents     int64                 `json:"total_cents"`
}

// BusinessError is an explicit remote refusal (validation, stock,
// business rules). The reservation must be rolled back and the reason
// surfaced verbatim.
type BusinessError struct {
	Reason string
}

func (e *BusinessError) Error() string {
	return e.Reason
}

// ErrInvoiceConflict is the assignment write being refused because the
// number is already taken.
var ErrInvoiceConflict = errors.New("invoice number conflict")

// errNetwork marks failures where it cannot be determined whether the
// remote side applied the write.
type errNetwork struct {
	cause error
}

func (e *errNetwork) Error() string {
	return fmt.Sprintf("network-uncertain failure: %v", e.cause)
}

func (e *errNetwork) Unwrap() error {
	return e.cause
}

func NetworkError(cause error) error {
	return &errNetwork{cause: cause}
}

// IsNetworkError reports whether the remote outcome is unknowable. Such
// failures must never be treated as plain failure: the sale is deferred
// to the offline queue instead.
func IsNetworkError(err error) bool {
	var ne *errNetwork
	return errors.As(err, &ne)
}

func IsBusinessError(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
