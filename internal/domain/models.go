package domain

import "time"

type Product struct {
	ID         string `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Serialized bool   `json:"serialized"`
	Active     bool   `json:"active"`
}

// CartItem is one line as entered at the terminal. Serialized items
// (phones, tablets) carry one IMEI per unit and are expanded to one
// sale line per serial with qty fixed at 1.
type CartItem struct {
	ProductID      string   `json:"product_id"`
	SKU            string   `json:"sku"`
	Name           string   `json:"name"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	Qty            int      `json:"qty"`
	Serials        []string `json:"serials,omitempty"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	Serial         string `json:"serial,omitempty"`
}

type PaymentLeg struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

// FinancingPlan describes an installment sale. When active, the amount
// collected at the terminal is the initial payment, not the full total.
type FinancingPlan struct {
	Provider            string `json:"provider"`
	InitialPaymentCents int64  `json:"initial_payment_cents"`
	InstallmentCents    int64  `json:"installment_cents"`
	Installments        int    `json:"installments"`
}

// CounterState is an opaque snapshot of a store's invoice counter,
// sufficient to restore it exactly on rollback.
type CounterState struct {
	Next int64 `json:"next"`
}

type InvoiceCounter struct {
	StoreID string `json:"store_id"`
	Prefix  string `json:"prefix"`
	Pad     int    `json:"pad"`
	Next    int64  `json:"next"`
}

type SaleOutcome string

const (
	OutcomeCommitted     SaleOutcome = "committed"
	OutcomeQueuedOffline SaleOutcome = "queued_offline"
	OutcomeFailed        SaleOutcome = "failed"
	OutcomeRolledBack    SaleOutcome = "rolled_back"
)

type ProcessSaleRequest struct {
	StoreID        string         `json:"store_id"`
	TerminalID     string         `json:"terminal_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	PaymentMethod  string         `json:"payment_method"`
	PaymentLegs    []PaymentLeg   `json:"payment_legs,omitempty"`
	TaxRatePercent float64        `json:"tax_rate_percent"`
	Notes          string         `json:"notes,omitempty"`
	Financing      *FinancingPlan `json:"financing,omitempty"`
	CartItems      []CartItem     `json:"cart_items"`
}

// ProcessSaleResult is the single answer the terminal gets. Once
// Outcome is OutcomeCommitted it never regresses; enrichment failures
// only append to Warnings.
type ProcessSaleResult struct {
	Outcome           SaleOutcome  `json:"outcome"`
	SaleID            string       `json:"sale_id,omitempty"`
	InvoiceNumber     string       `json:"invoice_number,omitempty"`
	InvoiceReassigned bool         `json:"invoice_reassigned,omitempty"`
	QueueEntryID      string       `json:"queue_entry_id,omitempty"`
	TotalCents        int64        `json:"total_cents"`
	RequiredCents     int64        `json:"required_cents"`
	PaymentLegs       []PaymentLeg `json:"payment_legs,omitempty"`
	StoreName         string       `json:"store_name,omitempty"`
	FailureReason     string       `json:"failure_reason,omitempty"`
	Warnings          []string     `json:"warnings,omitempty"`
	CreatedAt         string       `json:"created_at"`
}

// Sale is the local mirror of a sale the remote side confirmed.
type Sale struct {
	ID             string         `json:"id"`
	RemoteID       string         `json:"remote_id"`
	StoreID        string         `json:"store_id"`
	TerminalID     string         `json:"terminal_id"`
	CashierName    string         `json:"cashier_name"`
	CustomerID     string         `json:"customer_id,omitempty"`
	InvoiceNumber  string         `json:"invoice_number,omitempty"`
	TotalCents     int64          `json:"total_cents"`
	RequiredCents  int64          `json:"required_cents"`
	TaxRatePercent float64        `json:"tax_rate_percent"`
	PaymentMethod  string         `json:"payment_method"`
	PaymentLegs    []PaymentLeg   `json:"payment_legs,omitempty"`
	Financing      *FinancingPlan `json:"financing,omitempty"`
	Lines          []SaleLine     `json:"lines"`
	CreatedAt      time.Time      `json:"created_at"`
}

// OfflineQueueEntry is a sale attempt whose remote outcome is unknown.
// It carries everything needed to replay without touching UI state.
// The reserved invoice number is already spent and travels with it.
type OfflineQueueEntry struct {
	ID            string             `json:"id"`
	StoreID       string             `json:"store_id"`
	TerminalID    string             `json:"terminal_id"`
	CashierName   string             `json:"cashier_name"`
	InvoiceNumber string             `json:"invoice_number"`
	Request       ProcessSaleRequest `json:"request"`
	Lines         []SaleLine         `json:"lines"`
	TotalCents    int64              `json:"total_cents"`
	CreatedAt     time.Time          `json:"created_at"`
}

type OfflineReplayStatus struct {
	EntryID       string `json:"entry_id"`
	Status        string `json:"status"`
	RemoteSaleID  string `json:"remote_sale_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type OfflineReplayResponse struct {
	EnvelopeID string                `json:"envelope_id"`
	Statuses   []OfflineReplayStatus `json:"statuses"`
}

type StoreInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type SaleCommittedEvent struct {
	SaleID        string    `json:"sale_id"`
	StoreID       string    `json:"store_id"`
	TerminalID    string    `json:"terminal_id"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	TotalCents    int64     `json:"total_cents"`
	CommittedAt   time.Time `json:"committed_at"`
}

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
	PaymentMethodMixed    = "mixed"
)
