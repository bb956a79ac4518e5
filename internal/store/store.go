package store

import (
	"context"
	"errors"
	"time"

	"puntoventa/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidSale          = errors.New("invalid sale")
	ErrSequencerUnavailable = errors.New("invoice sequencer unavailable")
	ErrDuplicateInvoice     = errors.New("invoice number already assigned")
)

type Repository interface {
	GetInvoiceCounter(ctx context.Context, storeID string) (*domain.InvoiceCounter, error)
	SaveInvoiceCounter(ctx context.Context, counter domain.InvoiceCounter) error

	RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	AttachInvoiceNumber(ctx context.Context, saleID string, invoiceNumber string) error
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListRecentSales(ctx context.Context, storeID string, since time.Time, limit int) ([]domain.Sale, error)

	EnqueueOfflineSale(ctx context.Context, entry domain.OfflineQueueEntry) error
	ListOfflineSales(ctx context.Context, storeID string, limit int) ([]domain.OfflineQueueEntry, error)
	RemoveOfflineSale(ctx context.Context, id string) error

	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
