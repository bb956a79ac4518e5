package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	countersByStore map[string]domain.InvoiceCounter
	salesByID       map[string]*domain.Sale
	offlineByID     map[string]domain.OfflineQueueEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prod-phone-a14", SKU: "SKU-PHONE-A14", Name: "Telefono Galaxy A14", PriceCents: 1899000, Serialized: true, Active: true},
		{ID: "prod-phone-r12", SKU: "SKU-PHONE-R12", Name: "Telefono Redmi 12", PriceCents: 1599000, Serialized: true, Active: true},
		{ID: "prod-case-uni", SKU: "SKU-CASE-UNI", Name: "Funda Universal", PriceCents: 45000, Active: true},
		{ID: "prod-glass-67", SKU: "SKU-GLASS-67", Name: "Vidrio Templado 6.7", PriceCents: 35000, Active: true},
		{ID: "prod-charger-20w", SKU: "SKU-CHARGER-20W", Name: "Cargador 20W", PriceCents: 98000, Active: true},
		{ID: "prod-cable-usbc", SKU: "SKU-CABLE-USBC", Name: "Cable USB-C 1m", PriceCents: 42000, Active: true},
		{ID: "prod-earbuds-b1", SKU: "SKU-EARBUDS-B1", Name: "Audifonos Bluetooth", PriceCents: 189000, Active: true},
		{ID: "prod-sd-64", SKU: "SKU-SD-64", Name: "Memoria SD 64GB", PriceCents: 76000, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		products: productMap,
		countersByStore: map[string]domain.InvoiceCounter{
			"main-store": {StoreID: "main-store", Prefix: "INV-", Pad: 4, Next: 1},
		},
		salesByID:       make(map[string]*domain.Sale),
		offlineByID:     make(map[string]domain.OfflineQueueEntry),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) GetInvoiceCounter(_ context.Context, storeID string) (*domain.InvoiceCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counter, exists := s.countersByStore[storeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCounter := counter
	return &copyCounter, nil
}

func (s *Store) SaveInvoiceCounter(_ context.Context, counter domain.InvoiceCounter) error {
	if counter.StoreID == "" || counter.Next < 1 {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.countersByStore[counter.StoreID] = counter
	return nil
}

func (s *Store) RecordSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.StoreID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}

	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	return cloneSale(saleCopy), nil
}

func (s *Store) AttachInvoiceNumber(_ context.Context, saleID string, invoiceNumber string) error {
	if invoiceNumber == "" {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range s.salesByID {
		if sale.ID == saleID {
			continue
		}
		if sale.StoreID != "" && sale.InvoiceNumber == invoiceNumber {
			return store.ErrDuplicateInvoice
		}
	}

	sale, exists := s.salesByID[saleID]
	if !exists {
		return store.ErrNotFound
	}
	sale.InvoiceNumber = invoiceNumber
	return nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListRecentSales(_ context.Context, storeID string, since time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if storeID != "" && sale.StoreID != storeID {
			continue
		}
		if sale.CreatedAt.Before(since) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) EnqueueOfflineSale(_ context.Context, entry domain.OfflineQueueEntry) error {
	if entry.ID == "" || entry.StoreID == "" || entry.InvoiceNumber == "" {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.offlineByID[entry.ID] = cloneOfflineEntry(entry)
	return nil
}

func (s *Store) ListOfflineSales(_ context.Context, storeID string, limit int) ([]domain.OfflineQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OfflineQueueEntry, 0, len(s.offlineByID))
	for _, entry := range s.offlineByID {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		result = append(result, cloneOfflineEntry(entry))
	}

	// Oldest first so replay preserves the order the sales happened in.
	slices.SortFunc(result, func(a, b domain.OfflineQueueEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) RemoveOfflineSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.offlineByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.offlineByID, id)
	return nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidSale
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	legs := make([]domain.PaymentLeg, len(src.PaymentLegs))
	copy(legs, src.PaymentLegs)
	dup.PaymentLegs = legs
	if src.Financing != nil {
		plan := *src.Financing
		dup.Financing = &plan
	}
	return &dup
}

func cloneOfflineEntry(src domain.OfflineQueueEntry) domain.OfflineQueueEntry {
	dup := src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	items := make([]domain.CartItem, len(src.Request.CartItems))
	copy(items, src.Request.CartItems)
	dup.Request.CartItems = items
	return dup
}
