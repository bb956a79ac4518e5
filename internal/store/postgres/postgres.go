package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migrations at startup.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) GetInvoiceCounter(ctx context.Context, storeID string) (*domain.InvoiceCounter, error) {
	var counter domain.InvoiceCounter
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, prefix, pad, next
		FROM invoice_counters
		WHERE store_id = $1
	`, storeID).Scan(&counter.StoreID, &counter.Prefix, &counter.Pad, &counter.Next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &counter, nil
}

func (s *Store) SaveInvoiceCounter(ctx context.Context, counter domain.InvoiceCounter) error {
	if counter.StoreID == "" || counter.Next < 1 {
		return store.ErrInvalidSale
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_counters (store_id, prefix, pad, next, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (store_id)
		DO UPDATE SET prefix = $2, pad = $3, next = $4, updated_at = now()
	`, counter.StoreID, counter.Prefix, counter.Pad, counter.Next)
	return err
}

func (s *Store) RecordSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.StoreID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	linesJSON, err := json.Marshal(sale.Lines)
	if err != nil {
		return nil, err
	}
	legsJSON, err := json.Marshal(sale.PaymentLegs)
	if err != nil {
		return nil, err
	}
	var financingJSON any
	if sale.Financing != nil {
		raw, err := json.Marshal(sale.Financing)
		if err != nil {
			return nil, err
		}
		financingJSON = raw
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, remote_id, store_id, terminal_id, cashier_name, customer_id,
			invoice_number, total_cents, required_cents, tax_rate_percent,
			payment_method, payment_legs, financing, lines, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, nullIfEmpty(sale.RemoteID), sale.StoreID, sale.TerminalID, sale.CashierName,
		nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.InvoiceNumber), sale.TotalCents,
		sale.RequiredCents, sale.TaxRatePercent, sale.PaymentMethod, legsJSON,
		financingJSON, linesJSON, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateInvoice
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) AttachInvoiceNumber(ctx context.Context, saleID string, invoiceNumber string) error {
	if invoiceNumber == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET invoice_number = $2
		WHERE id = $1
	`, saleID, invoiceNumber)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateInvoice
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, remote_id, store_id, terminal_id, cashier_name, customer_id,
		       invoice_number, total_cents, required_cents, tax_rate_percent,
		       payment_method, payment_legs, financing, lines, created_at
		FROM sales
		WHERE id = $1
	`, id)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListRecentSales(ctx context.Context, storeID string, since time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, remote_id, store_id, terminal_id, cashier_name, customer_id,
		       invoice_number, total_cents, required_cents, tax_rate_percent,
		       payment_method, payment_legs, financing, lines, created_at
		FROM sales
		WHERE store_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, storeID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) EnqueueOfflineSale(ctx context.Context, entry domain.OfflineQueueEntry) error {
	if entry.ID == "" || entry.StoreID == "" || entry.InvoiceNumber == "" {
		return store.ErrInvalidSale
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	requestJSON, err := json.Marshal(entry.Request)
	if err != nil {
		return err
	}
	linesJSON, err := json.Marshal(entry.Lines)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offline_sales (
			id, store_id, terminal_id, cashier_name, invoice_number,
			request, lines, total_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.TerminalID, entry.CashierName,
		entry.InvoiceNumber, requestJSON, linesJSON, entry.TotalCents, entry.CreatedAt)
	return err
}

func (s *Store) ListOfflineSales(ctx context.Context, storeID string, limit int) ([]domain.OfflineQueueEntry, error) {
	if limit < 1 {
		limit = 200
	}

	// Oldest first so replay preserves the order the sales happened in.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, terminal_id, cashier_name, invoice_number,
		       request, lines, total_cents, created_at
		FROM offline_sales
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.OfflineQueueEntry, 0, limit)
	for rows.Next() {
		var entry domain.OfflineQueueEntry
		var requestJSON, linesJSON []byte
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.TerminalID, &entry.CashierName,
			&entry.InvoiceNumber, &requestJSON, &linesJSON, &entry.TotalCents, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(requestJSON, &entry.Request); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(linesJSON, &entry.Lines); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) RemoveOfflineSale(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM offline_sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, price_cents, serialized, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Serialized, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, COALESCE(entity_id, ''), detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidSale
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var remoteID, customerID, invoiceNumber sql.NullString
	var legsJSON, linesJSON []byte
	var financingJSON []byte

	if err := row.Scan(&sale.ID, &remoteID, &sale.StoreID, &sale.TerminalID, &sale.CashierName,
		&customerID, &invoiceNumber, &sale.TotalCents, &sale.RequiredCents, &sale.TaxRatePercent,
		&sale.PaymentMethod, &legsJSON, &financingJSON, &linesJSON, &sale.CreatedAt); err != nil {
		return nil, err
	}

	sale.RemoteID = remoteID.String
	sale.CustomerID = customerID.String
	sale.InvoiceNumber = invoiceNumber.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	if err := json.Unmarshal(legsJSON, &sale.PaymentLegs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &sale.Lines); err != nil {
		return nil, err
	}
	if len(financingJSON) > 0 {
		var plan domain.FinancingPlan
		if err := json.Unmarshal(financingJSON, &plan); err != nil {
			return nil, err
		}
		sale.Financing = &plan
	}

	return &sale, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
