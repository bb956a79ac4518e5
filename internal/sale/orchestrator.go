package sale

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/duplicate"
	"puntoventa/backend/internal/events"
	"puntoventa/backend/internal/offline"
	"puntoventa/backend/internal/payment"
	"puntoventa/backend/internal/remote"
	"puntoventa/backend/internal/sequencer"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ErrAttemptInProgress is returned while another sale attempt holds the
// same store/terminal slot. One terminal runs one attempt at a time so
// a double-tap on the charge button cannot produce two sales.
var ErrAttemptInProgress = errors.New("a sale attempt is already in progress for this terminal")

// Orchestrator drives one sale attempt through
// validate → duplicate check → reserve → commit → enrich-or-recover.
//
// The remote commit is authoritative: once it returns a sale id the
// outcome is sealed as committed, and everything after (invoice
// reconciliation, store metadata, event publication) can only add
// information or warnings, never turn the success back into a failure.
type Orchestrator struct {
	repo      store.Repository
	seq       *sequencer.Sequencer
	detector  *duplicate.Detector
	queue     *offline.Queue
	committer remote.Committer
	publisher events.Publisher

	defaultStoreID string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(
	repo store.Repository,
	seq *sequencer.Sequencer,
	detector *duplicate.Detector,
	queue *offline.Queue,
	committer remote.Committer,
	publisher events.Publisher,
	defaultStoreID string,
) *Orchestrator {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	return &Orchestrator{
		repo:           repo,
		seq:            seq,
		detector:       detector,
		queue:          queue,
		committer:      committer,
		publisher:      publisher,
		defaultStoreID: defaultStoreID,
		inFlight:       make(map[string]struct{}),
	}
}

// ProcessSale is the single entry point for the terminal. The returned
// result carries one of four user-visible outcomes: committed (possibly
// with warnings), failed (user-correctable, nothing persisted), or
// queued offline with the reserved invoice number. An error return
// means the attempt could not run at all.
func (o *Orchestrator) ProcessSale(ctx context.Context, req domain.ProcessSaleRequest) (domain.ProcessSaleResult, error) {
	if req.StoreID == "" {
		req.StoreID = o.defaultStoreID
	}

	slot := req.StoreID + "/" + req.TerminalID
	if !o.acquire(slot) {
		return domain.ProcessSaleResult{}, ErrAttemptInProgress
	}
	defer o.release(slot)

	now := time.Now().UTC()

	// Validating: everything here is user-correctable and has no side
	// effects.
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return failResult(now, "cashier is not authenticated"), nil
	}
	if strings.TrimSpace(req.TerminalID) == "" {
		return failResult(now, "terminal is required"), nil
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return failResult(now, "tax rate out of range"), nil
	}

	lines, err := o.expandCart(ctx, req.CartItems)
	if err != nil {
		return failResult(now, err.Error()), nil
	}

	var stockWarnings []string
	if err := o.checkStock(ctx, lines, &stockWarnings); err != nil {
		return failResult(now, err.Error()), nil
	}

	totalCents := computeTotal(lines, req.TaxRatePercent)
	requiredCents := payment.ResolveRequiredTotal(totalCents, req.Financing)
	if requiredCents < 1 {
		return failResult(now, "required payment amount must be positive"), nil
	}

	legs, err := payment.Compose(req.PaymentMethod, req.PaymentLegs, requiredCents)
	if err != nil {
		return failResult(now, err.Error()), nil
	}

	// DuplicateChecking: a veto aborts before any reservation exists,
	// so there is nothing to undo.
	match, err := o.detector.Check(ctx, req.StoreID, req.CustomerID, totalCents)
	if err != nil {
		return failResult(now, fmt.Sprintf("duplicate check unavailable: %v", err)), nil
	}
	if match.IsDuplicate {
		reason := "possible duplicate: a near-identical sale was committed moments ago"
		if match.MatchedSale != nil {
			reason = fmt.Sprintf("possible duplicate of sale %s committed at %s",
				match.MatchedSale.ID, match.MatchedSale.CreatedAt.Format(time.RFC3339))
		}
		o.logAudit(ctx, req.StoreID, "sale_duplicate_veto", "sale", "", reason)
		return failResult(now, reason), nil
	}

	// Reserving.
	reservation, err := o.seq.Reserve(ctx, req.StoreID)
	if err != nil {
		return failResult(now, fmt.Sprintf("invoice sequencer failed: %v", err)), nil
	}

	// Committing. The reserved number travels in the payload, which is
	// why the counter had to advance before the outcome is known.
	remoteSaleID, commitErr := o.committer.CommitSale(ctx, remote.CommitRequest{
		StoreID:        req.StoreID,
		TerminalID:     req.TerminalID,
		CashierName:    actor.Username,
		CustomerID:     req.CustomerID,
		InvoiceNumber:  reservation.InvoiceNumber,
		PaymentMethod:  req.PaymentMethod,
		PaymentLegs:    legs,
		TaxRatePercent: req.TaxRatePercent,
		Notes:          req.Notes,
		Financing:      req.Financing,
		Lines:          lines,
		TotalCents:     totalCents,
	})

	if commitErr != nil {
		if remote.IsNetworkError(commitErr) {
			return o.deferOffline(ctx, req, actor, reservation, lines, totalCents, now)
		}
		// Explicit refusal (or an unclassified local error): the remote
		// did not apply the write, so the number goes back to the pool.
		if rbErr := o.seq.Rollback(ctx, reservation); rbErr != nil {
			log.Printf("[sale] WARN: rollback of %s failed: %v", reservation.InvoiceNumber, rbErr)
		}
		o.logAudit(ctx, req.StoreID, "sale_rejected", "sale", "", commitErr.Error())
		return failResult(now, commitErr.Error()), nil
	}

	// Outcome sealed. Everything below is best-effort enrichment. The
	// mirror is written first so the duplicate detector covers this
	// sale even if a later enrichment step dies mid-way.
	result := domain.ProcessSaleResult{
		Outcome:       domain.OutcomeCommitted,
		SaleID:        remoteSaleID,
		InvoiceNumber: reservation.InvoiceNumber,
		TotalCents:    totalCents,
		RequiredCents: requiredCents,
		PaymentLegs:   legs,
		Warnings:      stockWarnings,
		CreatedAt:     now.Format(time.RFC3339),
	}

	localSaleID := o.mirrorSale(ctx, &result, req, actor, lines, requiredCents)
	o.reconcileInvoice(ctx, &result, reservation, localSaleID)
	o.enrichStoreInfo(ctx, &result, req.StoreID)
	o.publish(ctx, &result, req)

	o.logAudit(ctx, req.StoreID, "sale_committed", "sale", remoteSaleID,
		fmt.Sprintf("invoice=%s,total=%d,warnings=%d", result.InvoiceNumber, totalCents, len(result.Warnings)))

	return result, nil
}

// deferOffline resolves a network-uncertain commit: the remote may have
// applied the write, so the reserved number is sacrificed rather than
// reused, and the attempt is parked durably for the synchronizer.
func (o *Orchestrator) deferOffline(
	ctx context.Context,
	req domain.ProcessSaleRequest,
	actor domain.Actor,
	reservation *sequencer.Reservation,
	lines []domain.SaleLine,
	totalCents int64,
	now time.Time,
) (domain.ProcessSaleResult, error) {
	if err := o.seq.Commit(ctx, reservation); err != nil {
		log.Printf("[sale] WARN: spending reservation %s failed: %v", reservation.InvoiceNumber, err)
	}

	entry := domain.OfflineQueueEntry{
		StoreID:       req.StoreID,
		TerminalID:    req.TerminalID,
		CashierName:   actor.Username,
		InvoiceNumber: reservation.InvoiceNumber,
		Request:       req,
		Lines:         lines,
		TotalCents:    totalCents,
		CreatedAt:     now,
	}

	snapshot, err := o.queue.Enqueue(ctx, entry)
	if err != nil {
		// Losing the entry means losing a sale the cashier will be told
		// is pending. This must surface loudly, not as a soft failure.
		return domain.ProcessSaleResult{}, err
	}

	entryID := entry.ID
	for _, queued := range snapshot {
		if queued.InvoiceNumber == reservation.InvoiceNumber {
			entryID = queued.ID
			break
		}
	}

	o.logAudit(ctx, req.StoreID, "sale_deferred", "offline_entry", entryID,
		fmt.Sprintf("invoice=%s,total=%d", reservation.InvoiceNumber, totalCents))

	return domain.ProcessSaleResult{
		Outcome:       domain.OutcomeQueuedOffline,
		InvoiceNumber: reservation.InvoiceNumber,
		QueueEntryID:  entryID,
		TotalCents:    totalCents,
		CreatedAt:     now.Format(time.RFC3339),
	}, nil
}

// reconcileInvoice attaches the reserved number to the committed sale.
// On failure the first reservation is released, a fresh number is
// reserved and the assignment retried exactly once; after that the sale
// stays committed but unnumbered, flagged with a critical warning. The
// cashier must not retry the whole sale at this point.
//
// The local mirror was recorded under the original number, so a
// reassignment also renumbers the mirror.
func (o *Orchestrator) reconcileInvoice(ctx context.Context, result *domain.ProcessSaleResult, reservation *sequencer.Reservation, localSaleID string) {
	err := o.committer.AssignInvoiceNumber(ctx, result.SaleID, reservation.InvoiceNumber)
	if err == nil {
		if cErr := o.seq.Commit(ctx, reservation); cErr != nil {
			log.Printf("[sale] WARN: sealing reservation %s failed: %v", reservation.InvoiceNumber, cErr)
		}
		return
	}

	log.Printf("[sale] WARN: invoice assignment %s -> %s failed: %v", reservation.InvoiceNumber, result.SaleID, err)
	o.releaseFailedAssignment(ctx, reservation, err)

	fresh, rErr := o.seq.Reserve(ctx, reservation.StoreID)
	if rErr != nil {
		result.InvoiceNumber = ""
		result.Warnings = append(result.Warnings,
			"critical: sale is committed but carries no invoice number; do not re-enter the sale")
		return
	}

	if aErr := o.committer.AssignInvoiceNumber(ctx, result.SaleID, fresh.InvoiceNumber); aErr != nil {
		log.Printf("[sale] WARN: second invoice assignment %s -> %s failed: %v", fresh.InvoiceNumber, result.SaleID, aErr)
		o.releaseFailedAssignment(ctx, fresh, aErr)
		result.InvoiceNumber = ""
		result.Warnings = append(result.Warnings,
			"critical: sale is committed but carries no invoice number; do not re-enter the sale")
		return
	}

	if cErr := o.seq.Commit(ctx, fresh); cErr != nil {
		log.Printf("[sale] WARN: sealing reservation %s failed: %v", fresh.InvoiceNumber, cErr)
	}
	result.Warnings = append(result.Warnings,
		fmt.Sprintf("invoice number changed from %s to %s", reservation.InvoiceNumber, fresh.InvoiceNumber))
	result.InvoiceNumber = fresh.InvoiceNumber
	result.InvoiceReassigned = true

	if localSaleID != "" {
		if mErr := o.repo.AttachInvoiceNumber(ctx, localSaleID, fresh.InvoiceNumber); mErr != nil {
			log.Printf("[sale] WARN: local mirror %s still carries invoice %s: %v",
				localSaleID, reservation.InvoiceNumber, mErr)
			result.Warnings = append(result.Warnings, "local sale copy still shows the old invoice number")
		}
	}
}

// releaseFailedAssignment decides what happens to a reservation whose
// number could not be attached. A conflict means the number already
// exists on the remote side, so it is burned rather than returned to
// the pool; any other failure rolls it back for reuse.
func (o *Orchestrator) releaseFailedAssignment(ctx context.Context, res *sequencer.Reservation, cause error) {
	if errors.Is(cause, remote.ErrInvoiceConflict) {
		if err := o.seq.Commit(ctx, res); err != nil {
			log.Printf("[sale] WARN: burning conflicted reservation %s failed: %v", res.InvoiceNumber, err)
		}
		return
	}
	if err := o.seq.Rollback(ctx, res); err != nil {
		log.Printf("[sale] WARN: rollback of %s failed: %v", res.InvoiceNumber, err)
	}
}

// mirrorSale records the committed sale locally and feeds the duplicate
// detector. Returns the local record id so a later invoice reassignment
// can renumber it.
func (o *Orchestrator) mirrorSale(
	ctx context.Context,
	result *domain.ProcessSaleResult,
	req domain.ProcessSaleRequest,
	actor domain.Actor,
	lines []domain.SaleLine,
	requiredCents int64,
) string {
	sale, err := o.repo.RecordSale(ctx, domain.Sale{
		ID:             xid.New("sale"),
		RemoteID:       result.SaleID,
		StoreID:        req.StoreID,
		TerminalID:     req.TerminalID,
		CashierName:    actor.Username,
		CustomerID:     req.CustomerID,
		InvoiceNumber:  result.InvoiceNumber,
		TotalCents:     result.TotalCents,
		RequiredCents:  requiredCents,
		TaxRatePercent: req.TaxRatePercent,
		PaymentMethod:  req.PaymentMethod,
		PaymentLegs:    result.PaymentLegs,
		Financing:      req.Financing,
		Lines:          lines,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[sale] WARN: failed to mirror sale %s locally: %v", result.SaleID, err)
		result.Warnings = append(result.Warnings, "sale not mirrored locally; duplicate detection degraded")
		return ""
	}
	o.detector.Record(ctx, sale)
	return sale.ID
}

func (o *Orchestrator) enrichStoreInfo(ctx context.Context, result *domain.ProcessSaleResult, storeID string) {
	info, err := o.committer.StoreInfo(ctx, storeID)
	if err != nil {
		log.Printf("[sale] WARN: store info lookup failed for %s: %v", storeID, err)
		result.Warnings = append(result.Warnings, "store details unavailable for receipt header")
		return
	}
	result.StoreName = info.Name
}

func (o *Orchestrator) publish(ctx context.Context, result *domain.ProcessSaleResult, req domain.ProcessSaleRequest) {
	err := o.publisher.PublishSaleCommitted(ctx, domain.SaleCommittedEvent{
		SaleID:        result.SaleID,
		StoreID:       req.StoreID,
		TerminalID:    req.TerminalID,
		InvoiceNumber: result.InvoiceNumber,
		TotalCents:    result.TotalCents,
		CommittedAt:   time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[sale] WARN: sale event not published for %s: %v", result.SaleID, err)
		result.Warnings = append(result.Warnings, "sale event not published")
	}
}

// expandCart validates items and emits sale lines. Serialized items
// produce one line per serial with qty fixed at 1. Items that arrive
// without a price are resolved against the product catalog.
func (o *Orchestrator) expandCart(ctx context.Context, items []domain.CartItem) ([]domain.SaleLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cart is empty")
	}

	needLookup := make([]string, 0, len(items))
	for _, item := range items {
		if item.UnitPriceCents < 1 || item.Name == "" {
			needLookup = append(needLookup, item.ProductID)
		}
	}

	products := map[string]domain.Product{}
	if len(needLookup) > 0 {
		found, err := o.repo.GetProductsByIDs(ctx, needLookup)
		if err != nil {
			return nil, fmt.Errorf("product lookup failed: %v", err)
		}
		products = found
	}

	lines := make([]domain.SaleLine, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("cart item is missing a product reference")
		}
		if item.Qty < 1 {
			return nil, fmt.Errorf("cart item %s has non-positive quantity", item.ProductID)
		}

		price := item.UnitPriceCents
		name := item.Name
		sku := item.SKU
		if product, ok := products[item.ProductID]; ok {
			if price < 1 {
				price = product.PriceCents
			}
			if name == "" {
				name = product.Name
			}
			if sku == "" {
				sku = product.SKU
			}
		}
		if price < 1 {
			return nil, fmt.Errorf("no price for product %s", item.ProductID)
		}

		if len(item.Serials) > 0 {
			if len(item.Serials) != item.Qty {
				return nil, fmt.Errorf("product %s: %d serials for quantity %d", item.ProductID, len(item.Serials), item.Qty)
			}
			for _, serial := range item.Serials {
				serial = strings.TrimSpace(serial)
				if serial == "" {
					return nil, fmt.Errorf("product %s has an empty serial", item.ProductID)
				}
				lines = append(lines, domain.SaleLine{
					ProductID:      item.ProductID,
					SKU:            sku,
					Name:           name,
					UnitPriceCents: price,
					Qty:            1,
					Serial:         serial,
				})
			}
			continue
		}

		lines = append(lines, domain.SaleLine{
			ProductID:      item.ProductID,
			SKU:            sku,
			Name:           name,
			UnitPriceCents: price,
			Qty:            item.Qty,
		})
	}

	return lines, nil
}

// checkStock consults the remote per product before anything is
// reserved. The authoritative check happens server-side at commit; if
// the remote is unreachable the sale proceeds toward offline deferral
// with a warning instead of being blocked here.
func (o *Orchestrator) checkStock(ctx context.Context, lines []domain.SaleLine, warnings *[]string) error {
	qtyByProduct := make(map[string]int, len(lines))
	for _, line := range lines {
		qtyByProduct[line.ProductID] += line.Qty
	}

	for productID, qty := range qtyByProduct {
		available, err := o.committer.AvailableStock(ctx, productID)
		if err != nil {
			if remote.IsNetworkError(err) {
				*warnings = append(*warnings, "stock not verified: remote unreachable")
				return nil
			}
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return fmt.Errorf("stock lookup failed for %s: %v", productID, err)
		}
		if available < qty {
			return fmt.Errorf("insufficient stock for %s: have %d, need %d", productID, available, qty)
		}
	}
	return nil
}

func (o *Orchestrator) acquire(slot string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inFlight[slot]; busy {
		return false
	}
	o.inFlight[slot] = struct{}{}
	return true
}

func (o *Orchestrator) release(slot string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, slot)
}

func (o *Orchestrator) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := o.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func computeTotal(lines []domain.SaleLine, taxRatePercent float64) int64 {
	subtotal := int64(0)
	for _, line := range lines {
		subtotal += line.UnitPriceCents * int64(line.Qty)
	}
	tax := int64(math.Round(float64(subtotal) * taxRatePercent / 100))
	return subtotal + tax
}

func failResult(now time.Time, reason string) domain.ProcessSaleResult {
	return domain.ProcessSaleResult{
		Outcome:       domain.OutcomeFailed,
		FailureReason: reason,
		CreatedAt:     now.Format(time.RFC3339),
	}
}
