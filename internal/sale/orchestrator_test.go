package sale

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/duplicate"
	"puntoventa/backend/internal/offline"
	"puntoventa/backend/internal/remote"
	"puntoventa/backend/internal/sequencer"
	"puntoventa/backend/internal/store/memory"
)

type fakeCommitter struct {
	mu          sync.Mutex
	commitErr   error
	commitGate  chan struct{}
	entered     chan struct{}
	assignErrs  []error
	assigned    []string
	commitCalls int
}

func (c *fakeCommitter) CommitSale(_ context.Context, _ remote.CommitRequest) (string, error) {
	c.mu.Lock()
	c.commitCalls++
	gate := c.commitGate
	entered := c.entered
	err := c.commitErr
	c.mu.Unlock()

	if entered != nil {
		close(entered)
		c.mu.Lock()
		c.entered = nil
		c.mu.Unlock()
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return "rsale_ok", nil
}

func (c *fakeCommitter) AssignInvoiceNumber(_ context.Context, _ string, invoiceNumber string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assigned = append(c.assigned, invoiceNumber)
	if len(c.assignErrs) == 0 {
		return nil
	}
	err := c.assignErrs[0]
	c.assignErrs = c.assignErrs[1:]
	return err
}

func (c *fakeCommitter) AvailableStock(_ context.Context, _ string) (int, error) {
	return 100, nil
}

func (c *fakeCommitter) StoreInfo(_ context.Context, storeID string) (*domain.StoreInfo, error) {
	return &domain.StoreInfo{ID: storeID, Name: "Main Store"}, nil
}

func newTestOrchestrator(committer remote.Committer) (*Orchestrator, *memory.Store, *sequencer.Sequencer, *offline.Queue) {
	repo := memory.NewSeeded()
	seq := sequencer.New(repo, "INV-", 4)
	detector := duplicate.New(repo, nil, 2*time.Minute)
	queue := offline.NewQueue(repo)
	orch := New(repo, seq, detector, queue, committer, nil, "main-store")
	return orch, repo, seq, queue
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func simpleRequest() domain.ProcessSaleRequest {
	return domain.ProcessSaleRequest{
		StoreID:       "main-store",
		TerminalID:    "caja-1",
		CustomerID:    "cust-1",
		PaymentMethod: "cash",
		CartItems: []domain.CartItem{
			{ProductID: "prod-case-uni", Name: "Funda Universal", UnitPriceCents: 45000, Qty: 2},
		},
	}
}

func TestProcessSaleCommitted(t *testing.T) {
	committer := &fakeCommitter{}
	orch, repo, _, _ := newTestOrchestrator(committer)

	result, err := orch.ProcessSale(cashierCtx(), simpleRequest())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeCommitted {
		t.Fatalf("expected committed, got %s (%s)", result.Outcome, result.FailureReason)
	}
	if result.SaleID != "rsale_ok" {
		t.Fatalf("remote sale id missing: %+v", result)
	}
	if result.InvoiceNumber != "INV-0001" {
		t.Fatalf("expected INV-0001, got %s", result.InvoiceNumber)
	}
	if result.TotalCents != 90000 {
		t.Fatalf("expected total 90000, got %d", result.TotalCents)
	}
	if result.StoreName != "Main Store" {
		t.Fatalf("store info not enriched: %+v", result)
	}
	if len(committer.assigned) != 1 || committer.assigned[0] != "INV-0001" {
		t.Fatalf("invoice not attached remotely: %v", committer.assigned)
	}

	// The sale is mirrored locally for the duplicate detector.
	sales, err := repo.ListRecentSales(context.Background(), "main-store", time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 1 || sales[0].InvoiceNumber != "INV-0001" {
		t.Fatalf("sale not mirrored: %+v", sales)
	}
}

func TestProcessSaleComputesTax(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(&fakeCommitter{})

	req := simpleRequest()
	req.TaxRatePercent = 13

	result, err := orch.ProcessSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	// 90000 + round(90000 * 0.13) = 90000 + 11700
	if result.TotalCents != 101700 {
		t.Fatalf("expected total 101700, got %d", result.TotalCents)
	}
}

func TestBusinessRejectionRollsBackNumber(t *testing.T) {
	committer := &fakeCommitter{commitErr: &remote.BusinessError{Reason: "card declined by issuer"}}
	orch, _, seq, _ := newTestOrchestrator(committer)

	result, err := orch.ProcessSale(cashierCtx(), simpleRequest())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if result.FailureReason != "card declined by issuer" {
		t.Fatalf("remote reason must surface verbatim, got %q", result.FailureReason)
	}

	// The rolled-back number is handed out again on the next attempt.
	res, err := seq.Reserve(context.Background(), "main-store")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.InvoiceNumber != "INV-0001" {
		t.Fatalf("expected INV-0001 back in the pool, got %s", res.InvoiceNumber)
	}
}

func TestNetworkFailureDefersOffline(t *testing.T) {
	committer := &fakeCommitter{commitErr: remote.NetworkError(errors.New("dial tcp: timeout"))}
	orch, _, seq, queue := newTestOrchestrator(committer)

	result, err := orch.ProcessSale(cashierCtx(), simpleRequest())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeQueuedOffline {
		t.Fatalf("expected queued_offline, got %s (%s)", result.Outcome, result.FailureReason)
	}
	if result.InvoiceNumber != "INV-0001" {
		t.Fatalf("deferred sale keeps its reserved number, got %s", result.InvoiceNumber)
	}
	if result.QueueEntryID == "" {
		t.Fatal("queue entry id missing")
	}

	entries, err := queue.Entries(context.Background(), "main-store", 0)
	if err != nil {
		t.Fatalf("list queue failed: %v", err)
	}
	if len(entries) != 1 || entries[0].InvoiceNumber != "INV-0001" {
		t.Fatalf("entry not queued with its number: %+v", entries)
	}

	// The uncertain number is spent: the next sale gets a fresh one.
	res, err := seq.Reserve(context.Background(), "main-store")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.InvoiceNumber != "INV-0002" {
		t.Fatalf("sacrificed number must never be reused, got %s", res.InvoiceNumber)
	}
}

func TestInvoiceConflictRetriesWithFreshNumber(t *testing.T) {
	committer := &fakeCommitter{assignErrs: []error{remote.ErrInvoiceConflict}}
	orch, repo, seq, _ := newTestOrchestrator(committer)

	result, err := orch.ProcessSale(cashierCtx(), simpleRequest())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeCommitted {
		t.Fatalf("conflict during enrichment must not fail the sale, got %s", result.Outcome)
	}
	if !result.InvoiceReassigned {
		t.Fatal("reassignment flag not set")
	}
	if result.InvoiceNumber != "INV-0002" {
		t.Fatalf("expected fresh number INV-0002, got %s", result.InvoiceNumber)
	}

	found := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "INV-0001") && strings.Contains(warning, "INV-0002") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warning about the number change missing: %v", result.Warnings)
	}

	// The local mirror is renumbered along with the remote sale.
	sales, err := repo.ListRecentSales(context.Background(), "main-store", time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 1 || sales[0].InvoiceNumber != "INV-0002" {
		t.Fatalf("mirror still carries the old number: %+v", sales)
	}

	// The conflicted number is burned, not returned to the pool.
	res, err := seq.Reserve(context.Background(), "main-store")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.InvoiceNumber != "INV-0003" {
		t.Fatalf("expected INV-0003 next, got %s", res.InvoiceNumber)
	}
}

func TestDoubleAssignFailureKeepsSaleCommitted(t *testing.T) {
	committer := &fakeCommitter{assignErrs: []error{remote.ErrInvoiceConflict, remote.ErrInvoiceConflict}}
	orch, _, _, _ := newTestOrchestrator(committer)

	result, err := orch.ProcessSale(cashierCtx(), simpleRequest())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeCommitted {
		t.Fatalf("outcome is sealed at commit, got %s", result.Outcome)
	}
	if result.InvoiceNumber != "" {
		t.Fatalf("sale should carry no number after both assignments failed, got %s", result.InvoiceNumber)
	}

	critical := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "critical") {
			critical = true
		}
	}
	if !critical {
		t.Fatalf("expected critical warning, got %v", result.Warnings)
	}
}

func TestDuplicateVetoBeforeReservation(t *testing.T) {
	committer := &fakeCommitter{}
	orch, repo, seq, _ := newTestOrchestrator(committer)

	// A near-identical sale committed moments ago.
	_, err := repo.RecordSale(context.Background(), domain.Sale{
		StoreID:       "main-store",
		TerminalID:    "caja-1",
		CashierName:   "cashier",
		CustomerID:    "cust-1",
		TotalCents:    90000,
		PaymentMethod: "cash",
		Lines:         []domain.SaleLine{{ProductID: "prod-case-uni", Name: "Funda", UnitPriceCents: 45000, Qty: 2}},
		CreatedAt:     time.Now().UTC().Add(-20 * time.Second),
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}

	result, err := orch.ProcessSale(cashierCtx(), simpleRequest())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected duplicate veto, got %s", result.Outcome)
	}
	if !strings.Contains(result.FailureReason, "duplicate") {
		t.Fatalf("reason should mention the duplicate: %q", result.FailureReason)
	}
	if committer.commitCalls != 0 {
		t.Fatal("veto must happen before any remote commit")
	}

	// No reservation happened: the counter is untouched.
	res, err := seq.Reserve(context.Background(), "main-store")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.InvoiceNumber != "INV-0001" {
		t.Fatalf("counter moved without a reservation, got %s", res.InvoiceNumber)
	}
}

func TestSerializedItemsExpandToOneLinePerUnit(t *testing.T) {
	committer := &fakeCommitter{}
	orch, repo, _, _ := newTestOrchestrator(committer)

	req := simpleRequest()
	req.CartItems = []domain.CartItem{
		{ProductID: "prod-phone-a14", Name: "Telefono", UnitPriceCents: 1899000, Qty: 2, Serials: []string{"IMEI-1", "IMEI-2"}},
	}

	result, err := orch.ProcessSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeCommitted {
		t.Fatalf("expected committed, got %s (%s)", result.Outcome, result.FailureReason)
	}

	sales, err := repo.ListRecentSales(context.Background(), "main-store", time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	lines := sales[0].Lines
	if len(lines) != 2 {
		t.Fatalf("expected 2 expanded lines, got %d", len(lines))
	}
	for _, line := range lines {
		if line.Qty != 1 || line.Serial == "" {
			t.Fatalf("serialized line must have qty 1 and a serial: %+v", line)
		}
	}
}

func TestSerialCountMismatchFails(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(&fakeCommitter{})

	req := simpleRequest()
	req.CartItems = []domain.CartItem{
		{ProductID: "prod-phone-a14", Name: "Telefono", UnitPriceCents: 1899000, Qty: 2, Serials: []string{"IMEI-1"}},
	}

	result, err := orch.ProcessSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failure for serial count mismatch, got %s", result.Outcome)
	}
}

func TestEmptyCartFails(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(&fakeCommitter{})

	req := simpleRequest()
	req.CartItems = nil

	result, err := orch.ProcessSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
}

func TestMissingActorFails(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(&fakeCommitter{})

	result, err := orch.ProcessSale(context.Background(), simpleRequest())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed without an authenticated cashier, got %s", result.Outcome)
	}
}

func TestFinancingRequiresInitialPaymentOnly(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(&fakeCommitter{})

	req := simpleRequest()
	req.Financing = &domain.FinancingPlan{
		Provider:            "credifacil",
		InitialPaymentCents: 30000,
		InstallmentCents:    11000,
		Installments:        6,
	}

	result, err := orch.ProcessSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeCommitted {
		t.Fatalf("expected committed, got %s (%s)", result.Outcome, result.FailureReason)
	}
	if result.RequiredCents != 30000 {
		t.Fatalf("expected required 30000, got %d", result.RequiredCents)
	}
	if len(result.PaymentLegs) != 1 || result.PaymentLegs[0].AmountCents != 30000 {
		t.Fatalf("implicit leg should cover the initial payment: %+v", result.PaymentLegs)
	}
	if result.TotalCents != 90000 {
		t.Fatalf("sale total stays the full amount, got %d", result.TotalCents)
	}
}

func TestPaymentMismatchFailsBeforeReservation(t *testing.T) {
	orch, _, seq, _ := newTestOrchestrator(&fakeCommitter{})

	req := simpleRequest()
	req.PaymentLegs = []domain.PaymentLeg{{Method: "cash", AmountCents: 80000}}

	result, err := orch.ProcessSale(cashierCtx(), req)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if !strings.Contains(result.FailureReason, "delta") {
		t.Fatalf("mismatch reason should state the delta: %q", result.FailureReason)
	}

	res, err := seq.Reserve(context.Background(), "main-store")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.InvoiceNumber != "INV-0001" {
		t.Fatalf("counter moved on a precondition failure, got %s", res.InvoiceNumber)
	}
}

func TestConcurrentAttemptOnSameTerminalIsRejected(t *testing.T) {
	committer := &fakeCommitter{
		commitGate: make(chan struct{}),
		entered:    make(chan struct{}),
	}
	orch, _, _, _ := newTestOrchestrator(committer)

	done := make(chan domain.ProcessSaleResult, 1)
	go func() {
		result, _ := orch.ProcessSale(cashierCtx(), simpleRequest())
		done <- result
	}()

	<-committer.entered

	_, err := orch.ProcessSale(cashierCtx(), simpleRequest())
	if !errors.Is(err, ErrAttemptInProgress) {
		t.Fatalf("expected ErrAttemptInProgress, got %v", err)
	}

	close(committer.commitGate)
	first := <-done
	if first.Outcome != domain.OutcomeCommitted {
		t.Fatalf("first attempt should commit, got %s", first.Outcome)
	}
}

func TestOtherTerminalIsNotBlocked(t *testing.T) {
	committer := &fakeCommitter{
		commitGate: make(chan struct{}),
		entered:    make(chan struct{}),
	}
	orch, _, _, _ := newTestOrchestrator(committer)

	done := make(chan struct{})
	go func() {
		_, _ = orch.ProcessSale(cashierCtx(), simpleRequest())
		close(done)
	}()

	<-committer.entered

	if !orch.acquire("main-store/caja-2") {
		t.Fatal("a different terminal must not be blocked")
	}
	orch.release("main-store/caja-2")

	close(committer.commitGate)
	<-done
}
