package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

var (
	ErrAlreadyCommitted  = errors.New("reservation already committed")
	ErrAlreadyRolledBack = errors.New("reservation already rolled back")
)

type reservationState int

const (
	statePending reservationState = iota
	stateCommitted
	stateRolledBack
)

// Reservation is a provisional allocation of the next correlative
// invoice number for a store. It is either committed or rolled back,
// exactly once, before the attempt that holds it finishes.
type Reservation struct {
	StoreID       string
	InvoiceNumber string
	Sequence      int64
	PreviousState domain.CounterState

	state reservationState
}

func (r *Reservation) Committed() bool {
	return r.state == stateCommitted
}

// Sequencer allocates correlative invoice numbers from a persisted
// per-store counter. The counter is advanced on disk at reserve time so
// a crash mid-attempt never leaves it in an intermediate state; commit
// only seals the reservation, rollback restores the snapshot.
//
// All counter mutations for one store run under that store's lock.
// Attempts from different terminals may interleave their reserve and
// rollback calls freely; rollback only restores the counter when no
// later reservation has advanced it.
type Sequencer struct {
	repo          store.Repository
	defaultPrefix string
	defaultPad    int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(repo store.Repository, defaultPrefix string, defaultPad int) *Sequencer {
	if defaultPrefix == "" {
		defaultPrefix = "INV-"
	}
	if defaultPad < 1 {
		defaultPad = 4
	}
	return &Sequencer{
		repo:          repo,
		defaultPrefix: defaultPrefix,
		defaultPad:    defaultPad,
		locks:         make(map[string]*sync.Mutex),
	}
}

func (s *Sequencer) storeLock(storeID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[storeID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[storeID] = lock
	}
	return lock
}

func (s *Sequencer) Reserve(ctx context.Context, storeID string) (*Reservation, error) {
	if storeID == "" {
		return nil, store.ErrInvalidSale
	}

	lock := s.storeLock(storeID)
	lock.Lock()
	defer lock.Unlock()

	counter, err := s.repo.GetInvoiceCounter(ctx, storeID)
	if errors.Is(err, store.ErrNotFound) {
		// First sale ever for this store: seed a counter.
		counter = &domain.InvoiceCounter{
			StoreID: storeID,
			Prefix:  s.defaultPrefix,
			Pad:     s.defaultPad,
			Next:    1,
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSequencerUnavailable, err)
	}

	previous := domain.CounterState{Next: counter.Next}
	sequence := counter.Next
	counter.Next = sequence + 1

	if err := s.repo.SaveInvoiceCounter(ctx, *counter); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrSequencerUnavailable, err)
	}

	return &Reservation{
		StoreID:       storeID,
		InvoiceNumber: Format(counter.Prefix, counter.Pad, sequence),
		Sequence:      sequence,
		PreviousState: previous,
	}, nil
}

// Commit seals the reservation. Calling it twice is a no-op; calling it
// after rollback is an error.
func (s *Sequencer) Commit(_ context.Context, res *Reservation) error {
	if res == nil {
		return store.ErrInvalidSale
	}

	lock := s.storeLock(res.StoreID)
	lock.Lock()
	defer lock.Unlock()

	switch res.state {
	case stateCommitted:
		return nil
	case stateRolledBack:
		return ErrAlreadyRolledBack
	}
	res.state = stateCommitted
	return nil
}

// Rollback releases the reservation. The counter snapshot is restored
// only when this reservation is still the newest one for the store;
// once a later reservation has advanced the counter, restoring the
// snapshot would re-issue numbers that other attempt may already have
// committed, so the number is burned instead. Safe to call twice; an
// error after commit, since a committed number must never return to
// the pool.
func (s *Sequencer) Rollback(ctx context.Context, res *Reservation) error {
	if res == nil {
		return store.ErrInvalidSale
	}

	lock := s.storeLock(res.StoreID)
	lock.Lock()
	defer lock.Unlock()

	switch res.state {
	case stateCommitted:
		return ErrAlreadyCommitted
	case stateRolledBack:
		return nil
	}

	counter, err := s.repo.GetInvoiceCounter(ctx, res.StoreID)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrSequencerUnavailable, err)
	}

	if counter.Next != res.Sequence+1 {
		log.Printf("[sequencer] WARN: counter for %s moved past %s; number burned instead of restored",
			res.StoreID, res.InvoiceNumber)
		res.state = stateRolledBack
		return nil
	}
	counter.Next = res.PreviousState.Next

	if err := s.repo.SaveInvoiceCounter(ctx, *counter); err != nil {
		return fmt.Errorf("%w: %v", store.ErrSequencerUnavailable, err)
	}
	res.state = stateRolledBack
	return nil
}

func (s *Sequencer) Status(ctx context.Context, storeID string) (*domain.InvoiceCounter, error) {
	lock := s.storeLock(storeID)
	lock.Lock()
	defer lock.Unlock()

	return s.repo.GetInvoiceCounter(ctx, storeID)
}

func Format(prefix string, pad int, sequence int64) string {
	if pad < 1 {
		pad = 1
	}
	return fmt.Sprintf("%s%0*d", prefix, pad, sequence)
}
