// Package ledger tracks a project's budget, spent and committed funds.
//
// Every mutation keeps spent + committed <= budget. Operations that would
// break the invariant are rejected; nothing is clamped.
package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	mu           sync.Mutex
	budget       money.Money
	spent        money.Money
	committed    money.Money
	reservations map[string]money.Money
	newID        func() string
}

// Option configures a ledger.
type Option func(*Ledger)

// WithIDGenerator overrides how reservation handles are minted.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// New opens a ledger with nothing spent or committed.
func New(budget money.Money, opts ...Option) (*Ledger, error) {
	if budget.IsZero() || budget.Currency() == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "budget must be greater than zero")
	}
	l := &Ledger{
		budget:       budget,
		spent:        money.Zero(budget.Currency()),
		committed:    money.Zero(budget.Currency()),
		reservations: make(map[string]money.Money),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Restore rebuilds a ledger from persisted totals and open reservations.
func Restore(budget, spent money.Money, reservations []models.Reservation, opts ...Option) (*Ledger, error) {
	l, err := New(budget, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := budget.Cmp(spent); err != nil {
		return nil, err
	}
	committed := money.Zero(budget.Currency())
	for _, r := range reservations {
		if r.ID == "" || r.Amount.IsZero() {
			return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "reservation requires id and positive amount")
		}
		if _, dup := l.reservations[r.ID]; dup {
			return nil, appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("duplicate reservation %s", r.ID))
		}
		committed, err = committed.Add(r.Amount)
		if err != nil {
			return nil, err
		}
		l.reservations[r.ID] = r.Amount
	}
	if err := checkInvariant(budget, spent, committed); err != nil {
		return nil, err
	}
	l.spent = spent
	l.committed = committed
	return l, nil
}

// Reserve holds amount against the remaining budget and returns its handle.
// Fails with InsufficientFunds, leaving the ledger untouched, when the
// remaining balance is smaller than amount.
func (l *Ledger) Reserve(amount money.Money) (models.Reservation, error) {
	if amount.IsZero() {
		return models.Reservation{}, appErrors.Clone(appErrors.ErrInvalidArgument, "reservation amount must be greater than zero")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	remaining, err := l.remainingLocked()
	if err != nil {
		return models.Reservation{}, err
	}
	cmp, err := remaining.Cmp(amount)
	if err != nil {
		return models.Reservation{}, err
	}
	if cmp < 0 {
		return models.Reservation{}, appErrors.Clone(appErrors.ErrInsufficientFunds,
			fmt.Sprintf("requested %s exceeds remaining %s", amount, remaining))
	}
	committed, err := l.committed.Add(amount)
	if err != nil {
		return models.Reservation{}, err
	}
	if err := checkInvariant(l.budget, l.spent, committed); err != nil {
		return models.Reservation{}, err
	}

	id := l.newID()
	if _, dup := l.reservations[id]; dup {
		return models.Reservation{}, appErrors.Clone(appErrors.ErrConflict, "reservation id collision")
	}
	l.reservations[id] = amount
	l.committed = committed
	return models.Reservation{ID: id, Amount: amount}, nil
}

// Commit converts a reservation into spent funds.
func (l *Ledger) Commit(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.reservations[id]
	if !ok {
		return unknownReservation(id)
	}
	committed, err := l.committed.Sub(amount)
	if err != nil {
		return err
	}
	spent, err := l.spent.Add(amount)
	if err != nil {
		return err
	}
	if err := checkInvariant(l.budget, spent, committed); err != nil {
		return err
	}
	delete(l.reservations, id)
	l.committed = committed
	l.spent = spent
	return nil
}

// Release drops a reservation without touching spent funds.
func (l *Ledger) Release(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount, ok := l.reservations[id]
	if !ok {
		return unknownReservation(id)
	}
	committed, err := l.committed.Sub(amount)
	if err != nil {
		return err
	}
	delete(l.reservations, id)
	l.committed = committed
	return nil
}

// Snapshot returns a consistent point-in-time view.
func (l *Ledger) Snapshot() models.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining, err := l.remainingLocked()
	if err != nil {
		remaining = money.Zero(l.budget.Currency())
	}
	return models.LedgerSnapshot{
		Budget:           l.budget,
		Spent:            l.spent,
		Committed:        l.committed,
		Remaining:        remaining,
		OpenReservations: len(l.reservations),
	}
}

// Reservations lists open reservations in no particular order.
func (l *Ledger) Reservations() []models.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Reservation, 0, len(l.reservations))
	for id, amount := range l.reservations {
		out = append(out, models.Reservation{ID: id, Amount: amount})
	}
	return out
}

// Budget returns the fixed budget.
func (l *Ledger) Budget() money.Money {
	return l.budget
}

func (l *Ledger) remainingLocked() (money.Money, error) {
	afterSpent, err := l.budget.Sub(l.spent)
	if err != nil {
		return money.Money{}, appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "ledger spent exceeds budget")
	}
	remaining, err := afterSpent.Sub(l.committed)
	if err != nil {
		return money.Money{}, appErrors.Wrap(err, appErrors.ErrIntegrity.Code, appErrors.ErrIntegrity.Status, "ledger committed exceeds remaining budget")
	}
	return remaining, nil
}

func checkInvariant(budget, spent, committed money.Money) error {
	used, err := spent.Add(committed)
	if err != nil {
		return err
	}
	cmp, err := used.Cmp(budget)
	if err != nil {
		return err
	}
	if cmp > 0 {
		return appErrors.Clone(appErrors.ErrInsufficientFunds,
			fmt.Sprintf("spent %s plus committed %s exceeds budget %s", spent, committed, budget))
	}
	return nil
}

func unknownReservation(id string) error {
	return appErrors.Clone(appErrors.ErrUnknownReservation, fmt.Sprintf("reservation %s is not open on this ledger", id))
}
