// Package memory implements the domain stores in process memory. Transactions
// are serialized and roll back by discarding a copy of the state.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/alanyoungcy/predictex/internal/domain"
)

type state struct {
	markets   map[string]domain.Market
	options   []domain.Option
	outcomes  map[string]domain.Outcome
	orders    []domain.Order
	orderIdx  map[string]int
	trades    []domain.Trade
	positions map[string]domain.Position
	users     map[string]domain.User
	history   []domain.PricePoint
	audit     []domain.AuditEntry
}

func newState() *state {
	return &state{
		markets:   map[string]domain.Market{},
		outcomes:  map[string]domain.Outcome{},
		orderIdx:  map[string]int{},
		positions: map[string]domain.Position{},
		users:     map[string]domain.User{},
	}
}

func (st *state) clone() *state {
	return &state{
		markets:   maps.Clone(st.markets),
		options:   slices.Clone(st.options),
		outcomes:  maps.Clone(st.outcomes),
		orders:    slices.Clone(st.orders),
		orderIdx:  maps.Clone(st.orderIdx),
		trades:    slices.Clone(st.trades),
		positions: maps.Clone(st.positions),
		users:     maps.Clone(st.users),
		history:   slices.Clone(st.history),
		audit:     slices.Clone(st.audit),
	}
}

// Store is an in-memory domain.Transactor.
type Store struct {
	mu    sync.Mutex
	data  *state
	fault func(op string) error
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: newState()}
}

// InjectFault installs fn, which is consulted before every write. A non-nil
// return aborts the write with that error wrapped in domain.ErrStore.
func (s *Store) InjectFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// WithinTx runs fn against a private copy of the state and publishes the
// copy only if fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, st domain.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	work := s.data.clone()
	if err := fn(ctx, s.bind(work)); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Stores returns stores that operate on the committed state.
func (s *Store) Stores() domain.Stores {
	return s.bind(nil)
}

func (s *Store) bind(st *state) domain.Stores {
	v := view{s: s, st: st}
	return domain.Stores{
		Markets:      &MarketStore{v},
		Outcomes:     &OutcomeStore{v},
		Orders:       &OrderStore{v},
		Trades:       &TradeStore{v},
		Positions:    &PositionStore{v},
		Users:        &UserStore{v},
		PriceHistory: &PriceHistoryStore{v},
		Audit:        &AuditStore{v},
	}
}

// view resolves the state a store method operates on. A nil st means the
// committed state, accessed under the store mutex.
type view struct {
	s  *Store
	st *state
}

func (v view) read(fn func(st *state) error) error {
	if v.st != nil {
		return fn(v.st)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.data)
}

func (v view) write(op string, fn func(st *state) error) error {
	return v.read(func(st *state) error {
		if v.s.fault != nil {
			if err := v.s.fault(op); err != nil {
				return fmt.Errorf("%w: memory: %s: %w", domain.ErrStore, op, err)
			}
		}
		return fn(st)
	})
}

var _ domain.Transactor = (*Store)(nil)
