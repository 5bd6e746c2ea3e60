package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

func positionKey(userID, outcomeID string) string {
	return userID + "|" + outcomeID
}

// PositionStore implements domain.PositionStore.
type PositionStore struct{ v view }

func (p *PositionStore) Get(_ context.Context, userID, outcomeID string) (domain.Position, error) {
	out := domain.Position{UserID: userID, OutcomeID: outcomeID}
	err := p.v.read(func(st *state) error {
		if pos, ok := st.positions[positionKey(userID, outcomeID)]; ok {
			out = pos
		}
		return nil
	})
	return out, err
}

func (p *PositionStore) Adjust(_ context.Context, userID, marketID, outcomeID string, delta decimal.Decimal) error {
	return p.v.write("adjust position", func(st *state) error {
		key := positionKey(userID, outcomeID)
		pos, ok := st.positions[key]
		if !ok {
			pos = domain.Position{UserID: userID, MarketID: marketID, OutcomeID: outcomeID}
		}
		pos.Amount = pos.Amount.Add(delta)
		pos.UpdatedAt = time.Now().UTC()
		st.positions[key] = pos
		return nil
	})
}

func (p *PositionStore) ListByMarket(_ context.Context, marketID string) ([]domain.Position, error) {
	return p.list(func(pos domain.Position) bool { return pos.MarketID == marketID })
}

func (p *PositionStore) ListByUser(_ context.Context, userID string) ([]domain.Position, error) {
	return p.list(func(pos domain.Position) bool { return pos.UserID == userID })
}

func (p *PositionStore) ListHolders(_ context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	err := p.v.read(func(st *state) error {
		for _, pos := range st.positions {
			seen[pos.UserID] = struct{}{}
		}
		return nil
	})
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, err
}

func (p *PositionStore) DeleteByMarket(_ context.Context, marketID string) (int64, error) {
	var n int64
	err := p.v.write("delete positions", func(st *state) error {
		for key, pos := range st.positions {
			if pos.MarketID == marketID {
				delete(st.positions, key)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (p *PositionStore) list(keep func(domain.Position) bool) ([]domain.Position, error) {
	var out []domain.Position
	err := p.v.read(func(st *state) error {
		for _, pos := range st.positions {
			if keep(pos) {
				out = append(out, pos)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Position) int {
		return strings.Compare(positionKey(a.UserID, a.OutcomeID), positionKey(b.UserID, b.OutcomeID))
	})
	return out, err
}

// UserStore implements domain.UserStore.
type UserStore struct{ v view }

func (u *UserStore) Create(_ context.Context, user domain.User) error {
	return u.v.write("create user", func(st *state) error {
		if _, ok := st.users[user.ID]; ok {
			return domain.ErrAlreadyExists
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		st.users[user.ID] = user
		return nil
	})
}

func (u *UserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	var out domain.User
	err := u.v.read(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = user
		return nil
	})
	return out, err
}

// GetForUpdate is GetByID. Transactions are already serialised by the
// store mutex.
func (u *UserStore) GetForUpdate(ctx context.Context, id string) (domain.User, error) {
	return u.GetByID(ctx, id)
}

// AdjustBalance adds delta to the balance. It refuses to go below zero, as
// the postgres schema does.
func (u *UserStore) AdjustBalance(_ context.Context, id string, delta decimal.Decimal) error {
	return u.v.write("adjust balance", func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		next := user.Balance.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: have %s, need %s", domain.ErrInsufficientBalance, user.Balance, delta.Neg())
		}
		user.Balance = next
		st.users[id] = user
		return nil
	})
}

func (u *UserStore) AddProfit(_ context.Context, id string, delta decimal.Decimal) error {
	return u.update("add profit", id, func(user *domain.User) { user.Profit = user.Profit.Add(delta) })
}

func (u *UserStore) SetPositionsValue(_ context.Context, id string, value decimal.Decimal) error {
	return u.update("set positions value", id, func(user *domain.User) { user.PositionsValue = value })
}

func (u *UserStore) update(op, id string, fn func(*domain.User)) error {
	return u.v.write(op, func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		fn(&user)
		st.users[id] = user
		return nil
	})
}

// PriceHistoryStore implements domain.PriceHistoryStore.
type PriceHistoryStore struct{ v view }

func (h *PriceHistoryStore) Record(_ context.Context, points []domain.PricePoint) error {
	return h.v.write("record prices", func(st *state) error {
		st.history = append(st.history, points...)
		return nil
	})
}

func (h *PriceHistoryStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.PricePoint, error) {
	var out []domain.PricePoint
	err := h.v.read(func(st *state) error {
		for _, pt := range st.history {
			if pt.MarketID == marketID && inRange(pt.RecordedAt, opts) {
				out = append(out, pt)
			}
		}
		return nil
	})
	return page(out, opts), err
}

func (h *PriceHistoryStore) ListBefore(_ context.Context, before time.Time) ([]domain.PricePoint, error) {
	var out []domain.PricePoint
	err := h.v.read(func(st *state) error {
		for _, pt := range st.history {
			if pt.RecordedAt.Before(before) {
				out = append(out, pt)
			}
		}
		return nil
	})
	return out, err
}

func (h *PriceHistoryStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := h.v.write("prune prices", func(st *state) error {
		kept := make([]domain.PricePoint, 0, len(st.history))
		for _, pt := range st.history {
			if pt.RecordedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, pt)
		}
		st.history = kept
		return nil
	})
	return n, err
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ v view }

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	return a.v.write("audit", func(st *state) error {
		st.audit = append(st.audit, domain.AuditEntry{
			ID:        int64(len(st.audit) + 1),
			Event:     event,
			Detail:    detail,
			CreatedAt: time.Now().UTC(),
		})
		return nil
	})
}

func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := a.v.read(func(st *state) error {
		for _, e := range slices.Backward(st.audit) {
			if inRange(e.CreatedAt, opts) {
				out = append(out, e)
			}
		}
		return nil
	})
	return page(out, opts), err
}
