package memory

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// OrderStore implements domain.OrderStore. Orders are kept in insertion
// order, which is the matching priority.
type OrderStore struct{ v view }

func (o *OrderStore) Create(_ context.Context, order domain.Order) error {
	return o.v.write("create order", func(st *state) error {
		if _, ok := st.orderIdx[order.ID]; ok {
			return domain.ErrAlreadyExists
		}
		now := time.Now().UTC()
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		order.UpdatedAt = now
		st.orderIdx[order.ID] = len(st.orders)
		st.orders = append(st.orders, order)
		return nil
	})
}

func (o *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	var out domain.Order
	err := o.v.read(func(st *state) error {
		i, ok := st.orderIdx[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = st.orders[i]
		return nil
	})
	return out, err
}

func (o *OrderStore) ListResting(_ context.Context, marketID, outcomeID string, side domain.OrderSide, excludeUser string) ([]domain.Order, error) {
	var out []domain.Order
	err := o.v.read(func(st *state) error {
		for _, ord := range st.orders {
			if ord.MarketID == marketID && ord.OutcomeID == outcomeID && ord.Side == side &&
				ord.UserID != excludeUser && ord.Resting() {
				out = append(out, ord)
			}
		}
		return nil
	})
	return out, err
}

func (o *OrderStore) UpdateFill(_ context.Context, id string, remaining decimal.Decimal, status domain.OrderStatus) error {
	return o.v.write("update order", func(st *state) error {
		i, ok := st.orderIdx[id]
		if !ok {
			return domain.ErrNotFound
		}
		st.orders[i].Remaining = remaining
		st.orders[i].Status = status
		st.orders[i].UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (o *OrderStore) SumPendingSells(_ context.Context, userID, outcomeID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := o.v.read(func(st *state) error {
		for _, ord := range st.orders {
			if ord.UserID == userID && ord.OutcomeID == outcomeID &&
				ord.Side == domain.OrderSideSell && ord.Status == domain.OrderStatusPending {
				sum = sum.Add(ord.Remaining)
			}
		}
		return nil
	})
	return sum, err
}

func (o *OrderStore) CancelPending(_ context.Context, marketID string) ([]domain.Order, error) {
	var out []domain.Order
	err := o.v.write("cancel pending orders", func(st *state) error {
		now := time.Now().UTC()
		for i, ord := range st.orders {
			if ord.MarketID != marketID || ord.Status != domain.OrderStatusPending {
				continue
			}
			out = append(out, ord)
			st.orders[i].Status = domain.OrderStatusCancelled
			st.orders[i].UpdatedAt = now
		}
		return nil
	})
	return out, err
}

func (o *OrderStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	return o.list(opts, func(ord domain.Order) bool { return ord.MarketID == marketID })
}

func (o *OrderStore) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Order, error) {
	return o.list(opts, func(ord domain.Order) bool { return ord.UserID == userID })
}

func (o *OrderStore) ListBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	var out []domain.Order
	err := o.v.read(func(st *state) error {
		for _, ord := range st.orders {
			if ord.Status != domain.OrderStatusPending && ord.CreatedAt.Before(before) {
				out = append(out, ord)
			}
		}
		return nil
	})
	return out, err
}

func (o *OrderStore) list(opts domain.ListOpts, keep func(domain.Order) bool) ([]domain.Order, error) {
	var out []domain.Order
	err := o.v.read(func(st *state) error {
		for _, ord := range slices.Backward(st.orders) {
			if keep(ord) && inRange(ord.CreatedAt, opts) {
				out = append(out, ord)
			}
		}
		return nil
	})
	return page(out, opts), err
}

// TradeStore implements domain.TradeStore.
type TradeStore struct{ v view }

func (t *TradeStore) Insert(_ context.Context, trade domain.Trade) error {
	return t.v.write("insert trade", func(st *state) error {
		if trade.CreatedAt.IsZero() {
			trade.CreatedAt = time.Now().UTC()
		}
		st.trades = append(st.trades, trade)
		return nil
	})
}

func (t *TradeStore) ListByMarket(_ context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	err := t.v.read(func(st *state) error {
		for _, tr := range slices.Backward(st.trades) {
			if tr.MarketID == marketID && inRange(tr.CreatedAt, opts) {
				out = append(out, tr)
			}
		}
		return nil
	})
	return page(out, opts), err
}

func (t *TradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	err := t.v.read(func(st *state) error {
		for _, tr := range st.trades {
			if tr.CreatedAt.Before(before) {
				out = append(out, tr)
			}
		}
		return nil
	})
	return out, err
}

func inRange(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
