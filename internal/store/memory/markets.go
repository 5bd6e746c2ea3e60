package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// MarketStore implements domain.MarketStore.
type MarketStore struct{ v view }

func (m *MarketStore) Create(_ context.Context, market domain.Market) error {
	return m.v.write("create market", func(st *state) error {
		if _, ok := st.markets[market.ID]; ok {
			return domain.ErrAlreadyExists
		}
		if market.CreatedAt.IsZero() {
			market.CreatedAt = time.Now().UTC()
		}
		market.UpdatedAt = market.CreatedAt
		st.markets[market.ID] = market
		return nil
	})
}

func (m *MarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	var out domain.Market
	err := m.v.read(func(st *state) error {
		market, ok := st.markets[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = market
		return nil
	})
	return out, err
}

func (m *MarketStore) ListOpen(_ context.Context) ([]domain.Market, error) {
	var out []domain.Market
	err := m.v.read(func(st *state) error {
		for _, market := range st.markets {
			if market.Open() {
				out = append(out, market)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Market) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (m *MarketStore) MarkResolved(_ context.Context, id, outcomeName string, closedAt time.Time) error {
	return m.v.write("resolve market", func(st *state) error {
		market, ok := st.markets[id]
		if !ok {
			return domain.ErrNotFound
		}
		if !market.Open() {
			return domain.ErrAlreadyResolved
		}
		market.Status = domain.MarketStatusResolved
		market.Outcome = outcomeName
		market.ClosesAt = &closedAt
		market.UpdatedAt = closedAt
		st.markets[id] = market
		return nil
	})
}

// OutcomeStore implements domain.OutcomeStore.
type OutcomeStore struct{ v view }

func (o *OutcomeStore) CreateOption(_ context.Context, opt domain.Option) error {
	return o.v.write("create option", func(st *state) error {
		for _, existing := range st.options {
			if existing.ID == opt.ID {
				return domain.ErrAlreadyExists
			}
		}
		st.options = append(st.options, opt)
		return nil
	})
}

func (o *OutcomeStore) CreateOutcome(_ context.Context, out domain.Outcome) error {
	return o.v.write("create outcome", func(st *state) error {
		if _, ok := st.outcomes[out.ID]; ok {
			return domain.ErrAlreadyExists
		}
		if out.UpdatedAt.IsZero() {
			out.UpdatedAt = time.Now().UTC()
		}
		st.outcomes[out.ID] = out
		return nil
	})
}

func (o *OutcomeStore) GetByID(_ context.Context, id string) (domain.Outcome, error) {
	var out domain.Outcome
	err := o.v.read(func(st *state) error {
		oc, ok := st.outcomes[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = oc
		return nil
	})
	return out, err
}

func (o *OutcomeStore) ListByMarket(_ context.Context, marketID string) ([]domain.Outcome, error) {
	var out []domain.Outcome
	err := o.v.read(func(st *state) error {
		for _, oc := range st.outcomes {
			if oc.MarketID == marketID {
				out = append(out, oc)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Outcome) int { return strings.Compare(a.ID, b.ID) })
	return out, err
}

func (o *OutcomeStore) ListOptions(_ context.Context, marketID string) ([]domain.Option, error) {
	var out []domain.Option
	err := o.v.read(func(st *state) error {
		for _, opt := range st.options {
			if opt.MarketID == marketID {
				out = append(out, opt)
			}
		}
		return nil
	})
	return out, err
}

func (o *OutcomeStore) FindOption(_ context.Context, marketID, outcomeID string) (domain.Option, error) {
	var out domain.Option
	err := o.v.read(func(st *state) error {
		for _, opt := range st.options {
			if opt.MarketID == marketID && opt.Contains(outcomeID) {
				out = opt
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (o *OutcomeStore) SetPrices(_ context.Context, writes []domain.PriceWrite) error {
	return o.v.write("set prices", func(st *state) error {
		for _, w := range writes {
			oc, ok := st.outcomes[w.OutcomeID]
			if !ok {
				return domain.ErrNotFound
			}
			if oc.Version != w.Version {
				return domain.ErrConflict
			}
		}
		now := time.Now().UTC()
		for _, w := range writes {
			oc := st.outcomes[w.OutcomeID]
			oc.CurrentPrice = w.Price
			oc.Version++
			oc.UpdatedAt = now
			st.outcomes[w.OutcomeID] = oc
		}
		return nil
	})
}

func (o *OutcomeStore) SetWinners(_ context.Context, winners, losers []string) error {
	return o.v.write("set winners", func(st *state) error {
		mark := func(ids []string, won bool) {
			for _, id := range ids {
				oc, ok := st.outcomes[id]
				if !ok {
					continue
				}
				w := won
				oc.IsWinner = &w
				st.outcomes[id] = oc
			}
		}
		mark(winners, true)
		mark(losers, false)
		return nil
	})
}
