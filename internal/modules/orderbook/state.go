// Package orderbook owns the live per-(market, outcome) order-book state,
// its persistence into the append-only event log, and the stream service
// consuming the market WebSocket.
package orderbook

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lanternhq/lantern/internal/domain"
)

// two is the midpoint divisor, hoisted to avoid re-parsing per event
var two = decimal.NewFromInt(2)

// State holds the sorted side ladders for one (market, outcome).
// Exclusively owned by the stream service; no internal locking.
type State struct {
	ConditionID string
	Outcome     string

	bids map[string]decimal.Decimal // price string -> size
	asks map[string]decimal.Decimal

	// Between a snapshot start and end mark, deltas rebuild the ladders
	// without emitting events
	inSnapshot bool
}

// NewState creates empty ladders for a (market, outcome)
func NewState(conditionID, outcome string) *State {
	return &State{
		ConditionID: conditionID,
		Outcome:     outcome,
		bids:        make(map[string]decimal.Decimal),
		asks:        make(map[string]decimal.Decimal),
	}
}

// Seed replaces both ladders from a REST snapshot
func (s *State) Seed(snap *domain.OrderbookSnapshot) {
	s.bids = make(map[string]decimal.Decimal, len(snap.Bids))
	for _, lvl := range snap.Bids {
		s.bids[lvl.Price.String()] = lvl.Size
	}
	s.asks = make(map[string]decimal.Decimal, len(snap.Asks))
	for _, lvl := range snap.Asks {
		s.asks[lvl.Price.String()] = lvl.Size
	}
	s.inSnapshot = false
}

// BeginSnapshot resets both ladders; deltas up to EndSnapshot rebuild them
func (s *State) BeginSnapshot() {
	s.bids = make(map[string]decimal.Decimal)
	s.asks = make(map[string]decimal.Decimal)
	s.inSnapshot = true
}

// EndSnapshot closes the snapshot frame
func (s *State) EndSnapshot() {
	s.inSnapshot = false
}

// InSnapshot reports whether a snapshot frame is open. Deltas inside the
// frame must not emit events.
func (s *State) InSnapshot() bool {
	return s.inSnapshot
}

// ApplyDelta sets a level. Size zero removes the level; otherwise it
// replaces. Returns false for an unparseable price or size.
func (s *State) ApplyDelta(side, price, size string) bool {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return false
	}
	sz, err := decimal.NewFromString(size)
	if err != nil {
		return false
	}

	var ladder map[string]decimal.Decimal
	switch side {
	case "BID":
		ladder = s.bids
	case "ASK":
		ladder = s.asks
	default:
		return false
	}

	key := p.String()
	if sz.IsZero() {
		delete(ladder, key)
	} else {
		ladder[key] = sz
	}
	return true
}

// BestBid returns the highest bid price, nil when the side is empty
func (s *State) BestBid() *decimal.Decimal {
	return bestPrice(s.bids, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}

// BestAsk returns the lowest ask price, nil when the side is empty
func (s *State) BestAsk() *decimal.Decimal {
	return bestPrice(s.asks, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
}

// Mid returns (bestBid+bestAsk)/2, nil unless both sides are populated
func (s *State) Mid() *decimal.Decimal {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid == nil || ask == nil {
		return nil
	}
	mid := bid.Add(*ask).Div(two)
	return &mid
}

// Snapshot materializes the ladders into a persisted snapshot record: bids
// non-increasing, asks non-decreasing.
func (s *State) Snapshot(capturedAt, expiresAt int64) *domain.OrderbookSnapshot {
	return &domain.OrderbookSnapshot{
		ConditionID: s.ConditionID,
		Outcome:     s.Outcome,
		Bids:        sortedLevels(s.bids, true),
		Asks:        sortedLevels(s.asks, false),
		CapturedAt:  capturedAt,
		ExpiresAt:   expiresAt,
	}
}

func bestPrice(ladder map[string]decimal.Decimal, better func(a, b decimal.Decimal) bool) *decimal.Decimal {
	var best *decimal.Decimal
	for price := range ladder {
		p, err := decimal.NewFromString(price)
		if err != nil {
			continue
		}
		if best == nil || better(p, *best) {
			v := p
			best = &v
		}
	}
	return best
}

func sortedLevels(ladder map[string]decimal.Decimal, descending bool) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(ladder))
	for price, size := range ladder {
		p, err := decimal.NewFromString(price)
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: p, Size: size})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}
