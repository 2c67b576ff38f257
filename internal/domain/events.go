package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is one rung of an order-book ladder. Price and size stay decimal
// end-to-end; float conversion happens only inside comparators and aggregators.
type PriceLevel struct {
	Price decimal.Decimal `json:"price" msgpack:"p"`
	Size  decimal.Decimal `json:"size" msgpack:"s"`
}

// OrderbookEventType distinguishes persisted order-book events
type OrderbookEventType string

const (
	OrderbookEventSeed  OrderbookEventType = "seed"
	OrderbookEventDelta OrderbookEventType = "delta"
	OrderbookEventPrice OrderbookEventType = "price"
)

// OrderbookEvent is an append-only record of a top-of-book change.
// Best bid/ask/mid are decimal strings; nil means the side was empty.
type OrderbookEvent struct {
	ConditionID string
	Outcome     string
	Timestamp   int64 // epoch millis
	EventType   OrderbookEventType
	BestBid     *string
	BestAsk     *string
	Mid         *string
}

// NaturalID is the deduplication key for the event log
func (e *OrderbookEvent) NaturalID() string {
	bid, ask := "", ""
	if e.BestBid != nil {
		bid = *e.BestBid
	}
	if e.BestAsk != nil {
		ask = *e.BestAsk
	}
	return fmt.Sprintf("%s:%s:%d:%s:%s:%s", e.ConditionID, e.Outcome, e.Timestamp, e.EventType, bid, ask)
}

// TradeEvent is an append-only record of an executed trade
type TradeEvent struct {
	ConditionID string
	Outcome     string
	Timestamp   int64  // epoch millis
	Price       string // decimal strings
	Size        string
	Side        *string
}

// NaturalID is the deduplication key (conditionId:outcome:timestampMs:price:size)
func (t *TradeEvent) NaturalID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", t.ConditionID, t.Outcome, t.Timestamp, t.Price, t.Size)
}

// OrderbookSnapshot is a persisted point-in-time depth capture per
// (market, outcome), stale after ExpiresAt.
type OrderbookSnapshot struct {
	ConditionID string
	Outcome     string
	Bids        []PriceLevel // Non-increasing in price
	Asks        []PriceLevel // Non-decreasing in price
	CapturedAt  int64        // epoch millis
	ExpiresAt   int64
}
