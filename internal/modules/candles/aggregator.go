// Package candles derives OHLCV bars: market candles computed on demand from
// the event log, instrument candles materialized from an external historical
// source behind a gap-checked cache.
package candles

import (
	"strconv"

	"github.com/lanternhq/lantern/internal/domain"
)

// SourceComputed tags bars derived from the event log
const SourceComputed = "computed"

// bucketEvents is the per-bucket event split. Quote and trade timestamps are
// never mixed within one bar.
type bucketEvents struct {
	quotes []domain.OrderbookEvent
	trades []domain.TradeEvent
}

// Aggregate derives candles over [from, to] at the given interval from
// order-book and trade events. Order-book events are preferred per bucket;
// buckets with no events forward-fill from the previous close. Events must be
// pre-filtered to one (market, outcome).
func Aggregate(obEvents []domain.OrderbookEvent, trades []domain.TradeEvent, interval domain.Interval, from, to int64, limit int) []domain.Candle {
	intervalMs := interval.Millis()
	if intervalMs <= 0 || to < from {
		return nil
	}

	alignedFrom := align(from, intervalMs)
	alignedTo := align(to, intervalMs)

	buckets := make(map[int64]*bucketEvents)
	at := func(ts int64) *bucketEvents {
		key := align(ts, intervalMs)
		b, ok := buckets[key]
		if !ok {
			b = &bucketEvents{}
			buckets[key] = b
		}
		return b
	}
	for _, ev := range obEvents {
		b := at(ev.Timestamp)
		b.quotes = append(b.quotes, ev)
	}
	for _, tr := range trades {
		b := at(tr.Timestamp)
		b.trades = append(b.trades, tr)
	}

	// Seed forward-fill from the bucket immediately preceding the range
	lastClose, haveClose := seedClose(buckets[alignedFrom-intervalMs])

	var out []domain.Candle
	for start := alignedFrom; start <= alignedTo; start += intervalMs {
		b := buckets[start]

		prices, volume := bucketPrices(b)
		if len(prices) == 0 {
			if !haveClose {
				continue // nothing to fill from yet
			}
			out = append(out, flatBar(interval, start, intervalMs, lastClose))
			continue
		}

		c := domain.Candle{
			Interval:  interval,
			StartTime: start,
			EndTime:   start + intervalMs,
			Open:      prices[0],
			Close:     prices[len(prices)-1],
			High:      prices[0],
			Low:       prices[0],
			Volume:    volume,
			Source:    SourceComputed,
		}
		for _, p := range prices[1:] {
			if p > c.High {
				c.High = p
			}
			if p < c.Low {
				c.Low = p
			}
		}
		out = append(out, c)
		lastClose, haveClose = c.Close, true
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// bucketPrices derives the price series for one bucket. Order-book events
// win when present (price priority mid > bestBid > bestAsk); otherwise
// trades supply prices and volume.
func bucketPrices(b *bucketEvents) (prices []float64, volume float64) {
	if b == nil {
		return nil, 0
	}
	if len(b.quotes) > 0 {
		for _, ev := range b.quotes {
			if p, ok := quotePrice(ev); ok {
				prices = append(prices, p)
			}
		}
		if len(prices) > 0 {
			return prices, 0 // volume only accumulates from trades
		}
	}
	for _, tr := range b.trades {
		p, err := strconv.ParseFloat(tr.Price, 64)
		if err != nil {
			continue
		}
		prices = append(prices, p)
		if sz, err := strconv.ParseFloat(tr.Size, 64); err == nil {
			volume += sz
		}
	}
	return prices, volume
}

// quotePrice picks the representative price of an order-book event:
// mid, then best bid, then best ask
func quotePrice(ev domain.OrderbookEvent) (float64, bool) {
	for _, s := range []*string{ev.Mid, ev.BestBid, ev.BestAsk} {
		if s == nil {
			continue
		}
		if p, err := strconv.ParseFloat(*s, 64); err == nil {
			return p, true
		}
	}
	return 0, false
}

// seedClose takes the close of the seed bucket: the price of its most recent
// event, quotes preferred
func seedClose(b *bucketEvents) (float64, bool) {
	if b == nil {
		return 0, false
	}
	if prices, _ := bucketPrices(b); len(prices) > 0 {
		return prices[len(prices)-1], true
	}
	return 0, false
}

func flatBar(interval domain.Interval, start, intervalMs int64, close float64) domain.Candle {
	return domain.Candle{
		Interval:  interval,
		StartTime: start,
		EndTime:   start + intervalMs,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    0,
		Source:    SourceComputed,
	}
}

func align(ts, intervalMs int64) int64 {
	return (ts / intervalMs) * intervalMs
}
