package candles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/domain"
)

func quoteEvent(ts int64, mid string) domain.OrderbookEvent {
	return domain.OrderbookEvent{
		ConditionID: "0xcond",
		Outcome:     "YES",
		Timestamp:   ts,
		EventType:   domain.OrderbookEventDelta,
		Mid:         &mid,
	}
}

func tradeEvent(ts int64, price, size string) domain.TradeEvent {
	return domain.TradeEvent{
		ConditionID: "0xcond",
		Outcome:     "YES",
		Timestamp:   ts,
		Price:       price,
		Size:        size,
	}
}

func TestAggregateForwardFillsEmptyBuckets(t *testing.T) {
	// Minute bars over a 5-minute window. Only the first and fourth minute
	// carry events; the gap must produce flat zero-volume bars.
	base := int64(1700000000000 - 1700000000000%60_000)

	obEvents := []domain.OrderbookEvent{
		quoteEvent(base+1_000, "0.40"),
		quoteEvent(base+30_000, "0.44"),
		quoteEvent(base+3*60_000+5_000, "0.50"),
	}

	out := Aggregate(obEvents, nil, domain.Interval1m, base, base+4*60_000, 0)
	require.Len(t, out, 5)

	assert.Equal(t, 0.40, out[0].Open)
	assert.Equal(t, 0.44, out[0].Close)

	// Minutes 2 and 3: flat fill from the last close
	for _, c := range out[1:3] {
		assert.Equal(t, 0.44, c.Open)
		assert.Equal(t, 0.44, c.High)
		assert.Equal(t, 0.44, c.Low)
		assert.Equal(t, 0.44, c.Close)
		assert.Zero(t, c.Volume)
	}

	assert.Equal(t, 0.50, out[3].Close)
	assert.Equal(t, 0.50, out[4].Close) // filled again after the last event
	assert.Equal(t, SourceComputed, out[0].Source)
}

func TestAggregateSkipsLeadingBucketsWithoutSeed(t *testing.T) {
	base := int64(1700000040000)
	obEvents := []domain.OrderbookEvent{quoteEvent(base+2*60_000+10_000, "0.60")}

	out := Aggregate(obEvents, nil, domain.Interval1m, base, base+3*60_000, 0)

	// No prior close exists, so nothing is emitted before the first event
	require.Len(t, out, 2)
	assert.Equal(t, base+2*60_000, out[0].StartTime)
	assert.Equal(t, 0.60, out[0].Open)
}

func TestAggregateSeedsFromPrecedingBucket(t *testing.T) {
	base := int64(1700000040000)
	obEvents := []domain.OrderbookEvent{quoteEvent(base-30_000, "0.33")} // before the range

	out := Aggregate(obEvents, nil, domain.Interval1m, base, base+60_000, 0)

	require.Len(t, out, 2)
	for _, c := range out {
		assert.Equal(t, 0.33, c.Close)
		assert.Zero(t, c.Volume)
	}
}

func TestAggregatePrefersQuotesAndTakesVolumeFromTrades(t *testing.T) {
	base := int64(1700000040000)

	obEvents := []domain.OrderbookEvent{quoteEvent(base+1_000, "0.45")}
	trades := []domain.TradeEvent{
		tradeEvent(base+2_000, "0.99", "100"), // same bucket as the quote
		tradeEvent(base+60_000+5_000, "0.48", "25"),
		tradeEvent(base+60_000+10_000, "0.52", "10"),
	}

	out := Aggregate(obEvents, trades, domain.Interval1m, base, base+60_000, 0)
	require.Len(t, out, 2)

	// Bucket 1 has a quote, so the trade price is ignored and volume is zero
	assert.Equal(t, 0.45, out[0].Close)
	assert.Zero(t, out[0].Volume)

	// Bucket 2 has only trades: OHLC from trade prices, volume summed
	assert.Equal(t, 0.48, out[1].Open)
	assert.Equal(t, 0.52, out[1].Close)
	assert.Equal(t, 35.0, out[1].Volume)
}

func TestAggregateTailLimit(t *testing.T) {
	base := int64(1700000040000)
	obEvents := []domain.OrderbookEvent{quoteEvent(base+1_000, "0.45")}

	out := Aggregate(obEvents, nil, domain.Interval1m, base, base+9*60_000, 3)
	require.Len(t, out, 3)
	assert.Equal(t, base+7*60_000, out[0].StartTime) // most recent bars win
}

func TestAggregateMalformedTradePricesSkipped(t *testing.T) {
	base := int64(1700000040000)
	trades := []domain.TradeEvent{
		tradeEvent(base+1_000, "garbage", "10"),
		tradeEvent(base+2_000, "0.50", "5"),
	}

	out := Aggregate(nil, trades, domain.Interval1m, base, base, 0)
	require.Len(t, out, 1)
	assert.Equal(t, 0.50, out[0].Open)
	assert.Equal(t, 5.0, out[0].Volume)
}
