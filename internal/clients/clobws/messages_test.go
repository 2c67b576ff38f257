package clobws

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *[]Message) {
	t.Helper()
	c := NewClient("ws://unused", time.Second, time.Second, 30*time.Second, zerolog.Nop())
	var got []Message
	c.SetHandler(func(msg Message) { got = append(got, msg) })
	return c, &got
}

func TestHandleFrameBookEmitsFramedDeltas(t *testing.T) {
	c, got := newTestClient(t)

	frame := `{
		"event_type": "book",
		"asset_id": "token-1",
		"market": "0xcond",
		"timestamp": "1700000000000",
		"bids": [{"price": "0.45", "size": "100"}, {"price": "0.44", "size": "50"}],
		"asks": [{"price": "0.47", "size": "80"}]
	}`
	require.NoError(t, c.handleFrame([]byte(frame)))

	require.Len(t, *got, 5)
	assert.Equal(t, SnapshotStart, (*got)[0].Snapshot)
	assert.Equal(t, "BID", (*got)[1].Side)
	assert.Equal(t, "0.45", (*got)[1].Price)
	assert.Equal(t, "BID", (*got)[2].Side)
	assert.Equal(t, "ASK", (*got)[3].Side)
	assert.Equal(t, "80", (*got)[3].Size)
	assert.Equal(t, SnapshotEnd, (*got)[4].Snapshot)

	for _, msg := range *got {
		assert.Equal(t, TypeOrderbookUpdate, msg.Type)
		assert.Equal(t, "token-1", msg.AssetID)
		assert.Equal(t, "0xcond", msg.Market)
		assert.Equal(t, int64(1700000000000), msg.Timestamp)
	}
}

func TestHandleFramePriceChangeBatch(t *testing.T) {
	c, got := newTestClient(t)

	frame := `[{
		"event_type": "price_change",
		"market": "0xcond",
		"timestamp": "1700000001000",
		"price_changes": [
			{"asset_id": "token-1", "price": "0.46", "size": "0", "side": "BUY", "best_bid": "0.45", "best_ask": "0.47"},
			{"asset_id": "token-1", "price": "0.44", "size": "25", "side": "SELL"}
		]
	}]`
	require.NoError(t, c.handleFrame([]byte(frame)))

	// First change carries best prices, so it yields a delta plus a price update
	require.Len(t, *got, 3)
	assert.Equal(t, TypeOrderbookUpdate, (*got)[0].Type)
	assert.Equal(t, "BID", (*got)[0].Side)
	assert.Equal(t, "0", (*got)[0].Size)
	assert.Equal(t, TypePriceUpdate, (*got)[1].Type)
	assert.Equal(t, "0.45", (*got)[1].BestBid)
	assert.Equal(t, "0.47", (*got)[1].BestAsk)
	assert.Equal(t, TypeOrderbookUpdate, (*got)[2].Type)
	assert.Equal(t, "ASK", (*got)[2].Side)
}

func TestHandleFrameLastTradePrice(t *testing.T) {
	c, got := newTestClient(t)

	frame := `{
		"event_type": "last_trade_price",
		"asset_id": "token-2",
		"market": "0xcond",
		"price": "0.52",
		"size": "310",
		"side": "SELL",
		"timestamp": "1700000002000"
	}`
	require.NoError(t, c.handleFrame([]byte(frame)))

	require.Len(t, *got, 1)
	assert.Equal(t, TypeTrade, (*got)[0].Type)
	assert.Equal(t, "ASK", (*got)[0].Side)
	assert.Equal(t, "0.52", (*got)[0].Price)
}

func TestHandleFrameHeartbeatAndUnknown(t *testing.T) {
	c, got := newTestClient(t)

	require.NoError(t, c.handleFrame([]byte("PONG")))
	require.NoError(t, c.handleFrame([]byte(`{"event_type": "tick_size_change", "asset_id": "x"}`)))
	assert.Empty(t, *got)

	assert.Error(t, c.handleFrame([]byte(`{not json`)))
}
