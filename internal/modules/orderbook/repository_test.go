package orderbook_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/orderbook"
)

func setupRepo(t *testing.T) *orderbook.Repository {
	t.Helper()

	open := func(schema string) *sql.DB {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { db.Close() })

		ddl, err := database.Schema(schema)
		require.NoError(t, err)
		_, err = db.Exec(ddl)
		require.NoError(t, err)
		return db
	}

	return orderbook.NewRepository(open("events"), open("cache"), zerolog.Nop())
}

func TestSnapshotRoundTripPreservesDecimals(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now().UnixMilli()

	snap := &domain.OrderbookSnapshot{
		ConditionID: "0xcond",
		Outcome:     "YES",
		Bids: []domain.PriceLevel{{
			Price: decimal.RequireFromString("0.4567"),
			Size:  decimal.RequireFromString("123.456789"),
		}},
		Asks: []domain.PriceLevel{{
			Price: decimal.RequireFromString("0.4789"),
			Size:  decimal.RequireFromString("50"),
		}},
		CapturedAt: now,
		ExpiresAt:  now + 60_000,
	}
	require.NoError(t, repo.SaveSnapshot(snap))

	got, err := repo.GetSnapshot("0xcond", "YES")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Bids[0].Price.Equal(decimal.RequireFromString("0.4567")))
	assert.True(t, got.Bids[0].Size.Equal(decimal.RequireFromString("123.456789")))
	assert.True(t, got.Asks[0].Price.Equal(decimal.RequireFromString("0.4789")))
}

func TestGetSnapshotIgnoresStale(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now().UnixMilli()

	snap := &domain.OrderbookSnapshot{
		ConditionID: "0xstale",
		Outcome:     "YES",
		Bids:        []domain.PriceLevel{},
		Asks:        []domain.PriceLevel{},
		CapturedAt:  now - 120_000,
		ExpiresAt:   now - 60_000, // already expired
	}
	require.NoError(t, repo.SaveSnapshot(snap))

	got, err := repo.GetSnapshot("0xstale", "YES")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAppendEventDeduplicates(t *testing.T) {
	repo := setupRepo(t)

	bid, ask := "0.45", "0.47"
	ev := &domain.OrderbookEvent{
		ConditionID: "0xcond",
		Outcome:     "YES",
		Timestamp:   1700000000000,
		EventType:   domain.OrderbookEventDelta,
		BestBid:     &bid,
		BestAsk:     &ask,
	}

	inserted, err := repo.AppendEvent(ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.AppendEvent(ev)
	require.NoError(t, err)
	assert.False(t, inserted) // same natural id

	got, err := repo.OrderbookEventsInRange("0xcond", "YES", 0, 2000000000000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0.45", *got[0].BestBid)
}

func TestAppendTradesDeduplicates(t *testing.T) {
	repo := setupRepo(t)

	trades := []domain.TradeEvent{
		{ConditionID: "0xcond", Outcome: "YES", Timestamp: 1000, Price: "0.5", Size: "10"},
		{ConditionID: "0xcond", Outcome: "YES", Timestamp: 2000, Price: "0.51", Size: "20"},
	}

	n, err := repo.AppendTrades(trades)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Overlapping batch: only the new row lands
	n, err = repo.AppendTrades([]domain.TradeEvent{
		trades[1],
		{ConditionID: "0xcond", Outcome: "YES", Timestamp: 3000, Price: "0.52", Size: "30"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.TradeEventsInRange("0xcond", "YES", 0, 10000)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
