package metrics_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/metrics"
)

func setupRepo(t *testing.T) (*metrics.Repository, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ddl, err := database.Schema("core")
	require.NoError(t, err)
	_, err = db.Exec(ddl)
	require.NoError(t, err)

	return metrics.NewRepository(db, zerolog.Nop()), db
}

func insertInstrument(t *testing.T, db *sql.DB, id, symbol string, instrumentType domain.InstrumentType) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO instruments (id, type, symbol, exchange, name, status, created_at, updated_at)
		VALUES (?, ?, ?, 'ARCA', ?, 'ACTIVE', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		id, string(instrumentType), symbol, symbol)
	require.NoError(t, err)
}

func f(v float64) *float64 { return &v }

func TestUpsertMetricPreservesNullables(t *testing.T) {
	repo, db := setupRepo(t)
	insertInstrument(t, db, "etf-1", "XYZ", domain.InstrumentETF)

	require.NoError(t, repo.UpsertMetric(&domain.EtfMetric{
		InstrumentID: "etf-1",
		AsOfDate:     "2026-08-20",
		SourceType:   "provider",
		NAV:          f(101.5),
		FlowUnits:    f(-1200),
	}))

	// Second write for the same tuple carries only premium/discount: NAV and
	// flows from the first write must survive
	require.NoError(t, repo.UpsertMetric(&domain.EtfMetric{
		InstrumentID:    "etf-1",
		AsOfDate:        "2026-08-20",
		SourceType:      "provider",
		PremiumDiscount: f(-0.42),
	}))

	got, err := repo.FindRange("etf-1", "2026-08-20", "2026-08-20")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].NAV)
	assert.Equal(t, 101.5, *got[0].NAV)
	require.NotNil(t, got[0].FlowUnits)
	assert.Equal(t, -1200.0, *got[0].FlowUnits)
	require.NotNil(t, got[0].PremiumDiscount)
	assert.Equal(t, -0.42, *got[0].PremiumDiscount)
	assert.Nil(t, got[0].APConcentration)
}

func TestLatestOrdersNewestFirst(t *testing.T) {
	repo, db := setupRepo(t)
	insertInstrument(t, db, "etf-1", "XYZ", domain.InstrumentETF)

	for _, date := range []string{"2026-08-18", "2026-08-20", "2026-08-19"} {
		require.NoError(t, repo.UpsertMetric(&domain.EtfMetric{
			InstrumentID: "etf-1",
			AsOfDate:     date,
			SourceType:   "provider",
			NAV:          f(100),
		}))
	}

	got, err := repo.Latest("etf-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-08-20", got[0].AsOfDate)
	assert.Equal(t, "2026-08-19", got[1].AsOfDate)
}

func TestAPDetailUpsertAndLatestDate(t *testing.T) {
	repo, db := setupRepo(t)
	insertInstrument(t, db, "etf-1", "XYZ", domain.InstrumentETF)

	require.NoError(t, repo.UpsertAPDetails([]domain.EtfApDetail{
		{InstrumentID: "etf-1", AsOfDate: "2026-08-19", APName: "AP One", CreationUnits: 100},
		{InstrumentID: "etf-1", AsOfDate: "2026-08-20", APName: "AP One", CreationUnits: 400},
		{InstrumentID: "etf-1", AsOfDate: "2026-08-20", APName: "AP Two", CreationUnits: 100},
	}))

	// Re-upsert replaces creation units on the same tuple
	require.NoError(t, repo.UpsertAPDetails([]domain.EtfApDetail{
		{InstrumentID: "etf-1", AsOfDate: "2026-08-20", APName: "AP Two", CreationUnits: 150},
	}))

	date, err := repo.LatestAPDate("etf-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-20", date)

	details, err := repo.APDetailsByDate("etf-1", "2026-08-20")
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, "AP One", details[0].APName) // biggest first
	assert.Equal(t, 150.0, details[1].CreationUnits)

	date, err = repo.LatestAPDate("etf-none")
	require.NoError(t, err)
	assert.Empty(t, date)
}

func TestHerfindahl(t *testing.T) {
	hhi, ok := metrics.Herfindahl([]domain.EtfApDetail{
		{APName: "A", CreationUnits: 50},
		{APName: "B", CreationUnits: 50},
	})
	require.True(t, ok)
	assert.InDelta(t, 0.5, hhi, 1e-9)

	hhi, ok = metrics.Herfindahl([]domain.EtfApDetail{{APName: "A", CreationUnits: 10}})
	require.True(t, ok)
	assert.Equal(t, 1.0, hhi)

	// Redemptions (negative units) do not count toward concentration
	hhi, ok = metrics.Herfindahl([]domain.EtfApDetail{
		{APName: "A", CreationUnits: 100},
		{APName: "B", CreationUnits: -40},
	})
	require.True(t, ok)
	assert.Equal(t, 1.0, hhi)

	_, ok = metrics.Herfindahl(nil)
	assert.False(t, ok)
}

type fakeInstruments struct {
	etfs []domain.Instrument
}

func (fi *fakeInstruments) ListActiveByType(instrumentType domain.InstrumentType) ([]domain.Instrument, error) {
	return fi.etfs, nil
}

func TestComputeDailyWritesDerivedConcentration(t *testing.T) {
	repo, db := setupRepo(t)
	insertInstrument(t, db, "etf-1", "XYZ", domain.InstrumentETF)
	insertInstrument(t, db, "etf-2", "ABC", domain.InstrumentETF)

	require.NoError(t, repo.UpsertAPDetails([]domain.EtfApDetail{
		{InstrumentID: "etf-1", AsOfDate: "2026-08-20", APName: "AP One", CreationUnits: 900},
		{InstrumentID: "etf-1", AsOfDate: "2026-08-20", APName: "AP Two", CreationUnits: 100},
	}))

	svc := metrics.NewService(repo, &fakeInstruments{etfs: []domain.Instrument{
		{ID: "etf-1", Symbol: "XYZ"},
		{ID: "etf-2", Symbol: "ABC"}, // no AP data: skipped without error
	}}, zerolog.Nop())

	require.NoError(t, svc.ComputeDaily(context.Background()))

	got, err := repo.FindRange("etf-1", "2026-08-20", "2026-08-20")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, metrics.SourceDerived, got[0].SourceType)
	require.NotNil(t, got[0].APConcentration)
	assert.InDelta(t, 0.81+0.01, *got[0].APConcentration, 1e-9)

	empty, err := repo.FindRange("etf-2", "2026-08-01", "2026-08-31")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
