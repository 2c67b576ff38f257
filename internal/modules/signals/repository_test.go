package signals_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/signals"
)

func setupRepo(t *testing.T) *signals.Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ddl, err := database.Schema("core")
	require.NoError(t, err)
	_, err = db.Exec(ddl)
	require.NoError(t, err)

	return signals.NewRepository(db, zerolog.Nop())
}

func signal(instrumentID string, sigType domain.SignalType, score float64, expiresAt time.Time) *domain.Signal {
	return &domain.Signal{
		InstrumentID: instrumentID,
		Type:         sigType,
		Severity:     domain.SeverityForScore(score, 0.8),
		Score:        score,
		Confidence:   0.8,
		Reason:       "test signal",
		Evidence:     []map[string]interface{}{{"type": "TEST"}},
		ComputedAt:   time.Now().UTC(),
		ExpiresAt:    expiresAt,
	}
}

func TestUpsertReplacesByInstrumentAndType(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Upsert(signal("inst-1", domain.SignalDilutionRisk, 60, now.Add(time.Hour))))
	require.NoError(t, repo.Upsert(signal("inst-1", domain.SignalDilutionRisk, 80, now.Add(time.Hour))))
	require.NoError(t, repo.Upsert(signal("inst-1", domain.SignalGoingConcern, 90, now.Add(time.Hour))))

	active, err := repo.ActiveByInstrument("inst-1", now)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, domain.SignalGoingConcern, active[0].Type) // strongest first
	assert.Equal(t, 80.0, active[1].Score)                     // replaced, not duplicated
}

func TestActiveQueriesExcludeExpired(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Upsert(signal("inst-1", domain.SignalDilutionRisk, 60, now.Add(-time.Minute))))
	require.NoError(t, repo.Upsert(signal("inst-2", domain.SignalDilutionRisk, 70, now.Add(time.Hour))))

	active, err := repo.ActiveByInstrument("inst-1", now)
	require.NoError(t, err)
	assert.Empty(t, active)

	byType, err := repo.ActiveByType(domain.SignalDilutionRisk, now)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "inst-2", byType[0].InstrumentID)
}

func TestRecentByTypesHonorsCutoff(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now().UTC()

	old := signal("inst-1", domain.SignalToxicFinancing, 80, now.Add(time.Hour))
	old.ComputedAt = now.Add(-48 * time.Hour)
	require.NoError(t, repo.Upsert(old))

	fresh := signal("inst-2", domain.SignalDistress, 75, now.Add(time.Hour))
	fresh.ComputedAt = now.Add(-time.Hour)
	require.NoError(t, repo.Upsert(fresh))

	got, err := repo.RecentByTypes(
		[]domain.SignalType{domain.SignalToxicFinancing, domain.SignalDistress},
		now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inst-2", got[0].InstrumentID)

	none, err := repo.RecentByTypes(nil, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetAndDeleteExpired(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Upsert(signal("inst-1", domain.SignalFlowShock, 60, now.Add(-time.Minute))))
	require.NoError(t, repo.Upsert(signal("inst-1", domain.SignalGoingConcern, 90, now.Add(time.Hour))))

	got, err := repo.Get("inst-1", domain.SignalFlowShock)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []map[string]interface{}{{"type": "TEST"}}, got.Evidence)

	missing, err := repo.Get("inst-1", domain.SignalPeerImpact)
	require.NoError(t, err)
	assert.Nil(t, missing)

	removed, err := repo.DeleteExpired(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	gone, err := repo.Get("inst-1", domain.SignalFlowShock)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
