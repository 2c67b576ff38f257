package instruments_test

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/instruments"
)

func setupRepo(t *testing.T) *instruments.Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := database.Schema("core")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return instruments.NewRepository(db, zerolog.Nop())
}

func TestRepositoryCreateAndLookup(t *testing.T) {
	repo := setupRepo(t)

	inst := &domain.Instrument{
		Type:   domain.InstrumentEquity,
		Symbol: "tsla",
		Name:   "Tesla, Inc.",
		Identifiers: map[domain.IdentifierType]string{
			domain.IdentifierCIK:    "0001318605",
			domain.IdentifierTicker: "TSLA",
		},
	}
	require.NoError(t, repo.Create(inst))
	require.NotEmpty(t, inst.ID)

	got, err := repo.GetBySymbol("TSLA")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TSLA", got.Symbol) // Symbol canonicalized to upper case
	assert.Equal(t, domain.InstrumentActive, got.Status)
	assert.Equal(t, "0001318605", got.Identifiers[domain.IdentifierCIK])

	byCIK, err := repo.GetByIdentifier(domain.IdentifierCIK, "0001318605")
	require.NoError(t, err)
	require.NotNil(t, byCIK)
	assert.Equal(t, inst.ID, byCIK.ID)

	missing, err := repo.GetBySymbol("NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepositorySoftDeactivation(t *testing.T) {
	repo := setupRepo(t)

	inst := &domain.Instrument{Type: domain.InstrumentETF, Symbol: "XYLD"}
	require.NoError(t, repo.Create(inst))
	require.NoError(t, repo.SetStatus(inst.ID, domain.InstrumentInactive))

	got, err := repo.GetByID(inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got) // Deactivated, never deleted
	assert.Equal(t, domain.InstrumentInactive, got.Status)

	active, err := repo.ListActiveByType(domain.InstrumentETF)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestServiceEnsureIsIdempotent(t *testing.T) {
	repo := setupRepo(t)
	svc := instruments.NewService(repo, zerolog.Nop())

	first, err := svc.Ensure("GME", domain.InstrumentEquity, map[domain.IdentifierType]string{
		domain.IdentifierCIK: "0001326380",
	})
	require.NoError(t, err)

	// Same CIK under a different symbol resolves to the same instrument
	second, err := svc.Ensure("GME2", domain.InstrumentEquity, map[domain.IdentifierType]string{
		domain.IdentifierCIK: "0001326380",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Ensure backfills missing identifiers on the existing row
	third, err := svc.Ensure("GME", domain.InstrumentEquity, map[domain.IdentifierType]string{
		domain.IdentifierCUSIP: "36467W109",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "36467W109", third.Identifiers[domain.IdentifierCUSIP])
}

func TestServiceMatchDocument(t *testing.T) {
	repo := setupRepo(t)
	svc := instruments.NewService(repo, zerolog.Nop())

	tsla, err := svc.Ensure("TSLA", domain.InstrumentEquity, map[domain.IdentifierType]string{
		domain.IdentifierCIK: "0001318605",
	})
	require.NoError(t, err)
	spy, err := svc.Ensure("SPY", domain.InstrumentETF, nil)
	require.NoError(t, err)
	// An instrument whose symbol collides with a common word must not match
	// via keyword scan
	_, err = svc.Ensure("ALL", domain.InstrumentEquity, nil)
	require.NoError(t, err)

	matches, err := svc.MatchDocument(
		"TSLA beats estimates, ALL eyes on deliveries",
		"Analysts expect SPY exposure to shift",
		"0001318605",
		[]string{"TSLA"},
	)
	require.NoError(t, err)

	byID := make(map[string]instruments.Match)
	for _, m := range matches {
		byID[m.InstrumentID] = m
	}

	require.Contains(t, byID, tsla.ID)
	// CIK match is recorded first; the equal-relevance ticker match does not
	// displace it
	assert.Equal(t, domain.MatchCIK, byID[tsla.ID].Method)
	assert.Equal(t, 1.0, byID[tsla.ID].Relevance)

	require.Contains(t, byID, spy.ID)
	assert.Equal(t, domain.MatchKeyword, byID[spy.ID].Method)
	assert.InDelta(t, 0.6, byID[spy.ID].Relevance, 1e-9)

	assert.Len(t, matches, 2) // ALL is stop-listed
}
