package documents_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lanternhq/lantern/internal/clients/edgar"
	"github.com/lanternhq/lantern/internal/clients/transcripts"
	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/documents"
	"github.com/lanternhq/lantern/internal/modules/instruments"
	"github.com/lanternhq/lantern/internal/storage"
)

func setupIngestRepo(t *testing.T) *documents.Repository {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ddl, err := database.Schema("core")
	require.NoError(t, err)
	_, err = db.Exec(ddl)
	require.NoError(t, err)

	return documents.NewRepository(db, zerolog.Nop())
}

type fakeMatcher struct {
	symbols map[string]string
	matches []instruments.Match
	ensured []string
}

func (m *fakeMatcher) Ensure(symbol string, instType domain.InstrumentType, identifiers map[domain.IdentifierType]string) (*domain.Instrument, error) {
	m.ensured = append(m.ensured, identifiers[domain.IdentifierCIK])
	return &domain.Instrument{ID: "inst-ensured"}, nil
}

func (m *fakeMatcher) MatchDocument(title, summary, cik string, relatedTickers []string) ([]instruments.Match, error) {
	return m.matches, nil
}

func (m *fakeMatcher) ListActiveSymbols() (map[string]string, error) {
	return m.symbols, nil
}

type fakeFilings struct {
	byForm map[string][]edgar.Filing
}

func (f *fakeFilings) RecentFilings(ctx context.Context, formType string, count int) ([]edgar.Filing, error) {
	return f.byForm[formType], nil
}

type fakeTranscripts struct {
	transcript *transcripts.Transcript
	calls      int
}

func (f *fakeTranscripts) Fetch(ctx context.Context, symbol string, year, quarter int) (*transcripts.Transcript, error) {
	f.calls++
	if f.transcript == nil {
		return nil, transcripts.ErrTranscriptNotFound
	}
	return f.transcript, nil
}

func TestPollFilingsDeduplicatesAndLinks(t *testing.T) {
	repo := setupIngestRepo(t)
	matcher := &fakeMatcher{matches: []instruments.Match{
		{InstrumentID: "inst-1", Relevance: 1.0, Method: domain.MatchCIK},
	}}
	// Insert the referenced instrument for the link FK
	filings := &fakeFilings{byForm: map[string][]edgar.Filing{
		"8-K": {{
			AccessionNumber: "0001234567-26-000001",
			FormType:        "8-K",
			CompanyName:     "Acme Corp",
			CIK:             "0001234567",
			Title:           "Acme Corp 8-K",
			Link:            "https://example.com/filing",
			FiledAt:         time.Now().UTC(),
		}},
	}}

	svc := documents.NewIngestService(repo, matcher, nil, filings, nil, nil, zerolog.Nop())

	require.NoError(t, svc.PollFilings(context.Background()))

	doc, err := repo.GetBySourceID("0001234567-26-000001")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, domain.DocFiling8K, doc.Type)
	assert.Equal(t, domain.DocPending, doc.Status)
	assert.Equal(t, []string{"0001234567"}, matcher.ensured)

	links, err := repo.GetLinks(doc.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "inst-1", links[0].InstrumentID)

	// Second poll over the same feed inserts nothing new
	require.NoError(t, svc.PollFilings(context.Background()))
	assert.Len(t, matcher.ensured, 1, "duplicate filings must not re-ensure issuers")
}

func TestPollTranscriptsStoresBodyInline(t *testing.T) {
	repo := setupIngestRepo(t)
	store, err := storage.NewLocalStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	matcher := &fakeMatcher{symbols: map[string]string{"ACME": "inst-1"}}
	source := &fakeTranscripts{transcript: &transcripts.Transcript{
		Symbol:  "ACME",
		Year:    2026,
		Quarter: 2,
		Date:    time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		Content: "Operator: Good morning. Jane Doe: Thanks everyone for joining.",
	}}

	svc := documents.NewIngestService(repo, matcher, store, nil, nil, source, zerolog.Nop())

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.PollTranscripts(context.Background(), now))

	doc, err := repo.GetBySourceID("ACME-2026Q2")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, domain.DocDownloaded, doc.Status)
	require.NotNil(t, doc.StoragePath)
	require.NotNil(t, doc.ContentHash)

	blob, err := store.Get(context.Background(), *doc.StoragePath)
	require.NoError(t, err)
	assert.Contains(t, string(blob), "Jane Doe")

	links, err := repo.GetLinks(doc.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "inst-1", links[0].InstrumentID)

	// Re-poll: document already known, nothing re-fetched into the store
	require.NoError(t, svc.PollTranscripts(context.Background(), now))
	assert.Equal(t, 2, source.calls)
	again, err := repo.GetBySourceID("ACME-2026Q2")
	require.NoError(t, err)
	assert.Equal(t, domain.DocDownloaded, again.Status)
}

func TestPreviousQuarterBoundaries(t *testing.T) {
	svcNow := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	matcher := &fakeMatcher{symbols: map[string]string{}}
	repo := setupIngestRepo(t)
	source := &fakeTranscripts{}
	svc := documents.NewIngestService(repo, matcher, nil, nil, nil, source, zerolog.Nop())

	// January polls Q4 of the prior year; with no symbols nothing is fetched
	require.NoError(t, svc.PollTranscripts(context.Background(), svcNow))
	assert.Zero(t, source.calls)
}
