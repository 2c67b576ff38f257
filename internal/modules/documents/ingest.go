package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/edgar"
	"github.com/lanternhq/lantern/internal/clients/newsapi"
	"github.com/lanternhq/lantern/internal/clients/transcripts"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/instruments"
	"github.com/lanternhq/lantern/internal/storage"
)

// filingFeedCount is how many entries one filings poll requests
const filingFeedCount = 100

// filingForms are the form types worth ingesting: current reports plus the
// registration statements the dilution extractors feed on
var filingForms = []string{"8-K", "10-Q", "10-K", "S-3", "424B5"}

// FilingSource feeds the filings poller
type FilingSource interface {
	RecentFilings(ctx context.Context, formType string, count int) ([]edgar.Filing, error)
}

// NewsSource feeds the news poller
type NewsSource interface {
	Search(ticker string, since time.Time) *newsapi.Pages
}

// TranscriptSource feeds the transcripts poller
type TranscriptSource interface {
	Fetch(ctx context.Context, symbol string, year, quarter int) (*transcripts.Transcript, error)
}

// Matcher resolves and creates the instruments a document refers to
type Matcher interface {
	Ensure(symbol string, instType domain.InstrumentType, identifiers map[domain.IdentifierType]string) (*domain.Instrument, error)
	MatchDocument(title, summary, cik string, relatedTickers []string) ([]instruments.Match, error)
	ListActiveSymbols() (map[string]string, error)
}

// IngestService turns external source records into PENDING documents with
// instrument links. Deduplication rides on the source-id uniqueness
// constraint: re-polling the same window is harmless.
type IngestService struct {
	repo    *Repository
	matcher Matcher
	store   storage.Store

	filings     FilingSource
	news        NewsSource
	transcripts TranscriptSource

	log zerolog.Logger
}

// NewIngestService creates the ingestion service. Any source may be nil; its
// poller then no-ops.
func NewIngestService(repo *Repository, matcher Matcher, store storage.Store,
	filings FilingSource, news NewsSource, trans TranscriptSource, log zerolog.Logger) *IngestService {
	return &IngestService{
		repo:        repo,
		matcher:     matcher,
		store:       store,
		filings:     filings,
		news:        news,
		transcripts: trans,
		log:         log.With().Str("component", "document_ingest").Logger(),
	}
}

// PollFilings ingests the recent-filings feed for each tracked form type
func (s *IngestService) PollFilings(ctx context.Context) error {
	if s.filings == nil {
		return nil
	}

	total := 0
	for _, form := range filingForms {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		filings, err := s.filings.RecentFilings(ctx, form, filingFeedCount)
		if err != nil {
			return fmt.Errorf("poll %s filings: %w", form, err)
		}

		inserted, err := s.ingestFilings(filings)
		if err != nil {
			return err
		}
		total += inserted
	}

	s.log.Info().Int("inserted", total).Msg("Filings poll complete")
	return nil
}

func (s *IngestService) ingestFilings(filings []edgar.Filing) (int, error) {
	docs := make([]domain.Document, 0, len(filings))
	for _, f := range filings {
		docType := domain.DocSECFiling
		if f.FormType == "8-K" {
			docType = domain.DocFiling8K
		}
		filedAt := f.FiledAt
		docs = append(docs, domain.Document{
			Type:        docType,
			SourceID:    f.AccessionNumber,
			SourceURL:   f.Link,
			Title:       f.Title,
			Publisher:   f.CompanyName,
			PublishedAt: &filedAt,
			Status:      domain.DocPending,
		})
	}

	inserted, err := s.repo.BatchInsertSkipDuplicates(docs)
	if err != nil {
		return 0, fmt.Errorf("insert filings: %w", err)
	}

	for i, doc := range docs {
		if doc.ID == "" {
			continue // duplicate, already linked on first sight
		}
		f := filings[i]

		// First observation of an issuer creates a placeholder instrument
		if f.CIK != "" {
			if _, err := s.matcher.Ensure("", domain.InstrumentEquity,
				map[domain.IdentifierType]string{domain.IdentifierCIK: f.CIK}); err != nil {
				s.log.Warn().Str("cik", f.CIK).Err(err).Msg("Failed to ensure filing issuer")
			}
		}

		if err := s.linkMatches(doc.ID, doc.Title, f.Summary, f.CIK, nil); err != nil {
			s.log.Warn().Str("document_id", doc.ID).Err(err).Msg("Failed to link filing")
		}
	}
	return inserted, nil
}

// PollNews ingests fresh articles for every active symbol
func (s *IngestService) PollNews(ctx context.Context, since time.Time) error {
	if s.news == nil {
		return nil
	}

	symbols, err := s.matcher.ListActiveSymbols()
	if err != nil {
		return err
	}

	total := 0
	for symbol := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pages := s.news.Search(symbol, since)
		for {
			page, err := pages.Next(ctx)
			if err != nil {
				s.log.Warn().Str("symbol", symbol).Err(err).Msg("News page fetch failed")
				break
			}
			if page == nil {
				break
			}

			inserted, err := s.ingestArticles(page.Articles)
			if err != nil {
				return err
			}
			total += inserted
		}
	}

	s.log.Info().Int("inserted", total).Msg("News poll complete")
	return nil
}

func (s *IngestService) ingestArticles(articles []newsapi.Article) (int, error) {
	docs := make([]domain.Document, 0, len(articles))
	for _, a := range articles {
		publishedAt := a.PublishedAt
		docs = append(docs, domain.Document{
			Type:        domain.DocNewsArticle,
			SourceID:    a.ID,
			SourceURL:   a.URL,
			Title:       a.Title,
			Publisher:   a.Publisher,
			PublishedAt: &publishedAt,
			Status:      domain.DocPending,
		})
	}

	inserted, err := s.repo.BatchInsertSkipDuplicates(docs)
	if err != nil {
		return 0, fmt.Errorf("insert articles: %w", err)
	}

	for i, doc := range docs {
		if doc.ID == "" {
			continue
		}
		a := articles[i]
		if err := s.linkMatches(doc.ID, a.Title, a.Summary, "", a.RelatedTickers); err != nil {
			s.log.Warn().Str("document_id", doc.ID).Err(err).Msg("Failed to link article")
		}
	}
	return inserted, nil
}

// PollTranscripts fetches the most recent completed quarter's earnings call
// for every active symbol. Transcript bodies arrive inline, so ingested
// documents jump straight to DOWNLOADED with the blob persisted.
func (s *IngestService) PollTranscripts(ctx context.Context, now time.Time) error {
	if s.transcripts == nil {
		return nil
	}

	symbols, err := s.matcher.ListActiveSymbols()
	if err != nil {
		return err
	}

	year, quarter := previousQuarter(now)
	total := 0
	for symbol, instrumentID := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t, err := s.transcripts.Fetch(ctx, symbol, year, quarter)
		if err != nil {
			if errors.Is(err, transcripts.ErrTranscriptNotFound) {
				continue
			}
			s.log.Warn().Str("symbol", symbol).Err(err).Msg("Transcript fetch failed")
			continue
		}

		inserted, err := s.ingestTranscript(ctx, t, instrumentID)
		if err != nil {
			s.log.Warn().Str("symbol", symbol).Err(err).Msg("Transcript ingest failed")
			continue
		}
		if inserted {
			total++
		}
	}

	s.log.Info().Int("inserted", total).Int("year", year).Int("quarter", quarter).
		Msg("Transcripts poll complete")
	return nil
}

func (s *IngestService) ingestTranscript(ctx context.Context, t *transcripts.Transcript, instrumentID string) (bool, error) {
	date := t.Date
	doc := domain.Document{
		Type:        domain.DocTranscript,
		SourceID:    t.SourceID(),
		Title:       fmt.Sprintf("%s Q%d %d earnings call", t.Symbol, t.Quarter, t.Year),
		Publisher:   t.Symbol,
		PublishedAt: &date,
		Status:      domain.DocPending,
	}

	batch := []domain.Document{doc}
	inserted, err := s.repo.BatchInsertSkipDuplicates(batch)
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		return false, nil // seen before
	}
	docID := batch[0].ID // assigned by the insert

	cleaned := CleanText(t.Content)
	hash := sha256.Sum256([]byte(cleaned))
	key := storage.Key(doc.Publisher, doc.SourceID)

	if err := s.repo.MarkDownloading(docID); err != nil {
		return false, err
	}
	if err := s.store.Put(ctx, key, []byte(cleaned)); err != nil {
		markErr := s.repo.MarkFailed(docID, err.Error())
		if markErr != nil {
			return false, markErr
		}
		return false, err
	}
	if err := s.repo.MarkDownloaded(docID, key, hex.EncodeToString(hash[:])); err != nil {
		return false, err
	}

	if err := s.repo.LinkInstruments([]domain.InstrumentLink{{
		DocumentID:   docID,
		InstrumentID: instrumentID,
		Relevance:    1.0,
		MatchMethod:  domain.MatchExactSymbol,
	}}); err != nil {
		return false, err
	}

	return true, nil
}

func (s *IngestService) linkMatches(docID, title, summary, cik string, relatedTickers []string) error {
	matches, err := s.matcher.MatchDocument(title, summary, cik, relatedTickers)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	links := make([]domain.InstrumentLink, 0, len(matches))
	for _, m := range matches {
		links = append(links, domain.InstrumentLink{
			DocumentID:   docID,
			InstrumentID: m.InstrumentID,
			Relevance:    m.Relevance,
			MatchMethod:  m.Method,
		})
	}
	return s.repo.LinkInstruments(links)
}

// previousQuarter returns the most recent fully completed calendar quarter
func previousQuarter(now time.Time) (int, int) {
	year := now.Year()
	quarter := (int(now.Month())-1)/3 // 0-based current quarter
	if quarter == 0 {
		return year - 1, 4
	}
	return year, quarter
}
