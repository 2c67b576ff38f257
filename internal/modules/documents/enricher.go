package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/documents/extract"
)

// SignalUpserter writes signals keyed by (instrument, type)
type SignalUpserter interface {
	Upsert(signal *domain.Signal) error
}

// EnricherConfig carries the signal-emission thresholds
type EnricherConfig struct {
	MinConfidence     float64
	MinKeywordDensity float64
	SignalTTL         time.Duration
}

// Enricher moves documents PARSED -> ENRICHED: run every fact extractor over
// the parsed content, persist facts, and upsert signals for linked
// instruments when thresholds are met.
type Enricher struct {
	repo       *Repository
	signals    SignalUpserter
	extractors []extract.Extractor
	cfg        EnricherConfig
	log        zerolog.Logger
}

// NewEnricher creates an enricher running the full extractor set
func NewEnricher(repo *Repository, signals SignalUpserter, cfg EnricherConfig, log zerolog.Logger) *Enricher {
	return &Enricher{
		repo:       repo,
		signals:    signals,
		extractors: extract.All(),
		cfg:        cfg,
		log:        log.With().Str("component", "enricher").Logger(),
	}
}

// ProcessBatch enriches up to limit PARSED documents of a type. A failure on
// one document marks only that document FAILED; the batch continues.
func (e *Enricher) ProcessBatch(ctx context.Context, docType domain.DocumentType, limit int) error {
	docs, err := e.repo.FindByStatusAndType(domain.DocParsed, docType, limit)
	if err != nil {
		return fmt.Errorf("find parsed documents: %w", err)
	}

	for i := range docs {
		doc := &docs[i]
		if err := e.processOne(doc); err != nil {
			e.log.Warn().Str("document_id", doc.ID).Err(err).Msg("Document enrichment failed")
			if ferr := e.repo.MarkFailed(doc.ID, err.Error()); ferr != nil {
				e.log.Error().Str("document_id", doc.ID).Err(ferr).Msg("Failed to record enrichment failure")
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (e *Enricher) processOne(doc *domain.Document) error {
	content, err := e.repo.GetContent(doc.ID)
	if err != nil {
		return err
	}
	if content == nil {
		return fmt.Errorf("document %s has no parsed content", doc.ID)
	}

	links, err := e.repo.GetLinks(doc.ID)
	if err != nil {
		return err
	}

	in := extract.Input{
		Text:     content.FullText,
		Sections: content.Sections,
		DocType:  doc.Type,
		QAOffset: QAOffset(content.FullText),
	}

	for _, ex := range e.extractors {
		result := ex.Extract(in)
		if result == nil {
			continue
		}

		fact := &domain.Fact{
			DocumentID: doc.ID,
			FactType:   result.FactType,
			Payload:    result.Payload,
			Evidence:   result.Snippets,
			Confidence: result.Confidence,
		}
		if err := e.repo.SaveFact(fact); err != nil {
			return err
		}

		if result.Confidence < e.cfg.MinConfidence || result.Density < e.cfg.MinKeywordDensity {
			continue
		}
		for _, link := range links {
			if err := e.upsertSignal(doc, link.InstrumentID, fact, result); err != nil {
				return err
			}
		}
	}

	return e.repo.MarkEnriched(doc.ID)
}

func (e *Enricher) upsertSignal(doc *domain.Document, instrumentID string, fact *domain.Fact, result *extract.Result) error {
	now := time.Now().UTC()
	signal := &domain.Signal{
		InstrumentID: instrumentID,
		Type:         result.SignalType,
		Severity:     result.Severity,
		Score:        result.Score,
		Confidence:   result.Confidence,
		Reason:       result.Reason,
		Evidence: []map[string]interface{}{{
			"fact_id":     fact.ID,
			"document_id": doc.ID,
			"source_id":   doc.SourceID,
		}},
		ComputedAt: now,
		ExpiresAt:  now.Add(e.cfg.SignalTTL),
	}
	if err := e.signals.Upsert(signal); err != nil {
		return fmt.Errorf("upsert %s signal: %w", result.SignalType, err)
	}
	e.log.Info().
		Str("document_id", doc.ID).
		Str("instrument_id", instrumentID).
		Str("signal_type", string(result.SignalType)).
		Str("severity", string(result.Severity)).
		Msg("Signal emitted from document")
	return nil
}
