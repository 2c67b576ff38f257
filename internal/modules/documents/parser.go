package documents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/storage"
)

// Section names used across parsing and extraction
const (
	SectionBody            = "body"
	SectionPreparedRemarks = "prepared_remarks"
	SectionQA              = "qa"
)

var (
	// Filing item headers: "Item 1.01", "ITEM 2.02." etc
	itemRe = regexp.MustCompile(`(?i)\bitem\s+(\d+\.\d+)\b\.?`)

	// Transcript Q&A boundary markers, checked in order
	qaMarkers = []string{
		"question-and-answer session",
		"questions and answers",
		"q&a session",
	}
)

// Parser moves documents DOWNLOADED -> PARSED: read the stored blob, split
// out document-type-specific sections, persist the content row.
type Parser struct {
	repo  *Repository
	store storage.Store
	log   zerolog.Logger
}

// NewParser creates a parser
func NewParser(repo *Repository, store storage.Store, log zerolog.Logger) *Parser {
	return &Parser{
		repo:  repo,
		store: store,
		log:   log.With().Str("component", "parser").Logger(),
	}
}

// ProcessBatch parses up to limit DOWNLOADED documents of a type. A failure
// on one document marks only that document FAILED; the batch continues.
func (p *Parser) ProcessBatch(ctx context.Context, docType domain.DocumentType, limit int) error {
	docs, err := p.repo.FindByStatusAndType(domain.DocDownloaded, docType, limit)
	if err != nil {
		return fmt.Errorf("find downloaded documents: %w", err)
	}

	for i := range docs {
		doc := &docs[i]
		if err := p.processOne(ctx, doc); err != nil {
			p.log.Warn().Str("document_id", doc.ID).Err(err).Msg("Document parse failed")
			if ferr := p.repo.MarkFailed(doc.ID, err.Error()); ferr != nil {
				p.log.Error().Str("document_id", doc.ID).Err(ferr).Msg("Failed to record parse failure")
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (p *Parser) processOne(ctx context.Context, doc *domain.Document) error {
	if doc.StoragePath == nil {
		return fmt.Errorf("document %s has no storage path", doc.ID)
	}

	blob, err := p.store.Get(ctx, *doc.StoragePath)
	if err != nil {
		return fmt.Errorf("read stored blob: %w", err)
	}
	text := string(blob)

	content := domain.DocumentContent{
		DocumentID: doc.ID,
		FullText:   text,
		Sections:   ExtractSections(text, doc.Type),
		WordCount:  len(strings.Fields(text)),
	}
	if err := p.repo.SaveContent(content); err != nil {
		return err
	}
	if err := p.repo.MarkParsed(doc.ID); err != nil {
		return err
	}
	p.log.Debug().Str("document_id", doc.ID).Int("words", content.WordCount).Msg("Document parsed")
	return nil
}

// ExtractSections splits document text into type-specific sections. The full
// body is always present under "body".
func ExtractSections(text string, docType domain.DocumentType) map[string]string {
	sections := map[string]string{SectionBody: text}

	switch docType {
	case domain.DocSECFiling, domain.DocFiling8K:
		for name, body := range splitFilingItems(text) {
			sections[name] = body
		}
		// XBRL blocks carry holdings data; kept raw for downstream parsing
		if blocks := xbrlRe.FindAllString(text, -1); len(blocks) > 0 {
			sections["xbrl"] = strings.Join(blocks, "\n")
		}

	case domain.DocTranscript:
		prepared, qa := SplitTranscript(text)
		sections[SectionPreparedRemarks] = prepared
		if qa != "" {
			sections[SectionQA] = qa
		}
	}

	return sections
}

// splitFilingItems keys each "Item N.NN" run by its item number
func splitFilingItems(text string) map[string]string {
	locs := itemRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	items := make(map[string]string, len(locs))
	for i, loc := range locs {
		number := text[loc[2]:loc[3]]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if body != "" {
			items["item_"+number] = body
		}
	}
	return items
}

// SplitTranscript separates prepared remarks from the Q&A session. When no
// marker is present the whole text counts as prepared remarks.
func SplitTranscript(text string) (prepared, qa string) {
	lower := strings.ToLower(text)
	for _, marker := range qaMarkers {
		if idx := strings.Index(lower, marker); idx >= 0 {
			return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx:])
		}
	}
	return strings.TrimSpace(text), ""
}

// QAOffset returns the character offset where the Q&A session starts, -1 when
// the text has no Q&A marker. Extractors use it to tag snippet sections.
func QAOffset(text string) int {
	lower := strings.ToLower(text)
	for _, marker := range qaMarkers {
		if idx := strings.Index(lower, marker); idx >= 0 {
			return idx
		}
	}
	return -1
}
