// Package documents implements the document ingestion lifecycle: discovery
// batch inserts, download, parse, and fact-extraction enrichment.
package documents

import (
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
)

// documentColumns is the column list for the documents table.
// Used to avoid SELECT * which can break when schema changes.
const documentColumns = `id, doc_type, source_id, source_url, title, publisher, published_at,
status, storage_path, content_hash, error_message, downloaded_at, parsed_at, created_at, updated_at`

// Repository handles document database operations
type Repository struct {
	coreDB *sql.DB
	log    zerolog.Logger
}

// NewRepository creates a document repository
func NewRepository(coreDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		coreDB: coreDB,
		log:    log.With().Str("repo", "documents").Logger(),
	}
}

// GetByID returns a document, nil if not found
func (r *Repository) GetByID(id string) (*domain.Document, error) {
	return r.getOne("SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
}

// GetBySourceID returns a document by its deduplication key, nil if not found
func (r *Repository) GetBySourceID(sourceID string) (*domain.Document, error) {
	return r.getOne("SELECT "+documentColumns+" FROM documents WHERE source_id = ?", sourceID)
}

func (r *Repository) getOne(query string, args ...interface{}) (*domain.Document, error) {
	rows, err := r.coreDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Document not found
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &doc, nil
}

// BatchInsertSkipDuplicates inserts candidate documents, skipping any whose
// source id already exists. Returns the number actually inserted. A skipped
// duplicate has its ID cleared so callers can tell which rows are new.
func (r *Repository) BatchInsertSkipDuplicates(docs []domain.Document) (int, error) {
	inserted := 0
	err := database.WithTransaction(r.coreDB, func(tx *sql.Tx) error {
		for i := range docs {
			doc := &docs[i]
			if doc.ID == "" {
				doc.ID = uuid.NewString()
			}
			if doc.Status == "" {
				doc.Status = domain.DocPending
			}
			now := time.Now().UTC()

			res, err := tx.Exec(`INSERT INTO documents (id, doc_type, source_id, source_url, title, publisher,
				published_at, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (source_id) DO NOTHING`,
				doc.ID, string(doc.Type), doc.SourceID, doc.SourceURL, doc.Title, doc.Publisher,
				doc.PublishedAt, string(doc.Status), now, now)
			if err != nil {
				return fmt.Errorf("failed to insert document %s: %w", doc.SourceID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				doc.ID = "" // conflict: the row on disk keeps its original id
				continue
			}
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// FindByStatusAndType returns up to limit documents in a lifecycle state,
// oldest first
func (r *Repository) FindByStatusAndType(status domain.DocumentStatus, docType domain.DocumentType, limit int) ([]domain.Document, error) {
	rows, err := r.coreDB.Query("SELECT "+documentColumns+` FROM documents
		WHERE status = ? AND doc_type = ? ORDER BY created_at ASC LIMIT ?`,
		string(status), string(docType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// MarkDownloading transitions PENDING -> DOWNLOADING
func (r *Repository) MarkDownloading(id string) error {
	return r.transition(id, domain.DocDownloading, domain.DocPending)
}

// MarkDownloaded transitions DOWNLOADING -> DOWNLOADED.
// Requires storagePath and contentHash: a DOWNLOADED row always points at a
// stored blob.
func (r *Repository) MarkDownloaded(id, storagePath, contentHash string) error {
	if storagePath == "" || contentHash == "" {
		return fmt.Errorf("document %s: DOWNLOADED requires storage path and content hash", id)
	}
	now := time.Now().UTC()
	res, err := r.coreDB.Exec(`UPDATE documents SET status = ?, storage_path = ?, content_hash = ?,
		downloaded_at = ?, error_message = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		string(domain.DocDownloaded), storagePath, contentHash, now, now, id, string(domain.DocDownloading))
	if err != nil {
		return fmt.Errorf("failed to mark document downloaded: %w", err)
	}
	return requireTransition(res, id, domain.DocDownloaded)
}

// MarkParsed transitions DOWNLOADED -> PARSED
func (r *Repository) MarkParsed(id string) error {
	now := time.Now().UTC()
	res, err := r.coreDB.Exec(`UPDATE documents SET status = ?, parsed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.DocParsed), now, now, id, string(domain.DocDownloaded))
	if err != nil {
		return fmt.Errorf("failed to mark document parsed: %w", err)
	}
	return requireTransition(res, id, domain.DocParsed)
}

// MarkEnriched transitions PARSED -> ENRICHED
func (r *Repository) MarkEnriched(id string) error {
	return r.transition(id, domain.DocEnriched, domain.DocParsed)
}

// MarkFailed transitions any state to FAILED with an error message
func (r *Repository) MarkFailed(id, errorMessage string) error {
	_, err := r.coreDB.Exec(`UPDATE documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(domain.DocFailed), errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return nil
}

func (r *Repository) transition(id string, to, from domain.DocumentStatus) error {
	res, err := r.coreDB.Exec(`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition document %s to %s: %w", id, to, err)
	}
	return requireTransition(res, id, to)
}

func requireTransition(res sql.Result, id string, to domain.DocumentStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: transition to %s rejected (wrong current status)", id, to)
	}
	return nil
}

// LinkInstruments records document-instrument associations
func (r *Repository) LinkInstruments(links []domain.InstrumentLink) error {
	return database.WithTransaction(r.coreDB, func(tx *sql.Tx) error {
		for _, l := range links {
			_, err := tx.Exec(`INSERT INTO document_instruments (document_id, instrument_id, relevance, match_method)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (document_id, instrument_id) DO UPDATE SET
					relevance = MAX(relevance, excluded.relevance), match_method = excluded.match_method`,
				l.DocumentID, l.InstrumentID, l.Relevance, string(l.MatchMethod))
			if err != nil {
				return fmt.Errorf("failed to link document %s to instrument %s: %w", l.DocumentID, l.InstrumentID, err)
			}
		}
		return nil
	})
}

// GetLinks returns the instrument links of a document
func (r *Repository) GetLinks(documentID string) ([]domain.InstrumentLink, error) {
	rows, err := r.coreDB.Query(`SELECT document_id, instrument_id, relevance, match_method
		FROM document_instruments WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document links: %w", err)
	}
	defer rows.Close()

	var out []domain.InstrumentLink
	for rows.Next() {
		var l domain.InstrumentLink
		var method string
		if err := rows.Scan(&l.DocumentID, &l.InstrumentID, &l.Relevance, &method); err != nil {
			return nil, err
		}
		l.MatchMethod = domain.MatchMethod(method)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveContent persists the 1-to-1 parsed body of a document
func (r *Repository) SaveContent(content domain.DocumentContent) error {
	sections, err := json.Marshal(content.Sections)
	if err != nil {
		return fmt.Errorf("failed to encode sections: %w", err)
	}
	_, err = r.coreDB.Exec(`INSERT INTO document_contents (document_id, full_text, sections, word_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET full_text = excluded.full_text,
			sections = excluded.sections, word_count = excluded.word_count`,
		content.DocumentID, content.FullText, string(sections), content.WordCount)
	if err != nil {
		return fmt.Errorf("failed to save document content: %w", err)
	}
	return nil
}

// GetContent returns the parsed body of a document, nil if not parsed yet
func (r *Repository) GetContent(documentID string) (*domain.DocumentContent, error) {
	rows, err := r.coreDB.Query(`SELECT document_id, full_text, sections, word_count
		FROM document_contents WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document content: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Not parsed yet
	}
	var c domain.DocumentContent
	var sections string
	if err := rows.Scan(&c.DocumentID, &c.FullText, &sections, &c.WordCount); err != nil {
		return nil, fmt.Errorf("failed to scan document content: %w", err)
	}
	if err := json.Unmarshal([]byte(sections), &c.Sections); err != nil {
		return nil, fmt.Errorf("failed to decode sections: %w", err)
	}
	return &c, nil
}

// SaveFact persists a typed extraction with its evidence
func (r *Repository) SaveFact(fact *domain.Fact) error {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	fact.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(fact.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode fact payload: %w", err)
	}
	evidence, err := json.Marshal(fact.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode fact evidence: %w", err)
	}

	_, err = r.coreDB.Exec(`INSERT INTO document_facts (id, document_id, fact_type, payload, evidence, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fact.ID, fact.DocumentID, fact.FactType, string(payload), string(evidence), fact.Confidence, fact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save fact: %w", err)
	}
	return nil
}

// GetFactsByDocument returns all facts extracted from a document
func (r *Repository) GetFactsByDocument(documentID string) ([]domain.Fact, error) {
	rows, err := r.coreDB.Query(`SELECT id, document_id, fact_type, payload, evidence, confidence, created_at
		FROM document_facts WHERE document_id = ? ORDER BY created_at`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	var out []domain.Fact
	for rows.Next() {
		var f domain.Fact
		var payload, evidence string
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.FactType, &payload, &evidence, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &f.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode fact payload: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &f.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode fact evidence: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanDocument(rows *sql.Rows) (domain.Document, error) {
	var doc domain.Document
	var docType, status string
	err := rows.Scan(&doc.ID, &docType, &doc.SourceID, &doc.SourceURL, &doc.Title, &doc.Publisher,
		&doc.PublishedAt, &status, &doc.StoragePath, &doc.ContentHash, &doc.ErrorMessage,
		&doc.DownloadedAt, &doc.ParsedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.DocumentStatus(status)
	return doc, nil
}
