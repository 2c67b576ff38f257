package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/fetch"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/storage"
)

// Some publishers reject obvious bot user agents, so downloads go out looking
// like a browser
const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

const minCleanLength = 50

// Downloader moves documents PENDING -> DOWNLOADING -> DOWNLOADED: fetch the
// source URL, extract clean text, hash it, and write it to object storage.
type Downloader struct {
	repo  *Repository
	fetch *fetch.Client
	store storage.Store
	log   zerolog.Logger
}

// NewDownloader creates a downloader. fetchClient should carry the browser
// user agent.
func NewDownloader(repo *Repository, fetchClient *fetch.Client, store storage.Store, log zerolog.Logger) *Downloader {
	return &Downloader{
		repo:  repo,
		fetch: fetchClient,
		store: store,
		log:   log.With().Str("component", "downloader").Logger(),
	}
}

// BrowserUserAgent returns the user agent document downloads are sent with
func BrowserUserAgent() string {
	return browserUserAgent
}

// ProcessBatch downloads up to limit PENDING documents of a type. A failure
// on one document marks only that document FAILED; the batch continues.
func (d *Downloader) ProcessBatch(ctx context.Context, docType domain.DocumentType, limit int) error {
	docs, err := d.repo.FindByStatusAndType(domain.DocPending, docType, limit)
	if err != nil {
		return fmt.Errorf("find pending documents: %w", err)
	}

	for i := range docs {
		doc := &docs[i]
		if err := d.processOne(ctx, doc); err != nil {
			d.log.Warn().Str("document_id", doc.ID).Str("source_id", doc.SourceID).Err(err).Msg("Document download failed")
			if ferr := d.repo.MarkFailed(doc.ID, err.Error()); ferr != nil {
				d.log.Error().Str("document_id", doc.ID).Err(ferr).Msg("Failed to record document failure")
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (d *Downloader) processOne(ctx context.Context, doc *domain.Document) error {
	if err := d.repo.MarkDownloading(doc.ID); err != nil {
		return err
	}

	raw, err := d.fetch.Get(ctx, doc.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}

	text := CleanText(string(raw))
	if len(text) < minCleanLength {
		return fmt.Errorf("cleaned text too short: %d chars", len(text))
	}

	sum := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(sum[:])

	key := storage.Key(doc.Publisher, doc.SourceID)
	if err := d.store.Put(ctx, key, []byte(text)); err != nil {
		return fmt.Errorf("store cleaned text: %w", err)
	}

	if err := d.repo.MarkDownloaded(doc.ID, key, contentHash); err != nil {
		return err
	}
	d.log.Debug().Str("document_id", doc.ID).Str("storage_path", key).Msg("Document downloaded")
	return nil
}
