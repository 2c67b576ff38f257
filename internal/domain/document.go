package domain

import "time"

// DocumentStatus is the lifecycle state of a document.
// Transitions are monotonic along PENDING -> DOWNLOADING -> DOWNLOADED ->
// PARSED -> ENRICHED; any state may transition to FAILED.
type DocumentStatus string

const (
	DocPending     DocumentStatus = "PENDING"
	DocDownloading DocumentStatus = "DOWNLOADING"
	DocDownloaded  DocumentStatus = "DOWNLOADED"
	DocParsed      DocumentStatus = "PARSED"
	DocEnriched    DocumentStatus = "ENRICHED"
	DocFailed      DocumentStatus = "FAILED"
)

// DocumentType classifies ingested documents
type DocumentType string

const (
	DocSECFiling   DocumentType = "SEC_FILING"
	DocTranscript  DocumentType = "EARNINGS_TRANSCRIPT"
	DocNewsArticle DocumentType = "NEWS_ARTICLE"
	DocFiling8K    DocumentType = "FILING_8K"
)

// Document is an opaque artifact moving through the ingestion lifecycle
type Document struct {
	ID           string
	Type         DocumentType
	SourceID     string // Globally unique per source; deduplication key
	SourceURL    string
	Title        string
	Publisher    string
	PublishedAt  *time.Time
	Status       DocumentStatus
	StoragePath  *string
	ContentHash  *string
	ErrorMessage *string
	DownloadedAt *time.Time
	ParsedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentContent is the 1-to-1 parsed body of a document
type DocumentContent struct {
	DocumentID string
	FullText   string
	Sections   map[string]string
	WordCount  int
}

// MatchMethod tags how a document was linked to an instrument
type MatchMethod string

const (
	MatchExactSymbol MatchMethod = "EXACT_SYMBOL"
	MatchKeyword     MatchMethod = "KEYWORD"
	MatchCIK         MatchMethod = "CIK"
)

// InstrumentLink is a document-instrument association with relevance
type InstrumentLink struct {
	DocumentID   string
	InstrumentID string
	Relevance    float64 // [0,1]
	MatchMethod  MatchMethod
}

// Snippet is an evidence window around a keyword match
type Snippet struct {
	Text    string `json:"text"`
	Section string `json:"section"` // prepared_remarks, qa, body
	Speaker string `json:"speaker,omitempty"`
	Offset  int    `json:"offset"`
}

// Fact is a typed extraction from a document with evidence
type Fact struct {
	ID         string
	DocumentID string
	FactType   string
	Payload    map[string]interface{}
	Evidence   []Snippet
	Confidence float64 // [0,1]
	CreatedAt  time.Time
}
