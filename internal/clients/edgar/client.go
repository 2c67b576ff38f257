// Package edgar provides the regulatory-filings adapter: the current-events
// Atom feed for discovery and the full-text search API for historical scans.
package edgar

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/fetch"
)

const searchPageSize = 100

// Filing is a normalized regulatory filing reference. AccessionNumber is the
// globally unique source id.
type Filing struct {
	AccessionNumber string
	FormType        string
	CompanyName     string
	CIK             string // Zero-padded to 10 digits
	Title           string
	Summary         string
	Link            string
	FiledAt         time.Time // UTC
}

// Client fetches filing feeds and search results
type Client struct {
	baseURL   string
	searchURL string
	fetch     *fetch.Client
	log       zerolog.Logger
}

// NewClient creates a filings client. baseURL serves the Atom feed,
// searchURL the full-text search API.
func NewClient(baseURL, searchURL string, fetchClient *fetch.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		searchURL: strings.TrimRight(searchURL, "/"),
		fetch:     fetchClient,
		log:       log.With().Str("client", "edgar").Logger(),
	}
}

// PadCIK canonicalizes a CIK to its 10-digit zero-padded form
func PadCIK(cik string) string {
	cik = strings.TrimSpace(strings.TrimPrefix(cik, "CIK"))
	cik = strings.TrimLeft(cik, "0")
	if cik == "" {
		return ""
	}
	return fmt.Sprintf("%010s", cik)
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Updated string `xml:"updated"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	ID       string `xml:"id"`
	Category struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// accessionRe pulls the accession number out of an Atom entry id, e.g.
// "urn:tag:sec.gov,2008:accession-number=0001318605-26-000010"
var accessionRe = regexp.MustCompile(`accession-number=(\d{10}-\d{2}-\d{6})`)

// cikRe pulls the CIK out of a filing link path, e.g. "/Archives/edgar/data/1318605/..."
var cikRe = regexp.MustCompile(`/data/(\d+)/`)

// RecentFilings fetches the current-events Atom feed for a form type.
// formType may be empty to fetch all forms.
func (c *Client) RecentFilings(ctx context.Context, formType string, count int) ([]Filing, error) {
	q := url.Values{}
	q.Set("action", "getcurrent")
	q.Set("output", "atom")
	q.Set("count", strconv.Itoa(count))
	if formType != "" {
		q.Set("type", formType)
	}
	endpoint := fmt.Sprintf("%s/cgi-bin/browse-edgar?%s", c.baseURL, q.Encode())

	body, err := c.fetch.Get(ctx, endpoint, map[string]string{"Accept": "application/atom+xml"})
	if err != nil {
		return nil, fmt.Errorf("fetch filings feed: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode filings feed: %w", err)
	}

	filings := make([]Filing, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		f, ok := normalizeEntry(entry)
		if !ok {
			c.log.Debug().Str("entry_id", entry.ID).Msg("Skipping feed entry without accession number")
			continue
		}
		filings = append(filings, f)
	}
	return filings, nil
}

func normalizeEntry(entry atomEntry) (Filing, bool) {
	m := accessionRe.FindStringSubmatch(entry.ID)
	if m == nil {
		return Filing{}, false
	}

	f := Filing{
		AccessionNumber: m[1],
		FormType:        entry.Category.Term,
		Title:           strings.TrimSpace(entry.Title),
		Summary:         strings.TrimSpace(entry.Summary),
		Link:            entry.Link.Href,
	}

	// Feed titles look like "8-K - Tesla, Inc. (0001318605) (Issuer)"
	if idx := strings.Index(f.Title, " - "); idx > 0 {
		if f.FormType == "" {
			f.FormType = f.Title[:idx]
		}
		f.CompanyName = strings.TrimSpace(f.Title[idx+3:])
		if p := strings.Index(f.CompanyName, " ("); p > 0 {
			f.CompanyName = f.CompanyName[:p]
		}
	}
	if m := cikRe.FindStringSubmatch(entry.Link.Href); m != nil {
		f.CIK = PadCIK(m[1])
	}
	if t, err := time.Parse(time.RFC3339, entry.Updated); err == nil {
		f.FiledAt = t.UTC()
	}
	return f, true
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string `json:"_id"` // "accession:file" form
			Source struct {
				CIKs         []string `json:"ciks"`
				DisplayNames []string `json:"display_names"`
				FileType     string   `json:"file_type"`
				RootForms    []string `json:"root_forms"`
				FileDate     string   `json:"file_date"`
				AccessionNo  string   `json:"adsh"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchPage is one batch of full-text search results plus the
// server-reported total
type SearchPage struct {
	Filings []Filing
	Total   int
	Offset  int
}

// SearchPages is a lazy forward-only sequence over full-text search results
type SearchPages struct {
	client *Client
	query  string
	forms  []string
	offset int
	total  int
	done   bool
}

// Search starts a paginated full-text search scan
func (c *Client) Search(query string, forms ...string) *SearchPages {
	return &SearchPages{client: c, query: query, forms: forms, total: -1}
}

// Next fetches the next page, nil when the sequence is exhausted
func (p *SearchPages) Next(ctx context.Context) (*SearchPage, error) {
	if p.done {
		return nil, nil
	}

	q := url.Values{}
	q.Set("q", p.query)
	q.Set("from", strconv.Itoa(p.offset))
	if len(p.forms) > 0 {
		q.Set("forms", strings.Join(p.forms, ","))
	}
	endpoint := fmt.Sprintf("%s/LATEST/search-index?%s", p.client.searchURL, q.Encode())

	body, err := p.client.fetch.Get(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("full-text search at offset %d: %w", p.offset, err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	page := &SearchPage{Offset: p.offset, Total: resp.Hits.Total.Value}
	for _, hit := range resp.Hits.Hits {
		src := hit.Source
		accession := src.AccessionNo
		if accession == "" {
			if idx := strings.Index(hit.ID, ":"); idx > 0 {
				accession = hit.ID[:idx]
			}
		}
		if accession == "" {
			continue
		}

		f := Filing{AccessionNumber: accession}
		if len(src.RootForms) > 0 {
			f.FormType = src.RootForms[0]
		}
		if len(src.CIKs) > 0 {
			f.CIK = PadCIK(src.CIKs[0])
		}
		if len(src.DisplayNames) > 0 {
			f.CompanyName = src.DisplayNames[0]
			f.Title = fmt.Sprintf("%s - %s", f.FormType, f.CompanyName)
		}
		if t, err := time.Parse("2006-01-02", src.FileDate); err == nil {
			f.FiledAt = t.UTC()
		}
		page.Filings = append(page.Filings, f)
	}

	p.total = page.Total
	p.offset += len(resp.Hits.Hits)
	if len(resp.Hits.Hits) < searchPageSize || p.offset >= p.total {
		p.done = true
	}
	return page, nil
}
