// Package transcripts provides the earnings-transcript adapter.
package transcripts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/fetch"
)

// ErrTranscriptNotFound marks a 404 on a transcript request: the transcript
// for that quarter does not exist yet, not a failure.
var ErrTranscriptNotFound = errors.New("transcript not found")

// Transcript is a normalized earnings-call transcript
type Transcript struct {
	Symbol  string
	Year    int
	Quarter int
	Date    time.Time // UTC
	Content string    // Full text with "Speaker: ..." line structure
}

// SourceID is the globally unique document source id for this transcript
func (t Transcript) SourceID() string {
	return fmt.Sprintf("%s-%dQ%d", t.Symbol, t.Year, t.Quarter)
}

// Client fetches earnings transcripts
type Client struct {
	baseURL string
	apiKey  string
	fetch   *fetch.Client
	log     zerolog.Logger
}

// NewClient creates a transcripts client
func NewClient(baseURL, apiKey string, fetchClient *fetch.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetch:   fetchClient,
		log:     log.With().Str("client", "transcripts").Logger(),
	}
}

type rawTranscript struct {
	Symbol  string `json:"symbol"`
	Year    int    `json:"year"`
	Quarter int    `json:"quarter"`
	Date    string `json:"date"`
	Content string `json:"content"`
}

// Fetch retrieves the transcript for a symbol and fiscal quarter.
// Returns ErrTranscriptNotFound when the quarter has no transcript.
func (c *Client) Fetch(ctx context.Context, symbol string, year, quarter int) (*Transcript, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("year", strconv.Itoa(year))
	q.Set("quarter", strconv.Itoa(quarter))
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/earning_call_transcript?%s", c.baseURL, q.Encode())

	var raw []rawTranscript
	if err := c.fetch.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, fmt.Errorf("%s %dQ%d: %w", symbol, year, quarter, ErrTranscriptNotFound)
		}
		return nil, fmt.Errorf("fetch transcript %s %dQ%d: %w", symbol, year, quarter, err)
	}
	// Some upstreams answer an empty array instead of a 404
	if len(raw) == 0 || strings.TrimSpace(raw[0].Content) == "" {
		return nil, fmt.Errorf("%s %dQ%d: %w", symbol, year, quarter, ErrTranscriptNotFound)
	}

	rt := raw[0]
	t := &Transcript{
		Symbol:  strings.ToUpper(rt.Symbol),
		Year:    rt.Year,
		Quarter: rt.Quarter,
		Content: rt.Content,
	}
	if parsed, err := time.Parse("2006-01-02 15:04:05", rt.Date); err == nil {
		t.Date = parsed.UTC()
	} else if parsed, err := time.Parse("2006-01-02", rt.Date); err == nil {
		t.Date = parsed.UTC()
	}
	return t, nil
}
