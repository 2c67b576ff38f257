// Package newsapi provides the news-search adapter.
package newsapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/fetch"
)

const articlePageSize = 50

// Article is a normalized news article reference. ID is the globally unique
// source id.
type Article struct {
	ID             string
	Title          string
	Summary        string
	URL            string
	Publisher      string
	PublishedAt    time.Time // UTC
	RelatedTickers []string  // Upper case
}

// Client searches the news API
type Client struct {
	baseURL string
	apiKey  string
	fetch   *fetch.Client
	log     zerolog.Logger
}

// NewClient creates a news client
func NewClient(baseURL, apiKey string, fetchClient *fetch.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetch:   fetchClient,
		log:     log.With().Str("client", "newsapi").Logger(),
	}
}

type rawArticle struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ArticleURL  string   `json:"article_url"`
	Publisher   struct {
		Name string `json:"name"`
	} `json:"publisher"`
	PublishedUTC string   `json:"published_utc"`
	Tickers      []string `json:"tickers"`
}

type searchResponse struct {
	Results []rawArticle `json:"results"`
	Count   int          `json:"count"`
	NextURL string       `json:"next_url"`
}

// Page is one batch of search results. NextURL is empty on the last page.
type Page struct {
	Articles []Article
	NextURL  string
}

// Pages is a lazy forward-only sequence over news search results
type Pages struct {
	client *Client
	next   string
	done   bool
}

// Search starts a paginated article scan for a ticker since a cutoff
func (c *Client) Search(ticker string, since time.Time) *Pages {
	q := url.Values{}
	q.Set("ticker", strings.ToUpper(ticker))
	q.Set("published_utc.gte", since.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(articlePageSize))
	q.Set("order", "desc")
	return &Pages{
		client: c,
		next:   fmt.Sprintf("%s/v2/reference/news?%s", c.baseURL, q.Encode()),
	}
}

// Next fetches the next page, nil when the sequence is exhausted
func (p *Pages) Next(ctx context.Context) (*Page, error) {
	if p.done || p.next == "" {
		return nil, nil
	}

	headers := map[string]string{}
	if p.client.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.client.apiKey
	}

	var resp searchResponse
	if err := p.client.fetch.GetJSON(ctx, p.next, headers, &resp); err != nil {
		return nil, fmt.Errorf("fetch news page: %w", err)
	}

	page := &Page{NextURL: resp.NextURL}
	for _, ra := range resp.Results {
		a, ok := normalize(ra)
		if !ok {
			p.client.log.Debug().Str("article_id", ra.ID).Msg("Skipping article without id or url")
			continue
		}
		page.Articles = append(page.Articles, a)
	}

	p.next = resp.NextURL
	if p.next == "" {
		p.done = true
	}
	return page, nil
}

func normalize(ra rawArticle) (Article, bool) {
	if ra.ID == "" || ra.ArticleURL == "" {
		return Article{}, false
	}
	a := Article{
		ID:        ra.ID,
		Title:     strings.TrimSpace(ra.Title),
		Summary:   strings.TrimSpace(ra.Description),
		URL:       ra.ArticleURL,
		Publisher: strings.TrimSpace(ra.Publisher.Name),
	}
	if t, err := time.Parse(time.RFC3339, ra.PublishedUTC); err == nil {
		a.PublishedAt = t.UTC()
	}
	for _, tk := range ra.Tickers {
		tk = strings.ToUpper(strings.TrimSpace(tk))
		if tk != "" {
			a.RelatedTickers = append(a.RelatedTickers, tk)
		}
	}
	return a, true
}
