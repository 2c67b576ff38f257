// Package gamma provides the prediction-market catalog client.
package gamma

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/fetch"
	"github.com/lanternhq/lantern/internal/domain"
)

const catalogPageSize = 200

// rawMarket mirrors the catalog API response. Fields not observed in sample
// responses are optional; absent means null.
type rawMarket struct {
	ConditionID   string  `json:"conditionId"`
	Question      string  `json:"question"`
	Outcomes      string  `json:"outcomes"`      // JSON-encoded array, e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs  string  `json:"clobTokenIds"`  // JSON-encoded array aligned with outcomes
	EndDateISO    *string `json:"endDateIso"`
	Liquidity     *string `json:"liquidity"`
	Volume        *string `json:"volume"`
	Active        *bool   `json:"active"`
	Closed        *bool   `json:"closed"`
	LastTradeTime *int64  `json:"lastTradeTime"`
	UpdatedBlock  *int64  `json:"updatedBlock"`
}

// Page is one batch of catalog results plus the server-reported total
type Page struct {
	Markets []domain.Market
	Total   int
	Offset  int
}

// Client fetches the market catalog
type Client struct {
	baseURL string
	fetch   *fetch.Client
	log     zerolog.Logger
}

// NewClient creates a catalog client
func NewClient(baseURL string, fetchClient *fetch.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetch:   fetchClient,
		log:     log.With().Str("client", "gamma").Logger(),
	}
}

// Pages returns a lazy forward-only page sequence over the open-market
// catalog. Next returns nil when exhausted; the caller chooses when to stop.
type Pages struct {
	client *Client
	offset int
	done   bool
}

// OpenMarkets starts a paginated catalog scan (closed=false, 200 per page)
func (c *Client) OpenMarkets() *Pages {
	return &Pages{client: c}
}

// Next fetches the next page, nil when the sequence is exhausted
func (p *Pages) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	q := url.Values{}
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(catalogPageSize))
	q.Set("offset", strconv.Itoa(p.offset))

	var raw []rawMarket
	endpoint := fmt.Sprintf("%s/markets?%s", p.client.baseURL, q.Encode())
	if err := p.client.fetch.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch catalog page at offset %d: %w", p.offset, err)
	}

	page := &Page{Offset: p.offset, Total: -1}
	for _, rm := range raw {
		m, err := normalize(rm)
		if err != nil {
			p.client.log.Warn().Str("condition_id", rm.ConditionID).Err(err).Msg("Skipping malformed market")
			continue
		}
		page.Markets = append(page.Markets, m)
	}

	p.offset += len(raw)
	if len(raw) < catalogPageSize {
		p.done = true
		page.Total = p.offset
	}

	return page, nil
}

// MarketState is the subset re-fetched on incremental sync
type MarketState struct {
	YesPrice         *string
	NoPrice          *string
	Liquidity        *string
	Volume           *string
	Active           bool
	LastUpdatedBlock *int64
}

// MarketState fetches the current state of a single market
func (c *Client) MarketState(ctx context.Context, conditionID string) (*MarketState, error) {
	var raw []struct {
		rawMarket
		OutcomePrices string `json:"outcomePrices"` // JSON-encoded array aligned with outcomes
	}
	endpoint := fmt.Sprintf("%s/markets?condition_ids=%s", c.baseURL, url.QueryEscape(conditionID))
	if err := c.fetch.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch market state %s: %w", conditionID, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("market %s: %w", conditionID, fetch.ErrNotFound)
	}

	rm := raw[0]
	state := &MarketState{
		Liquidity:        rm.Liquidity,
		Volume:           rm.Volume,
		Active:           rm.Active != nil && *rm.Active && (rm.Closed == nil || !*rm.Closed),
		LastUpdatedBlock: rm.UpdatedBlock,
	}

	var prices []string
	if rm.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(rm.OutcomePrices), &prices); err == nil {
			if len(prices) > 0 {
				state.YesPrice = &prices[0]
			}
			if len(prices) > 1 {
				state.NoPrice = &prices[1]
			}
		}
	}

	return state, nil
}

// normalize maps a raw catalog entry to a domain market: outcome labels are
// canonicalized to upper case and timestamps parsed to UTC.
func normalize(rm rawMarket) (domain.Market, error) {
	if rm.ConditionID == "" {
		return domain.Market{}, fmt.Errorf("missing conditionId")
	}

	var outcomes, tokenIDs []string
	if err := json.Unmarshal([]byte(rm.Outcomes), &outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("decode outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(rm.ClobTokenIDs), &tokenIDs); err != nil {
		return domain.Market{}, fmt.Errorf("decode token ids: %w", err)
	}
	if len(outcomes) != len(tokenIDs) {
		return domain.Market{}, fmt.Errorf("outcome/token count mismatch: %d vs %d", len(outcomes), len(tokenIDs))
	}

	m := domain.Market{
		ConditionID: rm.ConditionID,
		Question:    rm.Question,
		Liquidity:   rm.Liquidity,
		Volume:      rm.Volume,
		Active:      rm.Active != nil && *rm.Active,
		TokenIDs:    make(map[string]string, len(outcomes)),
	}
	for i, o := range outcomes {
		label := strings.ToUpper(strings.TrimSpace(o))
		m.Outcomes = append(m.Outcomes, label)
		m.TokenIDs[label] = tokenIDs[i]
	}
	m.LastIndexedBlock = rm.UpdatedBlock

	if rm.EndDateISO != nil && *rm.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, *rm.EndDateISO); err == nil {
			utc := t.UTC()
			m.Expiry = &utc
		}
	}

	return m, nil
}
