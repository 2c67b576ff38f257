// Package clob provides the prediction-market order-book and trade-history
// client.
package clob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lanternhq/lantern/internal/clients/fetch"
	"github.com/lanternhq/lantern/internal/domain"
)

// ErrMarketNotFound marks a 404 on an order-book or trade request. The
// market is treated as gone (closed), not as a failure.
var ErrMarketNotFound = errors.New("market not found")

// Client fetches order-book snapshots and historical trades
type Client struct {
	baseURL     string
	dataBaseURL string
	fetch       *fetch.Client
	dataFetch   *fetch.Client
	log         zerolog.Logger
}

// NewClient creates a CLOB client. fetchClient gates the order-book host,
// dataFetch the trade-history host.
func NewClient(baseURL, dataBaseURL string, fetchClient, dataFetch *fetch.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		dataBaseURL: strings.TrimRight(dataBaseURL, "/"),
		fetch:       fetchClient,
		dataFetch:   dataFetch,
		log:         log.With().Str("client", "clob").Logger(),
	}
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type rawBook struct {
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Timestamp string     `json:"timestamp"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
}

// Book fetches the full-depth order book for a token.
// Returns ErrMarketNotFound for a 404 (closed market).
func (c *Client) Book(ctx context.Context, tokenID string) (*domain.OrderbookSnapshot, error) {
	endpoint := fmt.Sprintf("%s/book?token_id=%s", c.baseURL, url.QueryEscape(tokenID))

	var raw rawBook
	if err := c.fetch.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, fmt.Errorf("token %s: %w", tokenID, ErrMarketNotFound)
		}
		return nil, fmt.Errorf("fetch book for token %s: %w", tokenID, err)
	}

	snap := &domain.OrderbookSnapshot{
		ConditionID: raw.Market,
		CapturedAt:  parseMillis(raw.Timestamp),
	}

	var err error
	if snap.Bids, err = parseLevels(raw.Bids); err != nil {
		return nil, fmt.Errorf("parse bids: %w", err)
	}
	if snap.Asks, err = parseLevels(raw.Asks); err != nil {
		return nil, fmt.Errorf("parse asks: %w", err)
	}

	return snap, nil
}

func parseLevels(raw []rawLevel) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", lvl.Price, err)
		}
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			return nil, fmt.Errorf("bad size %q: %w", lvl.Size, err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

type rawTrade struct {
	ConditionID string `json:"conditionId"`
	Outcome     string `json:"outcome"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Side        string `json:"side"`
	Timestamp   int64  `json:"timestamp"` // epoch seconds
}

// TradePage is one batch of historical trades
type TradePage struct {
	Trades []domain.TradeEvent
	Offset int
}

// Trades fetches one page of historical trades for a market.
// A page shorter than limit means the sequence is exhausted.
func (c *Client) Trades(ctx context.Context, conditionID string, offset, limit int) (*TradePage, error) {
	q := url.Values{}
	q.Set("market", conditionID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	endpoint := fmt.Sprintf("%s/trades?%s", c.dataBaseURL, q.Encode())

	var raw []rawTrade
	if err := c.dataFetch.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, fmt.Errorf("market %s: %w", conditionID, ErrMarketNotFound)
		}
		return nil, fmt.Errorf("fetch trades for %s at offset %d: %w", conditionID, offset, err)
	}

	page := &TradePage{Offset: offset}
	for _, rt := range raw {
		side := strings.ToUpper(rt.Side)
		ev := domain.TradeEvent{
			ConditionID: conditionID,
			Outcome:     strings.ToUpper(strings.TrimSpace(rt.Outcome)),
			Timestamp:   rt.Timestamp * 1000,
			Price:       rt.Price,
			Size:        rt.Size,
		}
		if side != "" {
			ev.Side = &side
		}
		page.Trades = append(page.Trades, ev)
	}

	return page, nil
}

type rawPosition struct {
	ConditionID  string  `json:"conditionId"`
	Outcome      string  `json:"outcome"`
	Size         string  `json:"size"`
	AvgPrice     string  `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
}

// Position is a wallet's aggregated holding in one market outcome
type Position struct {
	ConditionID  string  `json:"condition_id"`
	Outcome      string  `json:"outcome"`
	Size         string  `json:"size"`
	AvgPrice     string  `json:"avg_price"`
	CurrentValue float64 `json:"current_value"`
	CashPnL      float64 `json:"cash_pnl"`
}

// Positions fetches a wallet's open positions from the trade-history host
func (c *Client) Positions(ctx context.Context, wallet string) ([]Position, error) {
	endpoint := fmt.Sprintf("%s/positions?user=%s", c.dataBaseURL, url.QueryEscape(wallet))

	var raw []rawPosition
	if err := c.dataFetch.GetJSON(ctx, endpoint, nil, &raw); err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch positions for %s: %w", wallet, err)
	}

	out := make([]Position, 0, len(raw))
	for _, rp := range raw {
		out = append(out, Position{
			ConditionID:  rp.ConditionID,
			Outcome:      strings.ToUpper(strings.TrimSpace(rp.Outcome)),
			Size:         rp.Size,
			AvgPrice:     rp.AvgPrice,
			CurrentValue: rp.CurrentValue,
			CashPnL:      rp.CashPnL,
		})
	}
	return out, nil
}

func parseMillis(s string) int64 {
	if s == "" {
		return time.Now().UTC().UnixMilli()
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return time.Now().UTC().UnixMilli()
}
