// Package alphavantage provides the historical equity-candle adapter.
package alphavantage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/fetch"
	"github.com/lanternhq/lantern/internal/domain"
)

// SourceName tags candles materialized from this adapter
const SourceName = "alphavantage"

var intervalParams = map[domain.Interval]string{
	domain.Interval1m:  "1min",
	domain.Interval5m:  "5min",
	domain.Interval15m: "15min",
	domain.Interval1h:  "60min",
}

// Client fetches historical OHLCV series
type Client struct {
	baseURL string
	apiKey  string
	fetch   *fetch.Client
	log     zerolog.Logger
}

// NewClient creates a historical-candle client
func NewClient(baseURL, apiKey string, fetchClient *fetch.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetch:   fetchClient,
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

type rawBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// Candles fetches the intraday series for a symbol at an interval and
// returns bars inside [from, to] in ascending start-time order. Timestamps
// are epoch millis. Unsupported intervals (sub-minute) return an error.
func (c *Client) Candles(ctx context.Context, symbol string, interval domain.Interval, from, to int64) ([]domain.Candle, error) {
	param, ok := intervalParams[interval]
	if !ok {
		return nil, fmt.Errorf("interval %s has no historical source", interval)
	}

	q := url.Values{}
	q.Set("function", "TIME_SERIES_INTRADAY")
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", param)
	q.Set("outputsize", "full")
	q.Set("apikey", c.apiKey)
	endpoint := fmt.Sprintf("%s/query?%s", c.baseURL, q.Encode())

	body, err := c.fetch.Get(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}

	// The series key embeds the interval, so decode the envelope generically
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode candle response: %w", err)
	}
	if note, ok := envelope["Note"]; ok {
		return nil, fmt.Errorf("upstream throttled: %s", string(note))
	}
	if msg, ok := envelope["Error Message"]; ok {
		return nil, fmt.Errorf("upstream rejected request: %s", string(msg))
	}

	seriesKey := fmt.Sprintf("Time Series (%s)", param)
	raw, ok := envelope[seriesKey]
	if !ok {
		return nil, fmt.Errorf("response missing series %q", seriesKey)
	}

	var series map[string]rawBar
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode candle series: %w", err)
	}

	intervalMs := interval.Millis()
	candles := make([]domain.Candle, 0, len(series))
	for ts, bar := range series {
		// Series timestamps are US/Eastern wall-clock
		t, err := time.ParseInLocation("2006-01-02 15:04:05", ts, easternTime())
		if err != nil {
			c.log.Debug().Str("timestamp", ts).Msg("Skipping bar with unparseable timestamp")
			continue
		}
		start := t.UTC().UnixMilli()
		if start < from || start > to {
			continue
		}

		candle, err := parseBar(bar, interval, start, intervalMs)
		if err != nil {
			c.log.Debug().Str("timestamp", ts).Err(err).Msg("Skipping malformed bar")
			continue
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].StartTime < candles[j].StartTime })
	return candles, nil
}

func parseBar(bar rawBar, interval domain.Interval, start, intervalMs int64) (domain.Candle, error) {
	open, err := strconv.ParseFloat(bar.Open, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad open %q", bar.Open)
	}
	high, err := strconv.ParseFloat(bar.High, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad high %q", bar.High)
	}
	low, err := strconv.ParseFloat(bar.Low, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad low %q", bar.Low)
	}
	closeP, err := strconv.ParseFloat(bar.Close, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad close %q", bar.Close)
	}
	volume, err := strconv.ParseFloat(bar.Volume, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad volume %q", bar.Volume)
	}
	return domain.Candle{
		Interval:  interval,
		StartTime: start,
		EndTime:   start + intervalMs,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
		Source:    SourceName,
	}, nil
}

// SourceName labels candles materialized from this client
func (c *Client) SourceName() string { return SourceName }

var eastern *time.Location

func easternTime() *time.Location {
	if eastern == nil {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		eastern = loc
	}
	return eastern
}
