package candles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
)

// EventSource reads the append-only event log for market candle derivation
type EventSource interface {
	OrderbookEventsInRange(conditionID, outcome string, from, to int64) ([]domain.OrderbookEvent, error)
	TradeEventsInRange(conditionID, outcome string, from, to int64) ([]domain.TradeEvent, error)
}

// HistoricalSource fetches instrument bars from an external provider
type HistoricalSource interface {
	Candles(ctx context.Context, symbol string, interval domain.Interval, from, to int64) ([]domain.Candle, error)
	SourceName() string
}

// inflightCall coalesces concurrent identical instrument-candle requests
type inflightCall struct {
	done    chan struct{}
	candles []domain.Candle
	err     error
}

// Service serves market candles (computed on demand) and instrument candles
// (materialized cache over an external source)
type Service struct {
	events   EventSource
	repo     *Repository
	external HistoricalSource

	mu       sync.Mutex
	inflight map[string]*inflightCall

	log zerolog.Logger
}

// NewService creates the candle service. external may be nil when no
// historical provider is configured; instrument requests then serve
// cache-only.
func NewService(events EventSource, repo *Repository, external HistoricalSource, log zerolog.Logger) *Service {
	return &Service{
		events:   events,
		repo:     repo,
		external: external,
		inflight: make(map[string]*inflightCall),
		log:      log.With().Str("component", "candle_service").Logger(),
	}
}

// MarketCandles derives bars for a (market, outcome) from the event log
func (s *Service) MarketCandles(conditionID, outcome string, interval domain.Interval, from, to int64, limit int) ([]domain.Candle, error) {
	intervalMs := interval.Millis()
	if intervalMs <= 0 {
		return nil, fmt.Errorf("invalid interval %q", interval)
	}

	// One extra bucket before the range seeds forward-fill
	fetchFrom := (from/intervalMs)*intervalMs - intervalMs

	obEvents, err := s.events.OrderbookEventsInRange(conditionID, outcome, fetchFrom, to)
	if err != nil {
		return nil, fmt.Errorf("load orderbook events: %w", err)
	}
	trades, err := s.events.TradeEventsInRange(conditionID, outcome, fetchFrom, to)
	if err != nil {
		return nil, fmt.Errorf("load trade events: %w", err)
	}

	return Aggregate(obEvents, trades, interval, from, to, limit), nil
}

// InstrumentCandles serves bars for an equity or ETF. The DB cache answers
// when it covers the range without gaps; otherwise the external source is
// fetched and merged in. Concurrent identical requests coalesce onto one
// upstream call.
func (s *Service) InstrumentCandles(ctx context.Context, instrumentID, symbol string, interval domain.Interval, from, to int64) ([]domain.Candle, error) {
	if s.external == nil {
		return s.repo.FindRange(instrumentID, interval, "", from, to)
	}

	key := fmt.Sprintf("%s:%s:%d:%d", instrumentID, interval, from, to)

	s.mu.Lock()
	if call, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.candles, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	call.candles, call.err = s.instrumentCandles(ctx, instrumentID, symbol, interval, from, to)
	close(call.done)

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()

	return call.candles, call.err
}

func (s *Service) instrumentCandles(ctx context.Context, instrumentID, symbol string, interval domain.Interval, from, to int64) ([]domain.Candle, error) {
	source := s.external.SourceName()

	cached, err := s.repo.FindRange(instrumentID, interval, source, from, to)
	if err != nil {
		return nil, err
	}
	if covers(cached, interval, from, to) {
		return cached, nil
	}

	fetched, err := s.external.Candles(ctx, symbol, interval, from, to)
	if err != nil {
		// Upstream down: a partial cache beats nothing
		if len(cached) > 0 {
			s.log.Warn().Str("symbol", symbol).Err(err).Msg("Historical fetch failed, serving partial cache")
			return cached, nil
		}
		return nil, fmt.Errorf("fetch historical candles for %s: %w", symbol, err)
	}

	for i := range fetched {
		fetched[i].InstrumentID = instrumentID
		fetched[i].Source = source
	}
	if _, err := s.repo.UpsertBatch(fetched); err != nil {
		return nil, fmt.Errorf("materialize candles: %w", err)
	}

	return s.repo.FindRange(instrumentID, interval, source, from, to)
}

// covers reports whether cached bars span [from, to] without gaps.
// Gap tolerance is 3 intervals for sub-hour intervals (markets close, data
// providers skip empty bars); hourly bars must be contiguous across the
// session, so the same tolerance applies there conservatively.
func covers(cached []domain.Candle, interval domain.Interval, from, to int64) bool {
	if len(cached) == 0 {
		return false
	}
	intervalMs := interval.Millis()
	tolerance := intervalMs
	if interval.Duration() < time.Hour {
		tolerance = 3 * intervalMs
	}

	if cached[0].StartTime-from > tolerance {
		return false
	}
	if to-cached[len(cached)-1].EndTime > tolerance {
		return false
	}
	for i := 1; i < len(cached); i++ {
		if cached[i].StartTime-cached[i-1].EndTime > tolerance {
			return false
		}
	}
	return true
}
