package orderbook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/clob"
	"github.com/lanternhq/lantern/internal/clients/clobws"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/events"
)

// MarketSource lists the markets whose books the stream should track
type MarketSource interface {
	ListActive() ([]domain.Market, error)
	SetActive(conditionID string, active bool) error
}

// BookFetcher seeds state from a REST depth snapshot
type BookFetcher interface {
	Book(ctx context.Context, tokenID string) (*domain.OrderbookSnapshot, error)
}

// Feed is the WebSocket market channel the stream consumes
type Feed interface {
	SetHandler(h clobws.Handler)
	SetOnReconnect(fn func())
	Subscribe(assetIDs ...string) error
	Start() error
	Stop()
}

// StreamConfig carries the stream service knobs
type StreamConfig struct {
	SnapshotTTL          time.Duration
	DeactivateOnNotFound bool // Mark a market inactive when its book 404s
}

// StreamService owns the live order-book state map. It seeds each tracked
// (market, outcome) from REST, consumes the WebSocket feed, persists events,
// and publishes to the per-market bus channels.
type StreamService struct {
	markets MarketSource
	books   BookFetcher
	feed    Feed
	repo    *Repository
	bus     *events.Bus
	cfg     StreamConfig

	mu     sync.Mutex
	states map[string]*State // token id -> state
	tokens map[string]string // conditionID:outcome -> token id

	log zerolog.Logger
}

// NewStreamService creates the stream service
func NewStreamService(markets MarketSource, books BookFetcher, feed Feed, repo *Repository, bus *events.Bus, cfg StreamConfig, log zerolog.Logger) *StreamService {
	s := &StreamService{
		markets: markets,
		books:   books,
		feed:    feed,
		repo:    repo,
		bus:     bus,
		cfg:     cfg,
		states:  make(map[string]*State),
		tokens:  make(map[string]string),
		log:     log.With().Str("component", "stream").Logger(),
	}
	feed.SetHandler(s.handle)
	feed.SetOnReconnect(s.reseedAll)
	return s
}

// Start subscribes the current active-market set and opens the feed
func (s *StreamService) Start() error {
	s.RefreshSubscriptions()
	return s.feed.Start()
}

// Stop closes the feed
func (s *StreamService) Stop() {
	s.feed.Stop()
}

// RefreshSubscriptions brings the tracked set in line with the active-market
// list. New (market, outcome) pairs are seeded from REST and subscribed; a
// 404 on seed skips the pair and optionally deactivates the market.
func (s *StreamService) RefreshSubscriptions() {
	active, err := s.markets.ListActive()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list active markets for stream refresh")
		return
	}

	var newTokens []string
	for _, m := range active {
		for _, outcome := range m.Outcomes {
			tokenID := m.TokenID(outcome)
			if tokenID == "" {
				continue
			}

			s.mu.Lock()
			_, tracked := s.states[tokenID]
			s.mu.Unlock()
			if tracked {
				continue
			}

			if ok := s.seed(m.ConditionID, outcome, tokenID); ok {
				newTokens = append(newTokens, tokenID)
			}
		}
	}

	if len(newTokens) > 0 {
		if err := s.feed.Subscribe(newTokens...); err != nil {
			s.log.Warn().Err(err).Int("tokens", len(newTokens)).Msg("Failed to subscribe new tokens")
		}
		s.log.Info().Int("new_subscriptions", len(newTokens)).Msg("Stream subscriptions refreshed")
	}
}

// seed pulls the REST depth snapshot for one (market, outcome), persists it,
// and emits a seed event. Returns false when the pair cannot be tracked.
func (s *StreamService) seed(conditionID, outcome, tokenID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := s.books.Book(ctx, tokenID)
	if err != nil {
		if errors.Is(err, clob.ErrMarketNotFound) {
			s.log.Info().Str("condition_id", conditionID).Str("outcome", outcome).Msg("Order book gone, skipping subscription")
			if s.cfg.DeactivateOnNotFound {
				if derr := s.markets.SetActive(conditionID, false); derr != nil {
					s.log.Warn().Str("condition_id", conditionID).Err(derr).Msg("Failed to deactivate gone market")
				}
			}
			return false
		}
		s.log.Warn().Str("condition_id", conditionID).Str("outcome", outcome).Err(err).Msg("Order book seed failed, will retry on next refresh")
		return false
	}

	snap.Outcome = outcome
	now := time.Now().UnixMilli()
	if snap.CapturedAt == 0 {
		snap.CapturedAt = now
	}
	snap.ExpiresAt = now + s.cfg.SnapshotTTL.Milliseconds()

	state := NewState(conditionID, outcome)
	state.Seed(snap)

	if err := s.repo.SaveSnapshot(snap); err != nil {
		s.log.Warn().Str("condition_id", conditionID).Err(err).Msg("Failed to persist seed snapshot")
	}
	s.persistAndPublish(state, domain.OrderbookEventSeed, snap.CapturedAt)

	s.mu.Lock()
	s.states[tokenID] = state
	s.tokens[conditionID+":"+outcome] = tokenID
	s.mu.Unlock()
	return true
}

// reseedAll re-seeds every tracked pair after a reconnect: state may have
// drifted while the socket was down
func (s *StreamService) reseedAll() {
	s.mu.Lock()
	tracked := make(map[string]*State, len(s.states))
	for tokenID, st := range s.states {
		tracked[tokenID] = st
	}
	s.mu.Unlock()

	for tokenID, st := range tracked {
		if ok := s.reseedOne(st, tokenID); !ok {
			s.mu.Lock()
			delete(s.states, tokenID)
			delete(s.tokens, st.ConditionID+":"+st.Outcome)
			s.mu.Unlock()
		}
	}
	s.log.Info().Int("tracked", len(tracked)).Msg("Re-seeded order books after reconnect")
}

func (s *StreamService) reseedOne(state *State, tokenID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := s.books.Book(ctx, tokenID)
	if err != nil {
		s.log.Warn().Str("condition_id", state.ConditionID).Err(err).Msg("Re-seed failed")
		return !errors.Is(err, clob.ErrMarketNotFound)
	}
	snap.Outcome = state.Outcome
	now := time.Now().UnixMilli()
	snap.ExpiresAt = now + s.cfg.SnapshotTTL.Milliseconds()

	s.mu.Lock()
	state.Seed(snap)
	s.mu.Unlock()

	if err := s.repo.SaveSnapshot(snap); err != nil {
		s.log.Warn().Str("condition_id", state.ConditionID).Err(err).Msg("Failed to persist re-seed snapshot")
	}
	return true
}

// handle consumes one normalized feed message. Called from the feed's single
// read loop.
func (s *StreamService) handle(msg clobws.Message) {
	s.mu.Lock()
	state, ok := s.states[msg.AssetID]
	s.mu.Unlock()
	if !ok {
		return
	}

	switch msg.Type {
	case clobws.TypeOrderbookUpdate:
		s.handleOrderbookUpdate(state, msg)
	case clobws.TypeTrade:
		s.handleTrade(state, msg)
	case clobws.TypePriceUpdate:
		s.handlePriceUpdate(state, msg)
	}
}

func (s *StreamService) handleOrderbookUpdate(state *State, msg clobws.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Snapshot {
	case clobws.SnapshotStart:
		state.BeginSnapshot()
		return
	case clobws.SnapshotEnd:
		state.EndSnapshot()
		// The rebuilt ladders replace the cached snapshot
		now := time.Now().UnixMilli()
		snap := state.Snapshot(now, now+s.cfg.SnapshotTTL.Milliseconds())
		if err := s.repo.SaveSnapshot(snap); err != nil {
			s.log.Warn().Str("condition_id", state.ConditionID).Err(err).Msg("Failed to persist rebuilt snapshot")
		}
		return
	}

	if !state.ApplyDelta(msg.Side, msg.Price, msg.Size) {
		s.log.Debug().Str("condition_id", state.ConditionID).Str("price", msg.Price).Msg("Ignoring malformed delta")
		return
	}
	if state.InSnapshot() {
		return // Deltas inside a snapshot frame rebuild state silently
	}

	ts := msg.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	s.persistAndPublish(state, domain.OrderbookEventDelta, ts)
}

func (s *StreamService) handleTrade(state *State, msg clobws.Message) {
	ts := msg.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	trade := domain.TradeEvent{
		ConditionID: state.ConditionID,
		Outcome:     state.Outcome,
		Timestamp:   ts,
		Price:       msg.Price,
		Size:        msg.Size,
	}
	if msg.Side != "" {
		side := msg.Side
		trade.Side = &side
	}
	if _, err := s.repo.AppendTrades([]domain.TradeEvent{trade}); err != nil {
		s.log.Warn().Str("condition_id", state.ConditionID).Err(err).Msg("Failed to persist trade")
	}
	s.bus.Publish(events.PriceChannel(state.ConditionID), "trade", map[string]interface{}{
		"outcome":   state.Outcome,
		"price":     msg.Price,
		"size":      msg.Size,
		"timestamp": ts,
	})
}

func (s *StreamService) handlePriceUpdate(state *State, msg clobws.Message) {
	ts := msg.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	ev := &domain.OrderbookEvent{
		ConditionID: state.ConditionID,
		Outcome:     state.Outcome,
		Timestamp:   ts,
		EventType:   domain.OrderbookEventPrice,
	}
	if msg.BestBid != "" {
		ev.BestBid = &msg.BestBid
	}
	if msg.BestAsk != "" {
		ev.BestAsk = &msg.BestAsk
	}
	if _, err := s.repo.AppendEvent(ev); err != nil {
		s.log.Warn().Str("condition_id", state.ConditionID).Err(err).Msg("Failed to persist price event")
	}
	s.bus.Publish(events.PriceChannel(state.ConditionID), "price_update", map[string]interface{}{
		"outcome":   state.Outcome,
		"bestBid":   ev.BestBid,
		"bestAsk":   ev.BestAsk,
		"timestamp": ts,
	})
}

// persistAndPublish records a top-of-book event and fans it out to both
// per-market channels. Caller holds the state lock where required.
func (s *StreamService) persistAndPublish(state *State, eventType domain.OrderbookEventType, ts int64) {
	ev := &domain.OrderbookEvent{
		ConditionID: state.ConditionID,
		Outcome:     state.Outcome,
		Timestamp:   ts,
		EventType:   eventType,
	}
	if bid := state.BestBid(); bid != nil {
		v := bid.String()
		ev.BestBid = &v
	}
	if ask := state.BestAsk(); ask != nil {
		v := ask.String()
		ev.BestAsk = &v
	}
	if mid := state.Mid(); mid != nil {
		v := mid.String()
		ev.Mid = &v
	}

	if _, err := s.repo.AppendEvent(ev); err != nil {
		s.log.Warn().Str("condition_id", state.ConditionID).Err(err).Msg("Failed to persist orderbook event")
	}

	payload := map[string]interface{}{
		"outcome":   state.Outcome,
		"eventType": string(eventType),
		"bestBid":   ev.BestBid,
		"bestAsk":   ev.BestAsk,
		"mid":       ev.Mid,
		"timestamp": ts,
	}
	s.bus.Publish(events.OrderbookChannel(state.ConditionID), "orderbook", payload)
	s.bus.Publish(events.PriceChannel(state.ConditionID), "price", payload)
}
