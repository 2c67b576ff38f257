package orderbook

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
)

// Repository persists order-book snapshots (cache store, msgpack ladders)
// and appends to the event log (events store, natural-id dedup)
type Repository struct {
	eventsDB *sql.DB
	cacheDB  *sql.DB
	log      zerolog.Logger
}

// NewRepository creates an order-book repository
func NewRepository(eventsDB, cacheDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		eventsDB: eventsDB,
		cacheDB:  cacheDB,
		log:      log.With().Str("repo", "orderbook").Logger(),
	}
}

// SaveSnapshot upserts the snapshot for a (market, outcome). Ladders are
// msgpack blobs; decimal precision survives the round trip.
func (r *Repository) SaveSnapshot(snap *domain.OrderbookSnapshot) error {
	bids, err := msgpack.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("failed to encode bids: %w", err)
	}
	asks, err := msgpack.Marshal(snap.Asks)
	if err != nil {
		return fmt.Errorf("failed to encode asks: %w", err)
	}

	_, err = r.cacheDB.Exec(`INSERT INTO orderbook_snapshots (condition_id, outcome, bids, asks, captured_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id, outcome) DO UPDATE SET bids = excluded.bids, asks = excluded.asks,
			captured_at = excluded.captured_at, expires_at = excluded.expires_at`,
		snap.ConditionID, snap.Outcome, bids, asks, snap.CapturedAt, snap.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored snapshot for a (market, outcome).
// Returns nil when absent or stale (past its expiry).
func (r *Repository) GetSnapshot(conditionID, outcome string) (*domain.OrderbookSnapshot, error) {
	rows, err := r.cacheDB.Query(`SELECT condition_id, outcome, bids, asks, captured_at, expires_at
		FROM orderbook_snapshots WHERE condition_id = ? AND outcome = ?`, conditionID, outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // No snapshot stored
	}

	var snap domain.OrderbookSnapshot
	var bids, asks []byte
	if err := rows.Scan(&snap.ConditionID, &snap.Outcome, &bids, &asks, &snap.CapturedAt, &snap.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if snap.ExpiresAt <= time.Now().UnixMilli() {
		return nil, nil // Stale
	}
	if err := msgpack.Unmarshal(bids, &snap.Bids); err != nil {
		return nil, fmt.Errorf("failed to decode bids: %w", err)
	}
	if err := msgpack.Unmarshal(asks, &snap.Asks); err != nil {
		return nil, fmt.Errorf("failed to decode asks: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot drops the cached snapshot for a (market, outcome)
func (r *Repository) DeleteSnapshot(conditionID, outcome string) error {
	_, err := r.cacheDB.Exec(`DELETE FROM orderbook_snapshots WHERE condition_id = ? AND outcome = ?`,
		conditionID, outcome)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// AppendEvent writes one order-book event, skipping natural-id duplicates.
// Returns true when the event was actually inserted.
func (r *Repository) AppendEvent(ev *domain.OrderbookEvent) (bool, error) {
	res, err := r.eventsDB.Exec(`INSERT INTO orderbook_events (natural_id, condition_id, outcome, ts, event_type, best_bid, best_ask, mid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (natural_id) DO NOTHING`,
		ev.NaturalID(), ev.ConditionID, ev.Outcome, ev.Timestamp, string(ev.EventType), ev.BestBid, ev.BestAsk, ev.Mid)
	if err != nil {
		return false, fmt.Errorf("failed to append orderbook event: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AppendTrades batch-inserts trade events, skipping natural-id duplicates.
// Returns the number actually inserted.
func (r *Repository) AppendTrades(trades []domain.TradeEvent) (int, error) {
	inserted := 0
	err := database.WithTransaction(r.eventsDB, func(tx *sql.Tx) error {
		for i := range trades {
			tr := &trades[i]
			res, err := tx.Exec(`INSERT INTO trade_events (natural_id, condition_id, outcome, ts, price, size, side)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (natural_id) DO NOTHING`,
				tr.NaturalID(), tr.ConditionID, tr.Outcome, tr.Timestamp, tr.Price, tr.Size, tr.Side)
			if err != nil {
				return fmt.Errorf("failed to append trade event: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}

// OrderbookEventsInRange returns order-book events for a (market, outcome)
// with ts in [from, to], ascending
func (r *Repository) OrderbookEventsInRange(conditionID, outcome string, from, to int64) ([]domain.OrderbookEvent, error) {
	rows, err := r.eventsDB.Query(`SELECT condition_id, outcome, ts, event_type, best_bid, best_ask, mid
		FROM orderbook_events WHERE condition_id = ? AND outcome = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
		conditionID, outcome, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query orderbook events: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderbookEvent
	for rows.Next() {
		var ev domain.OrderbookEvent
		var eventType string
		if err := rows.Scan(&ev.ConditionID, &ev.Outcome, &ev.Timestamp, &eventType, &ev.BestBid, &ev.BestAsk, &ev.Mid); err != nil {
			return nil, err
		}
		ev.EventType = domain.OrderbookEventType(eventType)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TradeEventsInRange returns trade events for a (market, outcome) with ts in
// [from, to], ascending
func (r *Repository) TradeEventsInRange(conditionID, outcome string, from, to int64) ([]domain.TradeEvent, error) {
	rows, err := r.eventsDB.Query(`SELECT condition_id, outcome, ts, price, size, side
		FROM trade_events WHERE condition_id = ? AND outcome = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC`,
		conditionID, outcome, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade events: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeEvent
	for rows.Next() {
		var tr domain.TradeEvent
		if err := rows.Scan(&tr.ConditionID, &tr.Outcome, &tr.Timestamp, &tr.Price, &tr.Size, &tr.Side); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
