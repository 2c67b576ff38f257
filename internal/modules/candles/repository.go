package candles

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
)

// candleColumns is the column list for the candles table
const candleColumns = `id, instrument_id, interval, start_time, end_time, open, high, low, close, volume, source`

// Repository handles materialized instrument-candle storage
type Repository struct {
	eventsDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a candle repository
func NewRepository(eventsDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		eventsDB: eventsDB,
		log:      log.With().Str("repo", "candles").Logger(),
	}
}

// FindRange returns cached candles for an instrument over [from, to],
// ascending by start time
func (r *Repository) FindRange(instrumentID string, interval domain.Interval, source string, from, to int64) ([]domain.Candle, error) {
	rows, err := r.eventsDB.Query("SELECT "+candleColumns+` FROM candles
		WHERE instrument_id = ? AND interval = ? AND source = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time ASC`,
		instrumentID, string(interval), source, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var id, interval string
		if err := rows.Scan(&id, &c.InstrumentID, &interval, &c.StartTime, &c.EndTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Source); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Interval = domain.Interval(interval)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertBatch writes candles, replacing rows with the same unique tuple
// (instrument, interval, start time, source). Returns the number of rows
// written.
func (r *Repository) UpsertBatch(batch []domain.Candle) (int, error) {
	written := 0
	err := database.WithTransaction(r.eventsDB, func(tx *sql.Tx) error {
		for _, c := range batch {
			_, err := tx.Exec(`INSERT INTO candles (`+candleColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (instrument_id, interval, start_time, source) DO UPDATE SET
					end_time = excluded.end_time, open = excluded.open, high = excluded.high,
					low = excluded.low, close = excluded.close, volume = excluded.volume`,
				uuid.NewString(), c.InstrumentID, string(c.Interval), c.StartTime, c.EndTime,
				c.Open, c.High, c.Low, c.Close, c.Volume, c.Source)
			if err != nil {
				return fmt.Errorf("failed to upsert candle at %d: %w", c.StartTime, err)
			}
			written++
		}
		return nil
	})
	return written, err
}
