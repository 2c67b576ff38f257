// Package markets manages the prediction-market catalog: repository, the
// full/incremental indexer, and historical trade backfill.
package markets

import (
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
)

// marketColumns is the column list for the markets table.
// Used to avoid SELECT * which can break when schema changes.
const marketColumns = `condition_id, question, outcomes, token_ids, expiry,
yes_price, no_price, liquidity, volume, active, last_indexed_block, created_at, updated_at`

// Repository handles market database operations plus the backfill status and
// sync watermark tables on the events store
type Repository struct {
	coreDB   *sql.DB
	eventsDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a market repository
func NewRepository(coreDB, eventsDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		coreDB:   coreDB,
		eventsDB: eventsDB,
		log:      log.With().Str("repo", "markets").Logger(),
	}
}

// GetByConditionID returns a market, nil if not found
func (r *Repository) GetByConditionID(conditionID string) (*domain.Market, error) {
	rows, err := r.coreDB.Query("SELECT "+marketColumns+" FROM markets WHERE condition_id = ?", conditionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query market: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Market not found
	}
	m, err := scanMarket(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan market: %w", err)
	}
	return &m, nil
}

// ListActive returns all active markets
func (r *Repository) ListActive() ([]domain.Market, error) {
	return r.list("SELECT " + marketColumns + " FROM markets WHERE active = 1 ORDER BY updated_at DESC")
}

// ListAll returns every known market
func (r *Repository) ListAll() ([]domain.Market, error) {
	return r.list("SELECT " + marketColumns + " FROM markets ORDER BY updated_at DESC")
}

func (r *Repository) list(query string, args ...interface{}) ([]domain.Market, error) {
	rows, err := r.coreDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Upsert inserts a market or merges it into the existing row, preferring new
// non-empty values. The outcome -> token map is written once and never
// replaced. Returns true when the market was newly inserted.
func (r *Repository) Upsert(m domain.Market) (bool, error) {
	existing, err := r.GetByConditionID(m.ConditionID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if existing == nil {
		outcomes, tokens, err := encodeOutcomes(m)
		if err != nil {
			return false, err
		}
		_, err = r.coreDB.Exec(`INSERT INTO markets (`+marketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ConditionID, m.Question, outcomes, tokens, m.Expiry,
			m.YesPrice, m.NoPrice, m.Liquidity, m.Volume, boolToInt(m.Active),
			m.LastIndexedBlock, now, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert market %s: %w", m.ConditionID, err)
		}
		return true, nil
	}

	merged := mergeMarket(*existing, m)
	_, err = r.coreDB.Exec(`UPDATE markets SET question = ?, expiry = ?, yes_price = ?, no_price = ?,
		liquidity = ?, volume = ?, active = ?, last_indexed_block = ?, updated_at = ?
		WHERE condition_id = ?`,
		merged.Question, merged.Expiry, merged.YesPrice, merged.NoPrice,
		merged.Liquidity, merged.Volume, boolToInt(merged.Active),
		merged.LastIndexedBlock, now, merged.ConditionID)
	if err != nil {
		return false, fmt.Errorf("failed to update market %s: %w", m.ConditionID, err)
	}
	return false, nil
}

// mergeMarket overlays incoming fields on the existing row, preferring new
// non-empty values. Outcomes and token ids stay as stored.
func mergeMarket(existing, incoming domain.Market) domain.Market {
	merged := existing
	if incoming.Question != "" {
		merged.Question = incoming.Question
	}
	if incoming.Expiry != nil {
		merged.Expiry = incoming.Expiry
	}
	if incoming.YesPrice != nil && *incoming.YesPrice != "" {
		merged.YesPrice = incoming.YesPrice
	}
	if incoming.NoPrice != nil && *incoming.NoPrice != "" {
		merged.NoPrice = incoming.NoPrice
	}
	if incoming.Liquidity != nil && *incoming.Liquidity != "" {
		merged.Liquidity = incoming.Liquidity
	}
	if incoming.Volume != nil && *incoming.Volume != "" {
		merged.Volume = incoming.Volume
	}
	if incoming.LastIndexedBlock != nil {
		merged.LastIndexedBlock = incoming.LastIndexedBlock
	}
	merged.Active = incoming.Active
	return merged
}

// UpdateState refreshes the incremental-sync fields of a market
func (r *Repository) UpdateState(conditionID string, yesPrice, noPrice, liquidity, volume *string, active bool, lastBlock *int64) error {
	_, err := r.coreDB.Exec(`UPDATE markets SET yes_price = COALESCE(?, yes_price),
		no_price = COALESCE(?, no_price), liquidity = COALESCE(?, liquidity),
		volume = COALESCE(?, volume), active = ?, last_indexed_block = COALESCE(?, last_indexed_block),
		updated_at = ? WHERE condition_id = ?`,
		yesPrice, noPrice, liquidity, volume, boolToInt(active), lastBlock, time.Now().UTC(), conditionID)
	if err != nil {
		return fmt.Errorf("failed to update market state %s: %w", conditionID, err)
	}
	return nil
}

// SetActive flips the active flag. active=false implies no new subscriptions.
func (r *Repository) SetActive(conditionID string, active bool) error {
	_, err := r.coreDB.Exec(`UPDATE markets SET active = ?, updated_at = ? WHERE condition_id = ?`,
		boolToInt(active), time.Now().UTC(), conditionID)
	if err != nil {
		return fmt.Errorf("failed to set market active flag: %w", err)
	}
	return nil
}

// BackfillStatus is the recorded state of one market's historical backfill
type BackfillStatus struct {
	ConditionID      string
	Status           string // in_progress, completed, failed
	TradeEventsCount int
	EarliestTS       *int64
	LatestTS         *int64
	ErrorMessage     *string
	UpdatedAt        time.Time
}

const (
	BackfillInProgress = "in_progress"
	BackfillCompleted  = "completed"
	BackfillFailed     = "failed"
)

// GetBackfill returns the backfill status for a market, nil if never started
func (r *Repository) GetBackfill(conditionID string) (*BackfillStatus, error) {
	rows, err := r.eventsDB.Query(`SELECT condition_id, status, trade_events_count, earliest_ts, latest_ts, error_message, updated_at
		FROM backfills WHERE condition_id = ?`, conditionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backfill status: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Backfill never started
	}
	var b BackfillStatus
	if err := rows.Scan(&b.ConditionID, &b.Status, &b.TradeEventsCount, &b.EarliestTS, &b.LatestTS, &b.ErrorMessage, &b.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan backfill status: %w", err)
	}
	return &b, nil
}

// SetBackfill records the backfill status for a market
func (r *Repository) SetBackfill(b BackfillStatus) error {
	_, err := r.eventsDB.Exec(`INSERT INTO backfills (condition_id, status, trade_events_count, earliest_ts, latest_ts, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id) DO UPDATE SET status = excluded.status,
			trade_events_count = excluded.trade_events_count, earliest_ts = excluded.earliest_ts,
			latest_ts = excluded.latest_ts, error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		b.ConditionID, b.Status, b.TradeEventsCount, b.EarliestTS, b.LatestTS, b.ErrorMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set backfill status: %w", err)
	}
	return nil
}

// GetWatermark returns a named sync watermark, empty string if unset
func (r *Repository) GetWatermark(name string) (string, error) {
	var value string
	err := r.eventsDB.QueryRow("SELECT value FROM sync_watermarks WHERE name = ?", name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query watermark %s: %w", name, err)
	}
	return value, nil
}

// SetWatermark records a named sync watermark
func (r *Repository) SetWatermark(name, value string) error {
	_, err := r.eventsDB.Exec(`INSERT INTO sync_watermarks (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set watermark %s: %w", name, err)
	}
	return nil
}

func encodeOutcomes(m domain.Market) (string, string, error) {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode outcomes: %w", err)
	}
	tokens, err := json.Marshal(m.TokenIDs)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode token ids: %w", err)
	}
	return string(outcomes), string(tokens), nil
}

func scanMarket(rows *sql.Rows) (domain.Market, error) {
	var m domain.Market
	var outcomes, tokens string
	var active int
	err := rows.Scan(&m.ConditionID, &m.Question, &outcomes, &tokens, &m.Expiry,
		&m.YesPrice, &m.NoPrice, &m.Liquidity, &m.Volume, &active,
		&m.LastIndexedBlock, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Market{}, err
	}
	m.Active = active != 0
	if err := json.Unmarshal([]byte(outcomes), &m.Outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("failed to decode outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(tokens), &m.TokenIDs); err != nil {
		return domain.Market{}, fmt.Errorf("failed to decode token ids: %w", err)
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
