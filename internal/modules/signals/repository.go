// Package signals persists risk signals and runs the periodic generators
// that derive them from metrics, candles, and prior signals.
package signals

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
)

const signalColumns = `id, instrument_id, signal_type, severity, score, confidence, reason, evidence, computed_at, expires_at`

// Repository handles signal persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a signal repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "signals").Logger(),
	}
}

// Upsert writes a signal, replacing any prior signal of the same type on the
// same instrument
func (r *Repository) Upsert(sig *domain.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	evidence, err := json.Marshal(sig.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal signal evidence: %w", err)
	}

	_, err = r.db.Exec(`INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, signal_type) DO UPDATE SET
			severity = excluded.severity, score = excluded.score,
			confidence = excluded.confidence, reason = excluded.reason,
			evidence = excluded.evidence, computed_at = excluded.computed_at,
			expires_at = excluded.expires_at`,
		sig.ID, sig.InstrumentID, string(sig.Type), string(sig.Severity),
		sig.Score, sig.Confidence, sig.Reason, string(evidence),
		sig.ComputedAt, sig.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert signal: %w", err)
	}
	return nil
}

// ActiveByInstrument returns unexpired signals for an instrument, strongest
// first
func (r *Repository) ActiveByInstrument(instrumentID string, now time.Time) ([]domain.Signal, error) {
	rows, err := r.db.Query("SELECT "+signalColumns+` FROM signals
		WHERE instrument_id = ? AND expires_at > ?
		ORDER BY score DESC`,
		instrumentID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// ActiveByType returns unexpired signals of one type across all instruments,
// newest first
func (r *Repository) ActiveByType(signalType domain.SignalType, now time.Time) ([]domain.Signal, error) {
	rows, err := r.db.Query("SELECT "+signalColumns+` FROM signals
		WHERE signal_type = ? AND expires_at > ?
		ORDER BY computed_at DESC`,
		string(signalType), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals by type: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// RecentByTypes returns unexpired signals of any of the given types computed
// after the cutoff. Source population for cross-entity propagation.
func (r *Repository) RecentByTypes(types []domain.SignalType, computedAfter, now time.Time) ([]domain.Signal, error) {
	if len(types) == 0 {
		return nil, nil
	}
	query := "SELECT " + signalColumns + " FROM signals WHERE signal_type IN (?"
	args := []interface{}{string(types[0])}
	for _, t := range types[1:] {
		query += ", ?"
		args = append(args, string(t))
	}
	query += ") AND computed_at > ? AND expires_at > ? ORDER BY computed_at DESC"
	args = append(args, computedAfter, now)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// Get returns the signal of one type on one instrument, nil when absent
func (r *Repository) Get(instrumentID string, signalType domain.SignalType) (*domain.Signal, error) {
	rows, err := r.db.Query("SELECT "+signalColumns+` FROM signals
		WHERE instrument_id = ? AND signal_type = ?`,
		instrumentID, string(signalType))
	if err != nil {
		return nil, fmt.Errorf("failed to query signal: %w", err)
	}
	defer rows.Close()

	out, err := scanSignals(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// DeleteExpired removes signals past their expiry. Returns rows removed.
func (r *Repository) DeleteExpired(now time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM signals WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanSignals(rows *sql.Rows) ([]domain.Signal, error) {
	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var sigType, severity, evidence string
		if err := rows.Scan(&sig.ID, &sig.InstrumentID, &sigType, &severity,
			&sig.Score, &sig.Confidence, &sig.Reason, &evidence,
			&sig.ComputedAt, &sig.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		sig.Type = domain.SignalType(sigType)
		sig.Severity = domain.Severity(severity)
		if err := json.Unmarshal([]byte(evidence), &sig.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal evidence: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}
