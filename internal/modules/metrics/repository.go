// Package metrics stores ETF health time series (NAV, premium/discount,
// flows, authorized-participant activity) and derives daily concentration
// stats from the AP detail rows.
package metrics

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
)

const metricColumns = `id, instrument_id, as_of_date, source_type, nav, premium_discount, flow_units, ap_concentration`

const apDetailColumns = `id, instrument_id, as_of_date, ap_name, creation_units`

// Repository handles ETF metric and AP detail persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a metrics repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "metrics").Logger(),
	}
}

// UpsertMetric writes one metric row. On conflict with an existing
// (instrument, date, source) row, incoming non-null values overwrite and
// incoming nulls leave the stored value alone.
func (r *Repository) UpsertMetric(m *domain.EtfMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.Exec(`INSERT INTO etf_metrics (`+metricColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, as_of_date, source_type) DO UPDATE SET
			nav              = COALESCE(excluded.nav, nav),
			premium_discount = COALESCE(excluded.premium_discount, premium_discount),
			flow_units       = COALESCE(excluded.flow_units, flow_units),
			ap_concentration = COALESCE(excluded.ap_concentration, ap_concentration)`,
		m.ID, m.InstrumentID, m.AsOfDate, m.SourceType,
		m.NAV, m.PremiumDiscount, m.FlowUnits, m.APConcentration)
	if err != nil {
		return fmt.Errorf("failed to upsert etf metric: %w", err)
	}
	return nil
}

// FindRange returns metric rows for an instrument over [fromDate, toDate]
// (inclusive, YYYY-MM-DD), ascending by date
func (r *Repository) FindRange(instrumentID, fromDate, toDate string) ([]domain.EtfMetric, error) {
	rows, err := r.db.Query("SELECT "+metricColumns+` FROM etf_metrics
		WHERE instrument_id = ? AND as_of_date >= ? AND as_of_date <= ?
		ORDER BY as_of_date ASC`,
		instrumentID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query etf metrics: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// Latest returns the most recent n metric rows for an instrument, newest
// first
func (r *Repository) Latest(instrumentID string, n int) ([]domain.EtfMetric, error) {
	rows, err := r.db.Query("SELECT "+metricColumns+` FROM etf_metrics
		WHERE instrument_id = ?
		ORDER BY as_of_date DESC LIMIT ?`,
		instrumentID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest etf metrics: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

func scanMetrics(rows *sql.Rows) ([]domain.EtfMetric, error) {
	var out []domain.EtfMetric
	for rows.Next() {
		var m domain.EtfMetric
		if err := rows.Scan(&m.ID, &m.InstrumentID, &m.AsOfDate, &m.SourceType,
			&m.NAV, &m.PremiumDiscount, &m.FlowUnits, &m.APConcentration); err != nil {
			return nil, fmt.Errorf("failed to scan etf metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertAPDetails writes a batch of AP activity rows, replacing creation
// units on the (instrument, date, AP) conflict
func (r *Repository) UpsertAPDetails(batch []domain.EtfApDetail) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for i := range batch {
			d := &batch[i]
			if d.ID == "" {
				d.ID = uuid.NewString()
			}
			_, err := tx.Exec(`INSERT INTO etf_ap_details (`+apDetailColumns+`)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (instrument_id, as_of_date, ap_name) DO UPDATE SET
					creation_units = excluded.creation_units`,
				d.ID, d.InstrumentID, d.AsOfDate, d.APName, d.CreationUnits)
			if err != nil {
				return fmt.Errorf("failed to upsert ap detail for %s: %w", d.APName, err)
			}
		}
		return nil
	})
}

// APDetailsByDate returns the AP activity rows for an instrument on one day
func (r *Repository) APDetailsByDate(instrumentID, asOfDate string) ([]domain.EtfApDetail, error) {
	rows, err := r.db.Query("SELECT "+apDetailColumns+` FROM etf_ap_details
		WHERE instrument_id = ? AND as_of_date = ?
		ORDER BY creation_units DESC`,
		instrumentID, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query ap details: %w", err)
	}
	defer rows.Close()

	var out []domain.EtfApDetail
	for rows.Next() {
		var d domain.EtfApDetail
		if err := rows.Scan(&d.ID, &d.InstrumentID, &d.AsOfDate, &d.APName, &d.CreationUnits); err != nil {
			return nil, fmt.Errorf("failed to scan ap detail: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestAPDate returns the most recent AP detail date for an instrument,
// empty when none exist
func (r *Repository) LatestAPDate(instrumentID string) (string, error) {
	var date sql.NullString
	err := r.db.QueryRow(
		"SELECT MAX(as_of_date) FROM etf_ap_details WHERE instrument_id = ?",
		instrumentID).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest ap date: %w", err)
	}
	return date.String, nil
}
