// Package instruments manages the tradable-entity registry: instruments,
// their issuer identifiers, the competitor/peer graph, and the
// document-to-instrument matching used during discovery.
package instruments

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
)

// instrumentColumns is the column list for the instruments table.
// Used to avoid SELECT * which can break when schema changes.
const instrumentColumns = `id, type, symbol, exchange, name, status, created_at, updated_at`

// Repository handles instrument database operations
type Repository struct {
	coreDB *sql.DB
	log    zerolog.Logger
}

// NewRepository creates an instrument repository
func NewRepository(coreDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		coreDB: coreDB,
		log:    log.With().Str("repo", "instruments").Logger(),
	}
}

// GetByID returns an instrument with its identifiers, nil if not found
func (r *Repository) GetByID(id string) (*domain.Instrument, error) {
	return r.getOne("SELECT "+instrumentColumns+" FROM instruments WHERE id = ?", id)
}

// GetBySymbol returns an instrument by exact symbol, nil if not found
func (r *Repository) GetBySymbol(symbol string) (*domain.Instrument, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return r.getOne("SELECT "+instrumentColumns+" FROM instruments WHERE symbol = ?", symbol)
}

// GetByIdentifier returns the instrument carrying an identifier value,
// nil if not found
func (r *Repository) GetByIdentifier(idType domain.IdentifierType, value string) (*domain.Instrument, error) {
	query := "SELECT " + instrumentColumns + ` FROM instruments
		WHERE id = (SELECT instrument_id FROM identifiers WHERE id_type = ? AND value = ?)`
	return r.getOne(query, string(idType), strings.TrimSpace(value))
}

func (r *Repository) getOne(query string, args ...interface{}) (*domain.Instrument, error) {
	rows, err := r.coreDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instrument: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Instrument not found
	}

	inst, err := scanInstrument(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan instrument: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if inst.Identifiers, err = r.loadIdentifiers(inst.ID); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListActiveByType returns all active instruments of a type
func (r *Repository) ListActiveByType(instType domain.InstrumentType) ([]domain.Instrument, error) {
	query := "SELECT " + instrumentColumns + " FROM instruments WHERE status = ? AND type = ? ORDER BY symbol"
	rows, err := r.coreDB.Query(query, string(domain.InstrumentActive), string(instType))
	if err != nil {
		return nil, fmt.Errorf("failed to query active instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ListActiveSymbols returns symbol -> id for every active instrument.
// Used by the document matcher to avoid per-token queries.
func (r *Repository) ListActiveSymbols() (map[string]string, error) {
	rows, err := r.coreDB.Query("SELECT symbol, id FROM instruments WHERE status = ?", string(domain.InstrumentActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	symbols := make(map[string]string)
	for rows.Next() {
		var symbol, id string
		if err := rows.Scan(&symbol, &id); err != nil {
			return nil, err
		}
		symbols[symbol] = id
	}
	return symbols, rows.Err()
}

// Create inserts an instrument and its identifiers atomically
func (r *Repository) Create(inst *domain.Instrument) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.Status == "" {
		inst.Status = domain.InstrumentActive
	}
	inst.Symbol = strings.ToUpper(strings.TrimSpace(inst.Symbol))

	return database.WithTransaction(r.coreDB, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO instruments (id, type, symbol, exchange, name, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, string(inst.Type), inst.Symbol, inst.Exchange, inst.Name, string(inst.Status), now, now)
		if err != nil {
			return fmt.Errorf("failed to insert instrument: %w", err)
		}
		for idType, value := range inst.Identifiers {
			if _, err := tx.Exec(`INSERT INTO identifiers (instrument_id, id_type, value) VALUES (?, ?, ?)`,
				inst.ID, string(idType), value); err != nil {
				return fmt.Errorf("failed to insert identifier %s: %w", idType, err)
			}
		}
		return nil
	})
}

// Update refreshes mutable instrument fields (enrichment path)
func (r *Repository) Update(inst *domain.Instrument) error {
	inst.UpdatedAt = time.Now().UTC()
	_, err := r.coreDB.Exec(`UPDATE instruments SET exchange = ?, name = ?, status = ?, updated_at = ? WHERE id = ?`,
		inst.Exchange, inst.Name, string(inst.Status), inst.UpdatedAt, inst.ID)
	if err != nil {
		return fmt.Errorf("failed to update instrument %s: %w", inst.ID, err)
	}
	return nil
}

// SetStatus soft-activates or deactivates an instrument
func (r *Repository) SetStatus(id string, status domain.InstrumentStatus) error {
	_, err := r.coreDB.Exec(`UPDATE instruments SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set instrument status: %w", err)
	}
	return nil
}

// UpsertIdentifier sets an identifier value, replacing any previous value of
// the same type (each type is unique per instrument)
func (r *Repository) UpsertIdentifier(instrumentID string, idType domain.IdentifierType, value string) error {
	_, err := r.coreDB.Exec(`INSERT INTO identifiers (instrument_id, id_type, value) VALUES (?, ?, ?)
		ON CONFLICT (instrument_id, id_type) DO UPDATE SET value = excluded.value`,
		instrumentID, string(idType), strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("failed to upsert identifier: %w", err)
	}
	return nil
}

func (r *Repository) loadIdentifiers(instrumentID string) (map[domain.IdentifierType]string, error) {
	rows, err := r.coreDB.Query("SELECT id_type, value FROM identifiers WHERE instrument_id = ?", instrumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer rows.Close()

	ids := make(map[domain.IdentifierType]string)
	for rows.Next() {
		var idType, value string
		if err := rows.Scan(&idType, &value); err != nil {
			return nil, err
		}
		ids[domain.IdentifierType(idType)] = value
	}
	return ids, rows.Err()
}

// UpsertRelationship records a directed relationship edge
func (r *Repository) UpsertRelationship(rel domain.Relationship) error {
	_, err := r.coreDB.Exec(`INSERT INTO instrument_relationships (instrument_id, related_id, rel_type, confidence)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (instrument_id, related_id, rel_type) DO UPDATE SET confidence = excluded.confidence`,
		rel.InstrumentID, rel.RelatedID, rel.RelType, rel.Confidence)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

// GetRelated returns outgoing relationship edges of a type for an instrument
func (r *Repository) GetRelated(instrumentID, relType string) ([]domain.Relationship, error) {
	rows, err := r.coreDB.Query(`SELECT instrument_id, related_id, rel_type, confidence
		FROM instrument_relationships WHERE instrument_id = ? AND rel_type = ?`, instrumentID, relType)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var out []domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		if err := rows.Scan(&rel.InstrumentID, &rel.RelatedID, &rel.RelType, &rel.Confidence); err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func scanInstrument(rows *sql.Rows) (domain.Instrument, error) {
	var inst domain.Instrument
	var exchange, name sql.NullString
	err := rows.Scan(&inst.ID, &inst.Type, &inst.Symbol, &exchange, &name, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return domain.Instrument{}, err
	}
	inst.Exchange = exchange.String
	inst.Name = name.String
	return inst, nil
}
