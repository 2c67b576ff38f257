package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
)

// SourceDerived tags metric rows computed from AP detail data rather than
// ingested from a provider
const SourceDerived = "derived"

// InstrumentSource lists the ETF population for the daily compute pass
type InstrumentSource interface {
	ListActiveByType(instrumentType domain.InstrumentType) ([]domain.Instrument, error)
}

// Service derives daily concentration stats from AP detail rows
type Service struct {
	repo        *Repository
	instruments InstrumentSource
	log         zerolog.Logger
}

// NewService creates the metrics service
func NewService(repo *Repository, instruments InstrumentSource, log zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		instruments: instruments,
		log:         log.With().Str("component", "metrics_service").Logger(),
	}
}

// ComputeDaily derives AP concentration for every active ETF from its most
// recent AP detail rows and upserts the result as a derived metric row.
// Per-instrument failures are logged and skipped; the pass continues.
func (s *Service) ComputeDaily(ctx context.Context) error {
	etfs, err := s.instruments.ListActiveByType(domain.InstrumentETF)
	if err != nil {
		return err
	}

	computed := 0
	for _, etf := range etfs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.computeOne(etf.ID); err != nil {
			s.log.Warn().Str("instrument_id", etf.ID).Str("symbol", etf.Symbol).
				Err(err).Msg("AP concentration compute failed")
			continue
		}
		computed++
	}

	s.log.Info().Int("etfs", len(etfs)).Int("computed", computed).
		Msg("Daily metric computation complete")
	return nil
}

func (s *Service) computeOne(instrumentID string) error {
	date, err := s.repo.LatestAPDate(instrumentID)
	if err != nil {
		return err
	}
	if date == "" {
		return nil // no AP data yet
	}

	details, err := s.repo.APDetailsByDate(instrumentID, date)
	if err != nil {
		return err
	}

	hhi, ok := Herfindahl(details)
	if !ok {
		return nil
	}

	return s.repo.UpsertMetric(&domain.EtfMetric{
		InstrumentID:    instrumentID,
		AsOfDate:        date,
		SourceType:      SourceDerived,
		APConcentration: &hhi,
	})
}

// Herfindahl computes the concentration index over AP creation-unit shares.
// Returns false when total activity is zero or no rows exist. Range (0, 1];
// 1 means a single AP carries all activity.
func Herfindahl(details []domain.EtfApDetail) (float64, bool) {
	var total float64
	for _, d := range details {
		if d.CreationUnits > 0 {
			total += d.CreationUnits
		}
	}
	if total <= 0 {
		return 0, false
	}

	var hhi float64
	for _, d := range details {
		if d.CreationUnits <= 0 {
			continue
		}
		share := d.CreationUnits / total
		hhi += share * share
	}
	return hhi, true
}

// Today returns the current UTC date in metric-row format
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}
