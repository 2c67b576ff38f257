package signals

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
)

// Window carries the evaluation instant and lookback horizon into a
// generator run
type Window struct {
	Now      time.Time
	Lookback time.Duration
}

// Generator derives signals of one type from persisted metrics, candles, or
// prior signals
type Generator interface {
	Name() string
	SignalType() domain.SignalType
	Generate(ctx context.Context, w Window) ([]domain.Signal, error)
}

// MetricSource reads ETF metric rows for generators
type MetricSource interface {
	Latest(instrumentID string, n int) ([]domain.EtfMetric, error)
}

// InstrumentSource provides the instrument population and peer graph
type InstrumentSource interface {
	ListActiveByType(instrumentType domain.InstrumentType) ([]domain.Instrument, error)
	GetRelated(instrumentID, relType string) ([]domain.Relationship, error)
}

// CandleSource reads materialized candles for price-based generators
type CandleSource interface {
	FindRange(instrumentID string, interval domain.Interval, source string, from, to int64) ([]domain.Candle, error)
}

// RunnerConfig bounds what a generator run persists
type RunnerConfig struct {
	MinConfidence float64
	SignalTTL     time.Duration
	Lookback      time.Duration
}

// Runner drives all registered generators and persists what clears the
// confidence floor
type Runner struct {
	repo       *Repository
	generators []Generator
	cfg        RunnerConfig
	log        zerolog.Logger
}

// NewRunner creates a generator runner
func NewRunner(repo *Repository, generators []Generator, cfg RunnerConfig, log zerolog.Logger) *Runner {
	return &Runner{
		repo:       repo,
		generators: generators,
		cfg:        cfg,
		log:        log.With().Str("component", "signal_runner").Logger(),
	}
}

// RunAll executes every generator. A failing generator is logged and the run
// continues; the error of the last failure is returned.
func (r *Runner) RunAll(ctx context.Context) error {
	var lastErr error
	for _, gen := range r.generators {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.runOne(ctx, gen); err != nil {
			r.log.Error().Str("generator", gen.Name()).Err(err).Msg("Generator run failed")
			lastErr = err
		}
	}
	return lastErr
}

func (r *Runner) runOne(ctx context.Context, gen Generator) error {
	now := time.Now().UTC()
	produced, err := gen.Generate(ctx, Window{Now: now, Lookback: r.cfg.Lookback})
	if err != nil {
		return err
	}

	upserted := 0
	for i := range produced {
		sig := &produced[i]
		if sig.Confidence < r.cfg.MinConfidence {
			continue
		}
		sig.Type = gen.SignalType()
		if sig.Severity == "" {
			sig.Severity = domain.SeverityForScore(sig.Score, sig.Confidence)
		}
		if sig.ComputedAt.IsZero() {
			sig.ComputedAt = now
		}
		if sig.ExpiresAt.IsZero() {
			sig.ExpiresAt = sig.ComputedAt.Add(r.cfg.SignalTTL)
		}
		if err := r.repo.Upsert(sig); err != nil {
			return err
		}
		upserted++
	}

	r.log.Info().Str("generator", gen.Name()).
		Int("produced", len(produced)).Int("upserted", upserted).
		Msg("Generator run complete")
	return nil
}
