package signals

import (
	"context"
	"fmt"

	"github.com/lanternhq/lantern/internal/domain"
)

// Concentration thresholds over the Herfindahl index of AP creation-unit
// shares. 0.5 means one AP carries ~70% of activity.
const (
	apConcentrationElevated = 0.50
	apConcentrationSevere   = 0.75
)

// APConcentrationGenerator flags ETFs whose creation/redemption activity
// depends on too few authorized participants
type APConcentrationGenerator struct {
	instruments InstrumentSource
	metrics     MetricSource
}

func NewAPConcentrationGenerator(instruments InstrumentSource, metrics MetricSource) *APConcentrationGenerator {
	return &APConcentrationGenerator{instruments: instruments, metrics: metrics}
}

func (g *APConcentrationGenerator) Name() string { return "ap_concentration" }

func (g *APConcentrationGenerator) SignalType() domain.SignalType {
	return domain.SignalAPConcentration
}

func (g *APConcentrationGenerator) Generate(ctx context.Context, w Window) ([]domain.Signal, error) {
	etfs, err := g.instruments.ListActiveByType(domain.InstrumentETF)
	if err != nil {
		return nil, err
	}

	var out []domain.Signal
	for _, etf := range etfs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rows, err := g.metrics.Latest(etf.ID, 1)
		if err != nil {
			return nil, fmt.Errorf("load metrics for %s: %w", etf.Symbol, err)
		}
		if len(rows) == 0 || rows[0].APConcentration == nil {
			continue
		}

		hhi := *rows[0].APConcentration
		if hhi < apConcentrationElevated {
			continue
		}

		score := 60.0
		confidence := 0.7
		if hhi >= apConcentrationSevere {
			score = 85
			confidence = 0.85
		}

		out = append(out, domain.Signal{
			InstrumentID: etf.ID,
			Score:        score,
			Confidence:   confidence,
			Reason: fmt.Sprintf("AP creation activity for %s is concentrated (HHI %.2f as of %s)",
				etf.Symbol, hhi, rows[0].AsOfDate),
			Evidence: []map[string]interface{}{{
				"type":       "AP_CONCENTRATION",
				"hhi":        hhi,
				"as_of_date": rows[0].AsOfDate,
			}},
		})
	}
	return out, nil
}
