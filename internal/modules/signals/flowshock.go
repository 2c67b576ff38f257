package signals

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/lanternhq/lantern/internal/domain"
)

const (
	flowShortWindow = 20
	flowLongWindow  = 60
	flowMinHistory  = 10

	flowShortZThreshold = 2.0
	flowLongZThreshold  = 2.5
)

// FlowShockGenerator flags ETFs whose most recent daily flow is a statistical
// outlier against its own 20- and 60-day history
type FlowShockGenerator struct {
	instruments InstrumentSource
	metrics     MetricSource
}

func NewFlowShockGenerator(instruments InstrumentSource, metrics MetricSource) *FlowShockGenerator {
	return &FlowShockGenerator{instruments: instruments, metrics: metrics}
}

func (g *FlowShockGenerator) Name() string { return "flow_shock" }

func (g *FlowShockGenerator) SignalType() domain.SignalType { return domain.SignalFlowShock }

func (g *FlowShockGenerator) Generate(ctx context.Context, w Window) ([]domain.Signal, error) {
	etfs, err := g.instruments.ListActiveByType(domain.InstrumentETF)
	if err != nil {
		return nil, err
	}

	var out []domain.Signal
	for _, etf := range etfs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rows, err := g.metrics.Latest(etf.ID, flowLongWindow+1)
		if err != nil {
			return nil, fmt.Errorf("load metrics for %s: %w", etf.Symbol, err)
		}

		// Newest first from the repo; the head row is the observation, the
		// tail is its baseline
		flows := flowSeries(rows)
		if len(flows) < flowMinHistory+1 {
			continue
		}
		latest, history := flows[0], flows[1:]

		zShort := zScore(latest, window(history, flowShortWindow))
		zLong := zScore(latest, window(history, flowLongWindow))

		shock := math.Abs(zShort) >= flowShortZThreshold || math.Abs(zLong) >= flowLongZThreshold
		if !shock {
			continue
		}

		magnitude := math.Max(math.Abs(zShort), math.Abs(zLong))
		score := math.Min(50+magnitude*10, 95)
		confidence := math.Min(0.6+0.05*float64(len(history))/10, 0.9)

		direction := "inflow"
		if latest < 0 {
			direction = "outflow"
		}

		out = append(out, domain.Signal{
			InstrumentID: etf.ID,
			Score:        score,
			Confidence:   confidence,
			Reason: fmt.Sprintf("%s daily %s of %.0f units is %.1f sigma against its recent history",
				etf.Symbol, direction, latest, magnitude),
			Evidence: []map[string]interface{}{{
				"type":        "FLOW_SHOCK",
				"flow_units":  latest,
				"z_score_20d": round2(zShort),
				"z_score_60d": round2(zLong),
				"as_of_date":  rows[0].AsOfDate,
			}},
		})
	}
	return out, nil
}

// flowSeries extracts the flow values in row order, skipping rows where the
// provider reported none
func flowSeries(rows []domain.EtfMetric) []float64 {
	out := make([]float64, 0, len(rows))
	for _, m := range rows {
		if m.FlowUnits != nil {
			out = append(out, *m.FlowUnits)
		}
	}
	return out
}

func window(xs []float64, n int) []float64 {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

// zScore places x against the mean and deviation of its baseline. Returns 0
// when the baseline is degenerate.
func zScore(x float64, baseline []float64) float64 {
	if len(baseline) < 2 {
		return 0
	}
	mean := stat.Mean(baseline, nil)
	sd := stat.StdDev(baseline, nil)
	if sd == 0 {
		return 0
	}
	return (x - mean) / sd
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
