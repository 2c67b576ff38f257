package signals

import (
	"context"
	"fmt"
	"math"

	"github.com/lanternhq/lantern/internal/domain"
)

const (
	trackingHistoryDays = 30

	// Premium/discount magnitude, in percent, that counts as a stressed day
	trackingStressedPct = 1.0

	trackingMinStreak = 3
)

// TrackingStressGenerator flags ETFs trading persistently away from NAV:
// a run of consecutive stressed days, worse when the discount is widening
// monotonically
type TrackingStressGenerator struct {
	instruments InstrumentSource
	metrics     MetricSource
}

func NewTrackingStressGenerator(instruments InstrumentSource, metrics MetricSource) *TrackingStressGenerator {
	return &TrackingStressGenerator{instruments: instruments, metrics: metrics}
}

func (g *TrackingStressGenerator) Name() string { return "tracking_stress" }

func (g *TrackingStressGenerator) SignalType() domain.SignalType { return domain.SignalTrackingStress }

func (g *TrackingStressGenerator) Generate(ctx context.Context, w Window) ([]domain.Signal, error) {
	etfs, err := g.instruments.ListActiveByType(domain.InstrumentETF)
	if err != nil {
		return nil, err
	}

	var out []domain.Signal
	for _, etf := range etfs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rows, err := g.metrics.Latest(etf.ID, trackingHistoryDays)
		if err != nil {
			return nil, fmt.Errorf("load metrics for %s: %w", etf.Symbol, err)
		}

		// Newest first: the streak runs from the latest observation backwards
		premiums := premiumSeries(rows)
		streak := stressedStreak(premiums)
		if streak < trackingMinStreak {
			continue
		}

		widening := monotonicWidening(premiums, streak)

		score := math.Min(40+float64(streak)*8, 90)
		confidence := 0.65
		if widening {
			score = math.Min(score+10, 95)
			confidence = 0.8
		}

		latest := premiums[0]
		out = append(out, domain.Signal{
			InstrumentID: etf.ID,
			Score:        score,
			Confidence:   confidence,
			Reason: fmt.Sprintf("%s has traded more than %.1f%% from NAV for %d consecutive days (latest %.2f%%)",
				etf.Symbol, trackingStressedPct, streak, latest),
			Evidence: []map[string]interface{}{{
				"type":          "TRACKING_STRESS",
				"consecutive":   streak,
				"latest_pct":    round2(latest),
				"widening":      widening,
				"threshold_pct": trackingStressedPct,
				"latest_as_of":  rows[0].AsOfDate,
			}},
		})
	}
	return out, nil
}

func premiumSeries(rows []domain.EtfMetric) []float64 {
	out := make([]float64, 0, len(rows))
	for _, m := range rows {
		if m.PremiumDiscount != nil {
			out = append(out, *m.PremiumDiscount)
		}
	}
	return out
}

// stressedStreak counts consecutive stressed days from the latest
// observation back
func stressedStreak(premiums []float64) int {
	streak := 0
	for _, p := range premiums {
		if math.Abs(p) < trackingStressedPct {
			break
		}
		streak++
	}
	return streak
}

// monotonicWidening reports whether the dislocation grew every day across
// the streak (remember: index 0 is the newest day)
func monotonicWidening(premiums []float64, streak int) bool {
	if streak < 2 || streak > len(premiums) {
		return false
	}
	for i := 0; i < streak-1; i++ {
		if math.Abs(premiums[i]) <= math.Abs(premiums[i+1]) {
			return false
		}
	}
	return true
}
