package signals_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/signals"
)

type fakeInstruments struct {
	byType  map[domain.InstrumentType][]domain.Instrument
	related map[string][]domain.Relationship
}

func (fi *fakeInstruments) ListActiveByType(instrumentType domain.InstrumentType) ([]domain.Instrument, error) {
	return fi.byType[instrumentType], nil
}

func (fi *fakeInstruments) GetRelated(instrumentID, relType string) ([]domain.Relationship, error) {
	return fi.related[instrumentID], nil
}

type fakeMetrics struct {
	rows map[string][]domain.EtfMetric // newest first, as the repo returns
}

func (fm *fakeMetrics) Latest(instrumentID string, n int) ([]domain.EtfMetric, error) {
	rows := fm.rows[instrumentID]
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows, nil
}

func f(v float64) *float64 { return &v }

func window() signals.Window {
	return signals.Window{Now: time.Now().UTC(), Lookback: 24 * time.Hour}
}

func TestAPConcentrationGenerator(t *testing.T) {
	instruments := &fakeInstruments{byType: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentETF: {
			{ID: "etf-hot", Symbol: "HOT"},
			{ID: "etf-cool", Symbol: "COOL"},
			{ID: "etf-bare", Symbol: "BARE"},
		},
	}}
	metrics := &fakeMetrics{rows: map[string][]domain.EtfMetric{
		"etf-hot":  {{AsOfDate: "2026-08-20", APConcentration: f(0.82)}},
		"etf-cool": {{AsOfDate: "2026-08-20", APConcentration: f(0.2)}},
		"etf-bare": {{AsOfDate: "2026-08-20"}}, // metric row without concentration
	}}

	gen := signals.NewAPConcentrationGenerator(instruments, metrics)
	out, err := gen.Generate(context.Background(), window())
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "etf-hot", out[0].InstrumentID)
	assert.Equal(t, 85.0, out[0].Score)
	assert.Equal(t, 0.82, out[0].Evidence[0]["hhi"])
}

func TestFlowShockGeneratorFlagsOutlier(t *testing.T) {
	// 20 quiet days around +-100 units, then a -5000 unit day
	rows := []domain.EtfMetric{{AsOfDate: "2026-08-20", FlowUnits: f(-5000)}}
	for i := 0; i < 20; i++ {
		v := 100.0
		if i%2 == 0 {
			v = -100
		}
		rows = append(rows, domain.EtfMetric{AsOfDate: "2026-08-01", FlowUnits: f(v)})
	}

	instruments := &fakeInstruments{byType: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentETF: {{ID: "etf-1", Symbol: "XYZ"}},
	}}
	metrics := &fakeMetrics{rows: map[string][]domain.EtfMetric{"etf-1": rows}}

	gen := signals.NewFlowShockGenerator(instruments, metrics)
	out, err := gen.Generate(context.Background(), window())
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Contains(t, out[0].Reason, "outflow")
	assert.Less(t, out[0].Evidence[0]["z_score_20d"].(float64), -2.0)
}

func TestFlowShockGeneratorQuietSeries(t *testing.T) {
	var rows []domain.EtfMetric
	for i := 0; i < 30; i++ {
		rows = append(rows, domain.EtfMetric{AsOfDate: "2026-08-01", FlowUnits: f(float64(90 + i%20))})
	}

	instruments := &fakeInstruments{byType: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentETF: {{ID: "etf-1", Symbol: "XYZ"}},
	}}
	metrics := &fakeMetrics{rows: map[string][]domain.EtfMetric{"etf-1": rows}}

	gen := signals.NewFlowShockGenerator(instruments, metrics)
	out, err := gen.Generate(context.Background(), window())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTrackingStressGeneratorStreakAndWidening(t *testing.T) {
	instruments := &fakeInstruments{byType: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentETF: {{ID: "etf-1", Symbol: "XYZ"}},
	}}

	// Newest first: -3.0, -2.2, -1.4 then calm. Three stressed days, each
	// worse than the one before.
	metrics := &fakeMetrics{rows: map[string][]domain.EtfMetric{"etf-1": {
		{AsOfDate: "2026-08-20", PremiumDiscount: f(-3.0)},
		{AsOfDate: "2026-08-19", PremiumDiscount: f(-2.2)},
		{AsOfDate: "2026-08-18", PremiumDiscount: f(-1.4)},
		{AsOfDate: "2026-08-17", PremiumDiscount: f(-0.1)},
	}}}

	gen := signals.NewTrackingStressGenerator(instruments, metrics)
	out, err := gen.Generate(context.Background(), window())
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].Evidence[0]["consecutive"])
	assert.Equal(t, true, out[0].Evidence[0]["widening"])
	assert.Equal(t, 0.8, out[0].Confidence)
}

func TestTrackingStressGeneratorShortStreakIgnored(t *testing.T) {
	instruments := &fakeInstruments{byType: map[domain.InstrumentType][]domain.Instrument{
		domain.InstrumentETF: {{ID: "etf-1", Symbol: "XYZ"}},
	}}
	metrics := &fakeMetrics{rows: map[string][]domain.EtfMetric{"etf-1": {
		{AsOfDate: "2026-08-20", PremiumDiscount: f(-3.0)},
		{AsOfDate: "2026-08-19", PremiumDiscount: f(-2.2)},
		{AsOfDate: "2026-08-18", PremiumDiscount: f(-0.2)},
	}}}

	gen := signals.NewTrackingStressGenerator(instruments, metrics)
	out, err := gen.Generate(context.Background(), window())
	require.NoError(t, err)
	assert.Empty(t, out)
}

type fakeCandles struct {
	closes map[string][]float64
}

func (fc *fakeCandles) FindRange(instrumentID string, interval domain.Interval, source string, from, to int64) ([]domain.Candle, error) {
	var out []domain.Candle
	ms := interval.Millis()
	for i, c := range fc.closes[instrumentID] {
		out = append(out, domain.Candle{
			InstrumentID: instrumentID,
			Interval:     interval,
			StartTime:    from + int64(i)*ms,
			EndTime:      from + int64(i+1)*ms,
			Open:         c, High: c, Low: c, Close: c,
		})
	}
	return out, nil
}

func flatThenDrop(n int, start, end float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start
	}
	out[n-1] = end
	return out
}

func TestPeerMoveGeneratorFlagsUnmovedInstrument(t *testing.T) {
	instruments := &fakeInstruments{
		byType: map[domain.InstrumentType][]domain.Instrument{
			domain.InstrumentEquity: {
				{ID: "inst-a", Symbol: "AAA"},
				{ID: "inst-b", Symbol: "BBB"},
			},
		},
		related: map[string][]domain.Relationship{
			"inst-a": {{InstrumentID: "inst-a", RelatedID: "inst-b", RelType: domain.RelCompetitor, Confidence: 0.7}},
		},
	}
	candles := &fakeCandles{closes: map[string][]float64{
		"inst-a": flatThenDrop(20, 50, 50),  // flat
		"inst-b": flatThenDrop(20, 100, 88), // -12% over the ROC period
	}}

	gen := signals.NewPeerMoveGenerator(instruments, candles, "alphavantage")
	out, err := gen.Generate(context.Background(), window())
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "inst-a", out[0].InstrumentID)
	assert.Equal(t, "inst-b", out[0].Evidence[0]["worst_peer_id"])
}

func TestPeerMoveGeneratorSkipsWhenBothFell(t *testing.T) {
	instruments := &fakeInstruments{
		byType: map[domain.InstrumentType][]domain.Instrument{
			domain.InstrumentEquity: {
				{ID: "inst-a", Symbol: "AAA"},
				{ID: "inst-b", Symbol: "BBB"},
			},
		},
		related: map[string][]domain.Relationship{
			"inst-a": {{InstrumentID: "inst-a", RelatedID: "inst-b", RelType: domain.RelCompetitor, Confidence: 0.7}},
		},
	}
	candles := &fakeCandles{closes: map[string][]float64{
		"inst-a": flatThenDrop(20, 50, 42),  // fell too
		"inst-b": flatThenDrop(20, 100, 88),
	}}

	gen := signals.NewPeerMoveGenerator(instruments, candles, "alphavantage")
	out, err := gen.Generate(context.Background(), window())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPropagationDuplicateGuard(t *testing.T) {
	repo := setupRepo(t)
	now := time.Now().UTC()

	source := &domain.Signal{
		InstrumentID: "inst-a",
		Type:         domain.SignalDilutionRisk,
		Severity:     domain.SeverityHigh,
		Score:        75,
		Confidence:   0.8,
		Reason:       "shelf registration filed",
		Evidence:     []map[string]interface{}{{"type": "FACT_REFERENCE"}},
		ComputedAt:   now.Add(-time.Hour),
		ExpiresAt:    now.Add(90 * 24 * time.Hour),
	}
	require.NoError(t, repo.Upsert(source))

	instruments := &fakeInstruments{related: map[string][]domain.Relationship{
		"inst-a": {{InstrumentID: "inst-a", RelatedID: "inst-b", RelType: domain.RelCompetitor, Confidence: 0.7}},
	}}

	gen := signals.NewPropagationGenerator(repo, instruments)
	runner := signals.NewRunner(repo, []signals.Generator{gen}, signals.RunnerConfig{
		MinConfidence: 0.3,
		SignalTTL:     90 * 24 * time.Hour,
		Lookback:      24 * time.Hour,
	}, zerolog.Nop())

	// First pass creates the peer-impact signal with decayed confidence
	require.NoError(t, runner.RunAll(context.Background()))

	impact, err := repo.Get("inst-b", domain.SignalPeerImpact)
	require.NoError(t, err)
	require.NotNil(t, impact)
	assert.InDelta(t, 0.8*0.7*0.8, impact.Confidence, 1e-9)
	assert.Equal(t, source.ID, impact.Evidence[0]["source_signal_id"])
	firstComputedAt := impact.ComputedAt

	// Second pass over the same source signal must not re-emit
	require.NoError(t, runner.RunAll(context.Background()))

	again, err := repo.Get("inst-b", domain.SignalPeerImpact)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, firstComputedAt, again.ComputedAt)
}
