package signals

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/lanternhq/lantern/internal/domain"
)

const (
	peerRocPeriod = 12 // bars

	// Peer decline, in percent over the ROC period, that is worth flagging
	peerRocThreshold = -5.0

	peerCandleInterval = domain.Interval1h
)

// PeerMoveGenerator flags instruments whose competitors just took a
// significant price hit, before the instrument itself has moved
type PeerMoveGenerator struct {
	instruments  InstrumentSource
	candles      CandleSource
	candleSource string
}

func NewPeerMoveGenerator(instruments InstrumentSource, candles CandleSource, candleSource string) *PeerMoveGenerator {
	return &PeerMoveGenerator{instruments: instruments, candles: candles, candleSource: candleSource}
}

func (g *PeerMoveGenerator) Name() string { return "peer_move" }

func (g *PeerMoveGenerator) SignalType() domain.SignalType { return domain.SignalPeerMove }

func (g *PeerMoveGenerator) Generate(ctx context.Context, w Window) ([]domain.Signal, error) {
	population := make([]domain.Instrument, 0)
	for _, instrumentType := range []domain.InstrumentType{domain.InstrumentEquity, domain.InstrumentETF} {
		batch, err := g.instruments.ListActiveByType(instrumentType)
		if err != nil {
			return nil, err
		}
		population = append(population, batch...)
	}

	from := w.Now.Add(-w.Lookback).UnixMilli()
	to := w.Now.UnixMilli()

	// ROC per instrument, computed once and shared across peer lookups
	rocByID := make(map[string]float64)
	for _, inst := range population {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		roc, ok, err := g.latestRoc(inst.ID, from, to)
		if err != nil {
			return nil, fmt.Errorf("candles for %s: %w", inst.Symbol, err)
		}
		if ok {
			rocByID[inst.ID] = roc
		}
	}

	var out []domain.Signal
	for _, inst := range population {
		rels, err := g.instruments.GetRelated(inst.ID, domain.RelCompetitor)
		if err != nil {
			return nil, err
		}

		worstRoc := 0.0
		var worstPeer string
		moved := 0
		for _, rel := range rels {
			roc, ok := rocByID[rel.RelatedID]
			if !ok || roc > peerRocThreshold {
				continue
			}
			moved++
			if roc < worstRoc {
				worstRoc = roc
				worstPeer = rel.RelatedID
			}
		}
		if moved == 0 {
			continue
		}

		// The instrument itself already fell with its peers: nothing to warn
		// about
		if own, ok := rocByID[inst.ID]; ok && own <= peerRocThreshold {
			continue
		}

		score := math.Min(45+math.Abs(worstRoc)*3, 90)
		confidence := math.Min(0.55+0.1*float64(moved), 0.85)

		out = append(out, domain.Signal{
			InstrumentID: inst.ID,
			Score:        score,
			Confidence:   confidence,
			Reason: fmt.Sprintf("%d competitor(s) of %s dropped sharply (worst %.1f%% over %d bars)",
				moved, inst.Symbol, worstRoc, peerRocPeriod),
			Evidence: []map[string]interface{}{{
				"type":            "PEER_PRICE_MOVEMENT",
				"peers_moved":     moved,
				"worst_roc_pct":   round2(worstRoc),
				"worst_peer_id":   worstPeer,
				"roc_period_bars": peerRocPeriod,
				"interval":        string(peerCandleInterval),
			}},
		})
	}
	return out, nil
}

// latestRoc computes the most recent rate-of-change over the instrument's
// hourly closes. ok is false when there is not enough history.
func (g *PeerMoveGenerator) latestRoc(instrumentID string, from, to int64) (float64, bool, error) {
	bars, err := g.candles.FindRange(instrumentID, peerCandleInterval, g.candleSource, from, to)
	if err != nil {
		return 0, false, err
	}
	if len(bars) <= peerRocPeriod {
		return 0, false, nil
	}

	closes := make([]float64, len(bars))
	for i, c := range bars {
		closes[i] = c.Close
	}

	roc := talib.Roc(closes, peerRocPeriod)
	return roc[len(roc)-1], true, nil
}
