package signals

import (
	"context"
	"fmt"

	"github.com/lanternhq/lantern/internal/domain"
)

// propagationDecay discounts confidence on each hop from source to peer
const propagationDecay = 0.8

// propagatableTypes are the base signal types worth warning competitors
// about
var propagatableTypes = []domain.SignalType{
	domain.SignalDilutionRisk,
	domain.SignalToxicFinancing,
	domain.SignalDistress,
	domain.SignalGoingConcern,
}

// PropagationGenerator spreads fresh distress-class signals to the source
// instrument's competitors as PEER_IMPACT signals. An existing PEER_IMPACT
// whose evidence already references the source signal suppresses re-emission.
type PropagationGenerator struct {
	repo        *Repository
	instruments InstrumentSource
}

func NewPropagationGenerator(repo *Repository, instruments InstrumentSource) *PropagationGenerator {
	return &PropagationGenerator{repo: repo, instruments: instruments}
}

func (g *PropagationGenerator) Name() string { return "peer_impact_propagation" }

func (g *PropagationGenerator) SignalType() domain.SignalType { return domain.SignalPeerImpact }

func (g *PropagationGenerator) Generate(ctx context.Context, w Window) ([]domain.Signal, error) {
	cutoff := w.Now.Add(-w.Lookback)
	sources, err := g.repo.RecentByTypes(propagatableTypes, cutoff, w.Now)
	if err != nil {
		return nil, err
	}

	var out []domain.Signal
	for _, src := range sources {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rels, err := g.instruments.GetRelated(src.InstrumentID, domain.RelCompetitor)
		if err != nil {
			return nil, err
		}

		for _, rel := range rels {
			duplicate, err := g.alreadyPropagated(rel.RelatedID, src.ID)
			if err != nil {
				return nil, err
			}
			if duplicate {
				continue
			}

			confidence := propagationDecay * rel.Confidence * src.Confidence
			out = append(out, domain.Signal{
				InstrumentID: rel.RelatedID,
				Score:        src.Score * propagationDecay,
				Confidence:   confidence,
				Reason: fmt.Sprintf("Competitor carries an active %s signal: %s",
					src.Type, src.Reason),
				Evidence: []map[string]interface{}{{
					"type":                 "PROPAGATED_SIGNAL",
					"source_signal_id":     src.ID,
					"source_instrument_id": src.InstrumentID,
					"source_signal_type":   string(src.Type),
					"relationship":         rel.RelType,
					"decay":                propagationDecay,
				}},
			})
		}
	}
	return out, nil
}

// alreadyPropagated checks whether the target's PEER_IMPACT signal, if any,
// was derived from the same source signal
func (g *PropagationGenerator) alreadyPropagated(targetID, sourceSignalID string) (bool, error) {
	existing, err := g.repo.Get(targetID, domain.SignalPeerImpact)
	if err != nil || existing == nil {
		return false, err
	}
	for _, ev := range existing.Evidence {
		if id, ok := ev["source_signal_id"].(string); ok && id == sourceSignalID {
			return true, nil
		}
	}
	return false, nil
}
