package extract

import (
	"fmt"

	"github.com/lanternhq/lantern/internal/domain"
)

var dilutionKeywords = []string{
	"shelf registration",
	"at-the-market offering",
	"atm program",
	"secondary offering",
	"share dilution",
	"dilutive",
	"warrant exercise",
}

var dilutionNegations = []string{
	"no dilution",
	"anti-dilution",
	"non-dilutive",
	"without dilution",
}

// Dilution detects equity-raise language that dilutes existing holders
type Dilution struct{}

func (e *Dilution) Name() string { return "dilution" }

func (e *Dilution) Extract(in Input) *Result {
	hits := findHits(in.Text, dilutionKeywords, dilutionNegations)
	if len(hits) == 0 {
		return nil
	}

	density := densityPer1000(len(hits), wordCount(in.Text))
	amount := parseDollars(in.Text, hits)
	hasShelf := containsAny(in.Text, "shelf registration")
	hasATM := containsAny(in.Text, "at-the-market", "atm program")

	var severity domain.Severity
	var score float64
	switch {
	case amount >= 500e6 || (hasShelf && hasATM):
		severity, score = domain.SeverityHigh, 75
	case amount >= 50e6 || len(hits) >= 3:
		severity, score = domain.SeverityMedium, 55
	default:
		severity, score = domain.SeverityLow, 35
	}

	confidence := 0.5
	confidence += density * 0.05
	if hasShelf || hasATM {
		confidence += 0.15
	}
	if amount > 0 {
		confidence += 0.15
	}

	payload := map[string]interface{}{
		"match_count": len(hits),
		"density":     density,
		"has_shelf":   hasShelf,
		"has_atm":     hasATM,
	}
	if amount > 0 {
		payload["dollar_amount"] = amount
	}

	reason := fmt.Sprintf("Dilution-risk language: %d mention(s)", len(hits))
	if amount > 0 {
		reason = fmt.Sprintf("%s, up to $%.0f referenced", reason, amount)
	}

	return &Result{
		FactType:   "DILUTION_RISK",
		SignalType: domain.SignalDilutionRisk,
		Payload:    payload,
		Snippets:   snippets(in, hits),
		Severity:   severity,
		Score:      score,
		Confidence: clampConfidence(confidence),
		Density:    density,
		Reason:     reason,
	}
}
