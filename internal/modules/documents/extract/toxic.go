package extract

import (
	"fmt"

	"github.com/lanternhq/lantern/internal/domain"
)

var toxicKeywords = []string{
	"convertible note",
	"convertible debenture",
	"variable rate convertible",
	"discount to vwap",
	"floorless convertible",
	"death spiral",
	"warrant coverage",
}

var toxicNegations = []string{
	"redeemed the convertible",
	"repaid the convertible",
	"retired the convertible",
}

// ToxicFinancing detects dilutive convertible-debt structures whose
// conversion price floats against the market
type ToxicFinancing struct{}

func (e *ToxicFinancing) Name() string { return "toxic_financing" }

func (e *ToxicFinancing) Extract(in Input) *Result {
	hits := findHits(in.Text, toxicKeywords, toxicNegations)
	if len(hits) == 0 {
		return nil
	}

	density := densityPer1000(len(hits), wordCount(in.Text))
	amount := parseDollars(in.Text, hits)
	discount := parsePercent(in.Text, hits)
	floating := containsAny(in.Text, "discount to vwap", "variable rate", "floorless", "death spiral")

	var severity domain.Severity
	var score float64
	switch {
	case floating && discount >= 15:
		severity, score = domain.SeverityCritical, 88
	case floating:
		severity, score = domain.SeverityHigh, 72
	case len(hits) >= 3:
		severity, score = domain.SeverityMedium, 55
	default:
		severity, score = domain.SeverityLow, 35
	}

	confidence := 0.5
	confidence += density * 0.05
	if floating {
		confidence += 0.25
	}
	if amount > 0 {
		confidence += 0.1
	}

	payload := map[string]interface{}{
		"match_count":    len(hits),
		"density":        density,
		"floating_price": floating,
	}
	if amount > 0 {
		payload["dollar_amount"] = amount
	}
	if discount > 0 {
		payload["discount_percent"] = discount
	}

	reason := fmt.Sprintf("Toxic-financing structure language: %d mention(s)", len(hits))
	if discount > 0 {
		reason = fmt.Sprintf("%s, %.0f%% conversion discount", reason, discount)
	}

	return &Result{
		FactType:   "TOXIC_FINANCING",
		SignalType: domain.SignalToxicFinancing,
		Payload:    payload,
		Snippets:   snippets(in, hits),
		Severity:   severity,
		Score:      score,
		Confidence: clampConfidence(confidence),
		Density:    density,
		Reason:     reason,
	}
}
