package extract

import (
	"fmt"

	"github.com/lanternhq/lantern/internal/domain"
)

var goingConcernKeywords = []string{
	"going concern",
	"substantial doubt",
	"ability to continue as a going concern",
	"may not be able to continue",
}

var goingConcernNegations = []string{
	"no substantial doubt",
	"not raise substantial doubt",
	"alleviated",
	"adequate liquidity",
	"sufficient liquidity",
	"sufficient cash",
}

// GoingConcern detects going-concern doubt language in filings and
// transcripts
type GoingConcern struct{}

func (e *GoingConcern) Name() string { return "going_concern" }

func (e *GoingConcern) Extract(in Input) *Result {
	hits := findHits(in.Text, goingConcernKeywords, goingConcernNegations)
	if len(hits) == 0 {
		return nil
	}

	density := densityPer1000(len(hits), wordCount(in.Text))
	runwayMonths := parseMonths(in.Text, hits)
	strongDoubt := containsAny(in.Text, "substantial doubt")

	// Severity ladder: explicit doubt language outranks repetition
	var severity domain.Severity
	var score float64
	switch {
	case strongDoubt && (runwayMonths > 0 && runwayMonths <= 12):
		severity, score = domain.SeverityCritical, 92
	case strongDoubt:
		severity, score = domain.SeverityCritical, 85
	case len(hits) >= 3:
		severity, score = domain.SeverityHigh, 70
	default:
		severity, score = domain.SeverityMedium, 50
	}

	confidence := 0.55
	confidence += density * 0.05
	if strongDoubt {
		confidence += 0.25
	}
	if runwayMonths > 0 {
		confidence += 0.1
	}

	payload := map[string]interface{}{
		"match_count": len(hits),
		"density":     density,
	}
	if runwayMonths > 0 {
		payload["runway_months"] = runwayMonths
	}

	reason := fmt.Sprintf("Going-concern language: %d mention(s)", len(hits))
	if runwayMonths > 0 {
		reason = fmt.Sprintf("%s, ~%d months runway cited", reason, runwayMonths)
	}

	return &Result{
		FactType:   "GOING_CONCERN",
		SignalType: domain.SignalGoingConcern,
		Payload:    payload,
		Snippets:   snippets(in, hits),
		Severity:   severity,
		Score:      score,
		Confidence: clampConfidence(confidence),
		Density:    density,
		Reason:     reason,
	}
}
