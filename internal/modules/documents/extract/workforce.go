package extract

import (
	"fmt"

	"github.com/lanternhq/lantern/internal/domain"
)

var workforceKeywords = []string{
	"workforce reduction",
	"reduction in force",
	"layoff",
	"lay off",
	"headcount reduction",
	"restructuring plan",
	"eliminating positions",
}

var workforceNegations = []string{
	"no layoffs",
	"not planning layoffs",
	"avoided layoffs",
	"without layoffs",
}

// WorkforceReduction detects layoff and restructuring announcements
type WorkforceReduction struct{}

func (e *WorkforceReduction) Name() string { return "workforce_reduction" }

func (e *WorkforceReduction) Extract(in Input) *Result {
	hits := findHits(in.Text, workforceKeywords, workforceNegations)
	if len(hits) == 0 {
		return nil
	}

	density := densityPer1000(len(hits), wordCount(in.Text))
	pct := parsePercent(in.Text, hits)
	headcount := parseHeadcount(in.Text, hits)

	var severity domain.Severity
	var score float64
	switch {
	case pct >= 20:
		severity, score = domain.SeverityCritical, 85
	case pct >= 10 || headcount >= 1000:
		severity, score = domain.SeverityHigh, 70
	case pct > 0 || headcount > 0 || len(hits) >= 2:
		severity, score = domain.SeverityMedium, 50
	default:
		severity, score = domain.SeverityLow, 30
	}

	confidence := 0.5
	confidence += density * 0.05
	if pct > 0 {
		confidence += 0.2
	}
	if headcount > 0 {
		confidence += 0.1
	}

	payload := map[string]interface{}{
		"match_count": len(hits),
		"density":     density,
	}
	if pct > 0 {
		payload["percent_reduction"] = pct
	}
	if headcount > 0 {
		payload["headcount"] = headcount
	}

	reason := fmt.Sprintf("Workforce-reduction language: %d mention(s)", len(hits))
	if pct > 0 {
		reason = fmt.Sprintf("%s, %.0f%% of workforce", reason, pct)
	} else if headcount > 0 {
		reason = fmt.Sprintf("%s, ~%d positions", reason, headcount)
	}

	return &Result{
		FactType:   "WORKFORCE_REDUCTION",
		SignalType: domain.SignalWorkforceReduction,
		Payload:    payload,
		Snippets:   snippets(in, hits),
		Severity:   severity,
		Score:      score,
		Confidence: clampConfidence(confidence),
		Density:    density,
		Reason:     reason,
	}
}
