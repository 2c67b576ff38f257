// Package extract implements deterministic keyword-pattern fact extractors.
// Every extractor is a pure function over cleaned text plus parsed sections:
// scan a curated keyword list, drop negated hits, grade severity by a rule
// ladder, and emit evidence snippets.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lanternhq/lantern/internal/domain"
)

const (
	negationWindow = 100 // chars inspected either side of a hit
	snippetRadius  = 75
	maxSnippets    = 3
	maxConfidence  = 0.95
)

// Input is the extraction context for one document
type Input struct {
	Text     string
	Sections map[string]string
	DocType  domain.DocumentType
	QAOffset int // Offset where the Q&A session starts, -1 when absent
}

// Result is one extracted fact with its signal grading
type Result struct {
	FactType   string
	SignalType domain.SignalType
	Payload    map[string]interface{}
	Snippets   []domain.Snippet
	Severity   domain.Severity
	Score      float64 // [0,100]
	Confidence float64 // [0,1], capped at 0.95
	Density    float64 // Keyword matches per 1000 words
	Reason     string
}

// Extractor scans a document for one fact family
type Extractor interface {
	Name() string
	Extract(in Input) *Result
}

// All returns the full extractor set in evaluation order
func All() []Extractor {
	return []Extractor{
		&GoingConcern{},
		&Dilution{},
		&WorkforceReduction{},
		&ToxicFinancing{},
	}
}

// findHits returns the offsets of non-negated keyword occurrences,
// case-insensitive. A hit is negated when any negation phrase appears within
// the window around it ("no substantial doubt", "adequate liquidity").
func findHits(text string, keywords, negations []string) []int {
	lower := strings.ToLower(text)
	var hits []int
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		from := 0
		for {
			idx := strings.Index(lower[from:], kw)
			if idx < 0 {
				break
			}
			offset := from + idx
			if !negated(lower, offset, len(kw), negations) {
				hits = append(hits, offset)
			}
			from = offset + len(kw)
		}
	}
	return hits
}

func negated(lower string, offset, matchLen int, negations []string) bool {
	start := offset - negationWindow
	if start < 0 {
		start = 0
	}
	end := offset + matchLen + negationWindow
	if end > len(lower) {
		end = len(lower)
	}
	window := lower[start:end]
	for _, neg := range negations {
		if strings.Contains(window, strings.ToLower(neg)) {
			return true
		}
	}
	return false
}

// densityPer1000 computes keyword matches per 1000 words
func densityPer1000(hits, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	return float64(hits) * 1000 / float64(wordCount)
}

// clampConfidence caps confidence at 0.95: keyword extraction is never
// certain
func clampConfidence(c float64) float64 {
	if c > maxConfidence {
		return maxConfidence
	}
	if c < 0 {
		return 0
	}
	return c
}

// speakerRe matches transcript speaker labels like "Jane Doe:" at a line
// position (after cleaning, lines are joined, so look for Name Name --/:)
var speakerRe = regexp.MustCompile(`([A-Z][a-z]+(?: [A-Z][a-z]+){1,2})\s*(?::|--)`)

// snippets builds evidence windows for the first maxSnippets hits, tagged
// with the section (prepared remarks vs Q&A by offset) and the nearest
// preceding speaker label.
func snippets(in Input, hits []int) []domain.Snippet {
	out := make([]domain.Snippet, 0, maxSnippets)
	for i, offset := range hits {
		if i >= maxSnippets {
			break
		}
		start := offset - snippetRadius
		if start < 0 {
			start = 0
		}
		end := offset + snippetRadius
		if end > len(in.Text) {
			end = len(in.Text)
		}

		s := domain.Snippet{
			Text:    strings.TrimSpace(in.Text[start:end]),
			Section: sectionAt(in, offset),
			Offset:  offset,
		}
		if in.DocType == domain.DocTranscript {
			s.Speaker = nearestSpeaker(in.Text, offset)
		}
		out = append(out, s)
	}
	return out
}

func sectionAt(in Input, offset int) string {
	if in.DocType != domain.DocTranscript || in.QAOffset < 0 {
		return "body"
	}
	if offset >= in.QAOffset {
		return "qa"
	}
	return "prepared_remarks"
}

// nearestSpeaker finds the last speaker label before offset
func nearestSpeaker(text string, offset int) string {
	searchFrom := offset - 2000
	if searchFrom < 0 {
		searchFrom = 0
	}
	matches := speakerRe.FindAllStringSubmatchIndex(text[searchFrom:offset], -1)
	if len(matches) == 0 {
		return ""
	}
	last := matches[len(matches)-1]
	return text[searchFrom+last[2] : searchFrom+last[3]]
}

// Targeted numeric regexes. Each captures the magnitude adjacent to a
// keyword hit.
var (
	dollarRe = regexp.MustCompile(`\$\s?([\d,]+(?:\.\d+)?)\s*(billion|million|thousand)?`)
	pctRe    = regexp.MustCompile(`([\d]+(?:\.\d+)?)\s?%`)
	countRe  = regexp.MustCompile(`([\d,]+)\s+(?:employees|positions|jobs|workers|roles)`)
	monthsRe = regexp.MustCompile(`([\d]+)\s+months`)
)

// parseDollars returns the largest dollar amount near any hit, 0 when none
func parseDollars(text string, hits []int) float64 {
	var best float64
	for _, window := range hitWindows(text, hits, 200) {
		for _, m := range dollarRe.FindAllStringSubmatch(window, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err != nil {
				continue
			}
			switch m[2] {
			case "billion":
				v *= 1e9
			case "million":
				v *= 1e6
			case "thousand":
				v *= 1e3
			}
			if v > best {
				best = v
			}
		}
	}
	return best
}

// parsePercent returns the largest percentage near any hit, 0 when none
func parsePercent(text string, hits []int) float64 {
	var best float64
	for _, window := range hitWindows(text, hits, 200) {
		for _, m := range pctRe.FindAllStringSubmatch(window, -1) {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > best && v <= 100 {
				best = v
			}
		}
	}
	return best
}

// parseHeadcount returns the largest employee count near any hit, 0 when none
func parseHeadcount(text string, hits []int) int {
	var best int
	for _, window := range hitWindows(text, hits, 200) {
		for _, m := range countRe.FindAllStringSubmatch(window, -1) {
			if v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil && v > best {
				best = v
			}
		}
	}
	return best
}

// parseMonths returns the smallest month count near any hit, 0 when none.
// Smallest because runway statements bound from below.
func parseMonths(text string, hits []int) int {
	best := 0
	for _, window := range hitWindows(text, hits, 200) {
		for _, m := range monthsRe.FindAllStringSubmatch(window, -1) {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 && (best == 0 || v < best) {
				best = v
			}
		}
	}
	return best
}

func hitWindows(text string, hits []int, radius int) []string {
	windows := make([]string, 0, len(hits))
	for _, offset := range hits {
		start := offset - radius
		if start < 0 {
			start = 0
		}
		end := offset + radius
		if end > len(text) {
			end = len(text)
		}
		windows = append(windows, text[start:end])
	}
	return windows
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func containsAny(text string, phrases ...string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
