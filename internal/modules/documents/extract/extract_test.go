package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/domain"
)

func input(text string) Input {
	return Input{Text: text, DocType: domain.DocSECFiling, QAOffset: -1}
}

func TestGoingConcernDetectsDoubt(t *testing.T) {
	text := strings.Repeat("filler word soup ", 50) +
		"Management has concluded there is substantial doubt about the Company's " +
		"ability to continue as a going concern, with approximately 9 months of cash remaining. " +
		strings.Repeat("more filler ", 50)

	res := (&GoingConcern{}).Extract(input(text))
	require.NotNil(t, res)
	assert.Equal(t, "GOING_CONCERN", res.FactType)
	assert.Equal(t, domain.SeverityCritical, res.Severity)
	assert.Equal(t, 9, res.Payload["runway_months"])
	assert.LessOrEqual(t, res.Confidence, 0.95)
	assert.NotEmpty(t, res.Snippets)
	assert.Equal(t, "body", res.Snippets[0].Section)
}

func TestGoingConcernNegationWindowSuppresses(t *testing.T) {
	text := "The Company maintains adequate liquidity and its going concern " +
		"assessment raised no issues this quarter."

	res := (&GoingConcern{}).Extract(input(text))
	assert.Nil(t, res) // "adequate liquidity" inside the ±100 char window
}

func TestGoingConcernNegationIsLocal(t *testing.T) {
	filler := strings.Repeat("x ", 120) // pushes the negation outside the window
	text := "There is substantial doubt about future operations. " + filler +
		" Separately, the subsidiary reported adequate liquidity."

	res := (&GoingConcern{}).Extract(input(text))
	require.NotNil(t, res) // negation too far away to suppress
}

func TestDilutionParsesDollarAmount(t *testing.T) {
	text := "The Company filed a shelf registration statement covering up to " +
		"$750 million of securities, alongside an at-the-market offering program."

	res := (&Dilution{}).Extract(input(text))
	require.NotNil(t, res)
	assert.Equal(t, domain.SeverityHigh, res.Severity)
	assert.Equal(t, 750e6, res.Payload["dollar_amount"])
}

func TestWorkforceSeverityLadder(t *testing.T) {
	critical := "announced a workforce reduction affecting 25% of its employees"
	res := (&WorkforceReduction{}).Extract(input(critical))
	require.NotNil(t, res)
	assert.Equal(t, domain.SeverityCritical, res.Severity)

	moderate := "a restructuring plan eliminating positions impacting 300 employees"
	res = (&WorkforceReduction{}).Extract(input(moderate))
	require.NotNil(t, res)
	assert.Equal(t, domain.SeverityMedium, res.Severity)
	assert.Equal(t, 300, res.Payload["headcount"])
}

func TestToxicFinancingFloatingPrice(t *testing.T) {
	text := "issued a convertible note with conversion at a 20% discount to VWAP"

	res := (&ToxicFinancing{}).Extract(input(text))
	require.NotNil(t, res)
	assert.Equal(t, domain.SeverityCritical, res.Severity)
	assert.Equal(t, true, res.Payload["floating_price"])
}

func TestNoHitsReturnsNil(t *testing.T) {
	text := "The company reported strong quarterly earnings and raised guidance."
	for _, ex := range All() {
		assert.Nil(t, ex.Extract(input(text)), ex.Name())
	}
}

func TestSnippetsTagTranscriptSections(t *testing.T) {
	prepared := "Jane Doe: Thank you all for joining. We announced a workforce reduction today. "
	qaText := "Question-and-Answer Session. John Smith: Regarding the layoff, what is the timeline?"
	text := prepared + qaText

	in := Input{
		Text:     text,
		DocType:  domain.DocTranscript,
		QAOffset: len(prepared),
	}
	res := (&WorkforceReduction{}).Extract(in)
	require.NotNil(t, res)
	require.GreaterOrEqual(t, len(res.Snippets), 2)

	assert.Equal(t, "prepared_remarks", res.Snippets[0].Section)
	assert.Equal(t, "Jane Doe", res.Snippets[0].Speaker)
	assert.Equal(t, "qa", res.Snippets[1].Section)
	assert.Equal(t, "John Smith", res.Snippets[1].Speaker)
}
