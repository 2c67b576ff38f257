package domain

import "time"

// Outcome is a prediction-market side. Labels are canonicalized to upper case
// at adapter boundaries.
type Outcome = string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Market is a prediction market identified by its condition id.
// The outcome -> token id map is immutable once set.
type Market struct {
	ConditionID      string
	Question         string
	Outcomes         []string          // Ordered outcome labels
	TokenIDs         map[string]string // outcome -> CLOB token id
	Expiry           *time.Time
	YesPrice         *string // Cached last prices kept as decimal strings
	NoPrice          *string
	Liquidity        *string
	Volume           *string
	Active           bool
	LastIndexedBlock *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TokenID returns the CLOB token id for an outcome, empty when unknown
func (m *Market) TokenID(outcome string) string {
	if m.TokenIDs == nil {
		return ""
	}
	return m.TokenIDs[outcome]
}
