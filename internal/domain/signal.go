package domain

import "time"

// Severity grades a signal
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SignalType enumerates the signal taxonomy
type SignalType string

const (
	SignalGoingConcern       SignalType = "GOING_CONCERN"
	SignalDilutionRisk       SignalType = "DILUTION_RISK"
	SignalToxicFinancing     SignalType = "TOXIC_FINANCING"
	SignalWorkforceReduction SignalType = "WORKFORCE_REDUCTION"
	SignalDistress           SignalType = "DISTRESS"
	SignalAPConcentration    SignalType = "AP_CONCENTRATION"
	SignalFlowShock          SignalType = "FLOW_SHOCK"
	SignalTrackingStress     SignalType = "TRACKING_STRESS"
	SignalPeerMove           SignalType = "PEER_PRICE_MOVE"
	SignalPeerImpact         SignalType = "PEER_IMPACT"
)

// Signal is a typed, scored, time-bounded assertion about an instrument's
// risk state. (instrument, type) is upsert-unique.
type Signal struct {
	ID           string
	InstrumentID string
	Type         SignalType
	Severity     Severity
	Score        float64 // [0,100]
	Confidence   float64 // [0,1]
	Reason       string
	Evidence     []map[string]interface{} // Typed evidence objects / fact references
	ComputedAt   time.Time
	ExpiresAt    time.Time
}

// SeverityForScore derives severity from score and confidence
func SeverityForScore(score, confidence float64) Severity {
	switch {
	case score >= 85 && confidence >= 0.75:
		return SeverityCritical
	case score >= 65:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
