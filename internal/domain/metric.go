package domain

// EtfMetric is one day of ETF health metrics from one source.
// (InstrumentID, AsOfDate, SourceType) is upsert-unique. Numeric fields are
// pointers: absent upstream values stay absent, never zero.
type EtfMetric struct {
	ID              string
	InstrumentID    string
	AsOfDate        string // YYYY-MM-DD
	SourceType      string
	NAV             *float64
	PremiumDiscount *float64
	FlowUnits       *float64
	APConcentration *float64
}

// EtfApDetail is one authorized participant's creation-unit activity for an
// ETF on one day
type EtfApDetail struct {
	ID            string
	InstrumentID  string
	AsOfDate      string
	APName        string
	CreationUnits float64
}
