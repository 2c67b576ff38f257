// Package domain holds the core entity types shared across modules.
// Types here are pure data: no infrastructure dependencies.
package domain

import "time"

// InstrumentType classifies tradable entities
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQUITY"
	InstrumentETF    InstrumentType = "ETF"
	InstrumentOption InstrumentType = "OPTION"
)

// InstrumentStatus is the lifecycle state of an instrument.
// Instruments are soft-deactivated, never deleted.
type InstrumentStatus string

const (
	InstrumentActive   InstrumentStatus = "ACTIVE"
	InstrumentInactive InstrumentStatus = "INACTIVE"
)

// IdentifierType enumerates issuer identifier namespaces.
// Each type is unique per instrument.
type IdentifierType string

const (
	IdentifierCIK    IdentifierType = "CIK"
	IdentifierCUSIP  IdentifierType = "CUSIP"
	IdentifierISIN   IdentifierType = "ISIN"
	IdentifierFIGI   IdentifierType = "FIGI"
	IdentifierTicker IdentifierType = "TICKER"
)

// Instrument is a tradable entity (equity, ETF, option)
type Instrument struct {
	ID          string
	Type        InstrumentType
	Symbol      string
	Exchange    string
	Name        string
	Status      InstrumentStatus
	Identifiers map[IdentifierType]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Relationship links two instruments (competitor/peer graph)
type Relationship struct {
	InstrumentID string
	RelatedID    string
	RelType      string // COMPETITOR, PEER
	Confidence   float64
}

const RelCompetitor = "COMPETITOR"
