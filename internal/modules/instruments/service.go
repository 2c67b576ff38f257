package instruments

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/domain"
)

// stopList holds ticker-shaped words too common to count as symbol mentions
// during keyword matching
var stopList = map[string]struct{}{
	"A": {}, "I": {}, "AN": {}, "AT": {}, "BE": {}, "BY": {}, "DO": {}, "GO": {},
	"IT": {}, "ON": {}, "OR": {}, "SO": {}, "UP": {}, "US": {}, "AI": {},
	"ALL": {}, "ARE": {}, "CAN": {}, "CEO": {}, "CFO": {}, "ETF": {}, "FOR": {},
	"HAS": {}, "IPO": {}, "NEW": {}, "NOW": {}, "ONE": {}, "OUT": {}, "SEC": {},
	"SEE": {}, "TWO": {}, "USA": {}, "WAS": {}, "WHO": {}, "YOU": {},
	"GAAP": {}, "NYSE": {}, "REAL": {}, "NEXT": {}, "OPEN": {}, "PLAY": {},
}

var tokenRe = regexp.MustCompile(`[A-Z]{1,6}`)

const (
	relevanceExact   = 1.0
	relevanceCIK     = 1.0
	relevanceKeyword = 0.6
)

// Match associates a document with an instrument before the link row exists
type Match struct {
	InstrumentID string
	Relevance    float64
	Method       domain.MatchMethod
}

// Service implements placeholder creation and document-to-instrument matching
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates the instrument service
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "instrument_service").Logger(),
	}
}

// Ensure returns the instrument for a symbol, creating a minimal placeholder
// when none exists. Lookup order: CIK identifier first (survives symbol
// changes), then exact symbol.
func (s *Service) Ensure(symbol string, instType domain.InstrumentType, identifiers map[domain.IdentifierType]string) (*domain.Instrument, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if cik, ok := identifiers[domain.IdentifierCIK]; ok && cik != "" {
		inst, err := s.repo.GetByIdentifier(domain.IdentifierCIK, cik)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			return inst, nil
		}
	}

	if symbol != "" {
		inst, err := s.repo.GetBySymbol(symbol)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			// Backfill identifiers the existing row is missing
			for idType, value := range identifiers {
				if _, has := inst.Identifiers[idType]; !has && value != "" {
					if err := s.repo.UpsertIdentifier(inst.ID, idType, value); err != nil {
						return nil, err
					}
					inst.Identifiers[idType] = value
				}
			}
			return inst, nil
		}
	}

	if symbol == "" && len(identifiers) == 0 {
		return nil, fmt.Errorf("cannot create placeholder without symbol or identifiers")
	}

	inst := &domain.Instrument{
		Type:        instType,
		Symbol:      symbol,
		Status:      domain.InstrumentActive,
		Identifiers: identifiers,
	}
	if err := s.repo.Create(inst); err != nil {
		return nil, fmt.Errorf("failed to create placeholder instrument: %w", err)
	}
	s.log.Info().Str("symbol", symbol).Str("type", string(instType)).Msg("Created placeholder instrument")
	return inst, nil
}

// ListActiveSymbols exposes the symbol -> instrument id map for pollers
func (s *Service) ListActiveSymbols() (map[string]string, error) {
	return s.repo.ListActiveSymbols()
}

// MatchDocument finds the instruments a document refers to. Related tickers
// and CIKs match exactly; otherwise the title and summary are scanned for
// symbol-shaped tokens, excluding the stop list.
func (s *Service) MatchDocument(title, summary, cik string, relatedTickers []string) ([]Match, error) {
	best := make(map[string]Match)
	record := func(m Match) {
		if prev, ok := best[m.InstrumentID]; !ok || m.Relevance > prev.Relevance {
			best[m.InstrumentID] = m
		}
	}

	if cik != "" {
		inst, err := s.repo.GetByIdentifier(domain.IdentifierCIK, cik)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			record(Match{InstrumentID: inst.ID, Relevance: relevanceCIK, Method: domain.MatchCIK})
		}
	}

	symbols, err := s.repo.ListActiveSymbols()
	if err != nil {
		return nil, err
	}

	for _, ticker := range relatedTickers {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if id, ok := symbols[ticker]; ok {
			record(Match{InstrumentID: id, Relevance: relevanceExact, Method: domain.MatchExactSymbol})
		}
	}

	for _, token := range tokenRe.FindAllString(strings.ToUpper(title+" "+summary), -1) {
		if _, stopped := stopList[token]; stopped {
			continue
		}
		if len(token) < 2 {
			continue
		}
		if id, ok := symbols[token]; ok {
			record(Match{InstrumentID: id, Relevance: relevanceKeyword, Method: domain.MatchKeyword})
		}
	}

	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	return out, nil
}
