package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/txprep"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// marketView is the wire shape of a market
type marketView struct {
	ConditionID string            `json:"condition_id"`
	Question    string            `json:"question"`
	Outcomes    []string          `json:"outcomes"`
	TokenIDs    map[string]string `json:"token_ids"`
	Expiry      *time.Time        `json:"expiry,omitempty"`
	YesPrice    *string           `json:"yes_price,omitempty"`
	NoPrice     *string           `json:"no_price,omitempty"`
	Liquidity   *string           `json:"liquidity,omitempty"`
	Volume      *string           `json:"volume,omitempty"`
	Active      bool              `json:"active"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toMarketView(m *domain.Market) marketView {
	return marketView{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Outcomes:    m.Outcomes,
		TokenIDs:    m.TokenIDs,
		Expiry:      m.Expiry,
		YesPrice:    m.YesPrice,
		NoPrice:     m.NoPrice,
		Liquidity:   m.Liquidity,
		Volume:      m.Volume,
		Active:      m.Active,
		UpdatedAt:   m.UpdatedAt,
	}
}

// handleListMarkets serves GET /api/v1/markets?active&limit&offset
func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var (
		markets []domain.Market
		err     error
	)
	if activeOnly {
		markets, err = s.cfg.Markets.ListActive()
	} else {
		markets, err = s.cfg.Markets.ListAll()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list markets")
		s.writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total := len(markets)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	views := make([]marketView, 0, end-offset)
	for i := offset; i < end; i++ {
		views = append(views, toMarketView(&markets[i]))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"markets": views,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleGetMarket serves GET /api/v1/markets/{conditionID}
func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	conditionID := chi.URLParam(r, "conditionID")

	if cached, ok := s.marketCache.Get(conditionID); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	market, err := s.cfg.Markets.GetByConditionID(conditionID)
	if err != nil {
		s.log.Error().Err(err).Str("condition_id", conditionID).Msg("Failed to load market")
		s.writeError(w, http.StatusInternalServerError, "failed to load market")
		return
	}
	if market == nil {
		s.writeError(w, http.StatusNotFound, "market not found")
		return
	}

	view := toMarketView(market)
	s.marketCache.SetDefault(conditionID, view)
	s.writeJSON(w, http.StatusOK, view)
}

// handleGetOrderbook serves GET /api/v1/markets/{conditionID}/orderbook?outcome=YES
func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	conditionID := chi.URLParam(r, "conditionID")
	outcome := canonicalOutcome(r.URL.Query().Get("outcome"))

	cacheKey := conditionID + ":" + outcome
	if cached, ok := s.orderbookCache.Get(cacheKey); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	snap, err := s.cfg.Books.GetSnapshot(conditionID, outcome)
	if err != nil {
		s.log.Error().Err(err).Str("condition_id", conditionID).Msg("Failed to load snapshot")
		s.writeError(w, http.StatusInternalServerError, "failed to load orderbook")
		return
	}
	if snap == nil {
		s.writeError(w, http.StatusNotFound, "no orderbook snapshot for market")
		return
	}

	s.orderbookCache.SetDefault(cacheKey, snap)
	s.writeJSON(w, http.StatusOK, snap)
}

// handleGetCandles serves GET /api/v1/markets/{conditionID}/candles
func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	conditionID := chi.URLParam(r, "conditionID")
	outcome := canonicalOutcome(r.URL.Query().Get("outcome"))

	interval, err := domain.ParseInterval(defaultStr(r.URL.Query().Get("interval"), "1m"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC().UnixMilli()
	from := queryInt64(r, "from", now-60*60*1000)
	to := queryInt64(r, "to", now)
	limit := queryInt(r, "limit", 0)
	if to < from {
		s.writeError(w, http.StatusBadRequest, "to must not precede from")
		return
	}

	bars, err := s.cfg.Candles.MarketCandles(conditionID, outcome, interval, from, to, limit)
	if err != nil {
		s.log.Error().Err(err).Str("condition_id", conditionID).Msg("Failed to aggregate candles")
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate candles")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"condition_id": conditionID,
		"outcome":      outcome,
		"interval":     string(interval),
		"candles":      bars,
	})
}

// handleAuthNonce serves GET /api/v1/auth/nonce?wallet=0x…
func (s *Server) handleAuthNonce(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")

	nonce, err := s.cfg.Nonces.Issue(wallet)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"nonce":     nonce,
		"timestamp": now.UnixMilli(),
		"message":   "Sign this nonce to authenticate: " + nonce,
	})
}

// handleGetPositions serves GET /api/v1/positions/{wallet} (protected)
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if !auth.ValidWallet(wallet) {
		s.writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	positions, err := s.cfg.Positions.Positions(r.Context(), wallet)
	if err != nil {
		s.log.Error().Err(err).Str("wallet", wallet).Msg("Failed to load positions")
		s.writeError(w, http.StatusBadGateway, "failed to load positions")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"wallet":    wallet,
		"positions": positions,
	})
}

// handlePrepareTrade serves POST /api/v1/trades/prepare (protected)
func (s *Server) handlePrepareTrade(w http.ResponseWriter, r *http.Request) {
	var req txprep.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	tx, err := s.cfg.Encoder.Prepare(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, tx)
}

// requireSignature authenticates protected routes: the caller presents the
// wallet, the nonce previously issued to it, and a signature over that
// nonce. Consuming the nonce makes replay impossible.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.Header.Get("X-Wallet")
		nonce := r.Header.Get("X-Nonce")
		signature := r.Header.Get("X-Signature")

		if wallet == "" || nonce == "" || signature == "" {
			s.writeError(w, http.StatusUnauthorized, "missing authentication headers")
			return
		}

		if s.cfg.Verifier != nil {
			ok, err := s.cfg.Verifier.Verify(wallet, nonce, signature)
			if err != nil {
				s.log.Error().Err(err).Msg("Signature verification failed")
				s.writeError(w, http.StatusInternalServerError, "verification failed")
				return
			}
			if !ok {
				s.writeError(w, http.StatusUnauthorized, "invalid signature")
				return
			}
		}

		if err := s.cfg.Nonces.Consume(wallet, nonce); err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func canonicalOutcome(s string) string {
	if s == "" {
		return domain.OutcomeYes
	}
	return strings.ToUpper(s)
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
