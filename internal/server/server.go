// Package server provides the HTTP and WebSocket API for the terminal
// front-end.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/clients/clob"
	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/events"
	"github.com/lanternhq/lantern/internal/modules/candles"
	"github.com/lanternhq/lantern/internal/modules/signals"
	"github.com/lanternhq/lantern/internal/txprep"
)

// MarketReader serves the catalog routes
type MarketReader interface {
	GetByConditionID(conditionID string) (*domain.Market, error)
	ListActive() ([]domain.Market, error)
	ListAll() ([]domain.Market, error)
}

// SnapshotReader serves the depth route
type SnapshotReader interface {
	GetSnapshot(conditionID, outcome string) (*domain.OrderbookSnapshot, error)
}

// CandleReader serves the candle route
type CandleReader interface {
	MarketCandles(conditionID, outcome string, interval domain.Interval, from, to int64, limit int) ([]domain.Candle, error)
}

// SignalReader serves active signals on the market detail payload
type SignalReader interface {
	ActiveByInstrument(instrumentID string, now time.Time) ([]domain.Signal, error)
}

// PositionSource serves the positions route
type PositionSource interface {
	Positions(ctx context.Context, wallet string) ([]clob.Position, error)
}

// Config holds server wiring
type Config struct {
	Host    string
	Port    int
	CORS    string
	DevMode bool

	MarketCacheTTL    time.Duration
	OrderbookCacheTTL time.Duration

	Markets   MarketReader
	Books     SnapshotReader
	Candles   CandleReader
	Signals   SignalReader
	Positions PositionSource
	Nonces    *auth.NonceService
	Verifier  auth.Verifier
	Encoder   *txprep.Encoder
	Bus       *events.Bus

	CoreDB   *database.DB
	EventsDB *database.DB
	CacheDB  *database.DB

	Log zerolog.Logger
}

// Server is the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config

	marketCache    *gocache.Cache
	orderbookCache *gocache.Cache

	log zerolog.Logger
}

// New creates the server and mounts all routes
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		cfg:            cfg,
		marketCache:    gocache.New(cfg.MarketCacheTTL, 2*cfg.MarketCacheTTL),
		orderbookCache: gocache.New(cfg.OrderbookCacheTTL, 2*cfg.OrderbookCacheTTL),
		log:            cfg.Log.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORS},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Wallet", "X-Signature", "X-Nonce"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ws", s.handleWebSocket)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{conditionID}", s.handleGetMarket)
		r.Get("/markets/{conditionID}/orderbook", s.handleGetOrderbook)
		r.Get("/markets/{conditionID}/candles", s.handleGetCandles)
		r.Get("/auth/nonce", s.handleAuthNonce)

		r.Group(func(pr chi.Router) {
			pr.Use(s.requireSignature)
			pr.Get("/positions/{wallet}", s.handleGetPositions)
			pr.Post("/trades/prepare", s.handlePrepareTrade)
		})
	})
}

// Start begins listening. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the mux for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// InvalidateMarket evicts cached detail and depth payloads for a market.
// Called by the indexer after a sync pass changes market state.
func (s *Server) InvalidateMarket(conditionID string) {
	s.marketCache.Delete(conditionID)
	for _, outcome := range []string{domain.OutcomeYes, domain.OutcomeNo} {
		s.orderbookCache.Delete(conditionID + ":" + outcome)
	}
}

// InvalidateAll flushes both response caches
func (s *Server) InvalidateAll() {
	s.marketCache.Flush()
	s.orderbookCache.Flush()
}

// invalidatorShim adapts the server caches to the indexer's invalidation
// seam without the indexer importing this package
type invalidatorShim struct{ s *Server }

func (i invalidatorShim) Invalidate(conditionID string) { i.s.InvalidateMarket(conditionID) }
func (i invalidatorShim) InvalidateAll()                { i.s.InvalidateAll() }

// CacheInvalidator returns the adapter handed to the market indexer
func (s *Server) CacheInvalidator() invalidatorShim {
	return invalidatorShim{s: s}
}

var (
	_ SignalReader = (*signals.Repository)(nil)
	_ CandleReader = (*candles.Service)(nil)
)
