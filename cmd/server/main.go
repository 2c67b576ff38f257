// Lantern ingests market structure, filings, and price data for a tracked
// instrument universe, distills them into signals, and serves the result over
// HTTP and WebSocket.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/clients/alphavantage"
	"github.com/lanternhq/lantern/internal/clients/clob"
	"github.com/lanternhq/lantern/internal/clients/clobws"
	"github.com/lanternhq/lantern/internal/clients/edgar"
	"github.com/lanternhq/lantern/internal/clients/fetch"
	"github.com/lanternhq/lantern/internal/clients/gamma"
	"github.com/lanternhq/lantern/internal/clients/newsapi"
	"github.com/lanternhq/lantern/internal/clients/transcripts"
	"github.com/lanternhq/lantern/internal/config"
	"github.com/lanternhq/lantern/internal/database"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/events"
	"github.com/lanternhq/lantern/internal/modules/candles"
	"github.com/lanternhq/lantern/internal/modules/documents"
	"github.com/lanternhq/lantern/internal/modules/instruments"
	"github.com/lanternhq/lantern/internal/modules/markets"
	"github.com/lanternhq/lantern/internal/modules/metrics"
	"github.com/lanternhq/lantern/internal/modules/orderbook"
	"github.com/lanternhq/lantern/internal/modules/signals"
	"github.com/lanternhq/lantern/internal/ratelimit"
	"github.com/lanternhq/lantern/internal/scheduler"
	"github.com/lanternhq/lantern/internal/server"
	"github.com/lanternhq/lantern/internal/storage"
	"github.com/lanternhq/lantern/internal/txprep"
	"github.com/lanternhq/lantern/pkg/logger"
)

// userAgent identifies outbound requests. EDGAR rejects anonymous clients.
const userAgent = "lantern/1.0 (ops@lanternhq.dev)"

// lifecycleTypes are the document types the pipeline stages walk each tick
var lifecycleTypes = []domain.DocumentType{
	domain.DocFiling8K,
	domain.DocSECFiling,
	domain.DocNewsArticle,
	domain.DocTranscript,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("Starting lantern")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Fatal error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	// Entity store, append-only event log, and ephemeral cache are separate
	// files so checkpointing and retention can differ per profile
	coreDB, err := openDB(cfg.DataDir, "core", database.ProfileStandard)
	if err != nil {
		return err
	}
	defer coreDB.Close()

	eventsDB, err := openDB(cfg.DataDir, "events", database.ProfileEvents)
	if err != nil {
		return err
	}
	defer eventsDB.Close()

	cacheDB, err := openDB(cfg.DataDir, "cache", database.ProfileCache)
	if err != nil {
		return err
	}
	defer cacheDB.Close()

	store, err := openStorage(cfg, log)
	if err != nil {
		return err
	}

	// One gate per upstream host keeps every consumer of that host behind the
	// same spacing, regardless of which client issues the call
	gates := ratelimit.NewRegistry()
	newFetch := func(baseURL string, interval time.Duration) *fetch.Client {
		return fetch.New(gates.Gate(hostOf(baseURL), interval), cfg.HTTPClient.Timeout, userAgent, log)
	}

	gammaFetch := newFetch(cfg.Sources.GammaBaseURL, cfg.Sources.GammaRateLimit)
	clobFetch := newFetch(cfg.Sources.ClobBaseURL, cfg.Sources.ClobRateLimit)
	dataFetch := newFetch(cfg.Sources.DataAPIBaseURL, cfg.Sources.DataAPIRateLimit)
	edgarFetch := newFetch(cfg.Sources.EdgarBaseURL, cfg.Sources.EdgarRateLimit)
	avFetch := newFetch(cfg.Sources.AlphaVantageURL, cfg.Sources.AlphaVantageRateLimit)

	gammaClient := gamma.NewClient(cfg.Sources.GammaBaseURL, gammaFetch, log)
	clobClient := clob.NewClient(cfg.Sources.ClobBaseURL, cfg.Sources.DataAPIBaseURL, clobFetch, dataFetch, log)
	edgarClient := edgar.NewClient(cfg.Sources.EdgarBaseURL, cfg.Sources.EdgarSearchBaseURL, edgarFetch, log)
	avClient := alphavantage.NewClient(cfg.Sources.AlphaVantageURL, cfg.Sources.AlphaVantageKey, avFetch, log)

	var newsSource documents.NewsSource
	if cfg.Sources.NewsAPIKey != "" {
		newsFetch := newFetch(cfg.Sources.NewsBaseURL, cfg.Sources.NewsRateLimit)
		newsSource = newsapi.NewClient(cfg.Sources.NewsBaseURL, cfg.Sources.NewsAPIKey, newsFetch, log)
	}
	var transcriptSource documents.TranscriptSource
	if cfg.Sources.TranscriptsBaseURL != "" && cfg.Sources.TranscriptsAPIKey != "" {
		transcriptFetch := newFetch(cfg.Sources.TranscriptsBaseURL, cfg.Sources.TranscriptsRateLimit)
		transcriptSource = transcripts.NewClient(cfg.Sources.TranscriptsBaseURL, cfg.Sources.TranscriptsAPIKey, transcriptFetch, log)
	}

	wsClient := clobws.NewClient(cfg.Sources.ClobWSURL,
		cfg.Signals.HeartbeatInterval, cfg.Signals.ReconnectBaseDelay, cfg.Signals.ReconnectMaxDelay, log)

	instRepo := instruments.NewRepository(coreDB.Conn(), log)
	marketRepo := markets.NewRepository(coreDB.Conn(), eventsDB.Conn(), log)
	docRepo := documents.NewRepository(coreDB.Conn(), log)
	obRepo := orderbook.NewRepository(eventsDB.Conn(), cacheDB.Conn(), log)
	candleRepo := candles.NewRepository(eventsDB.Conn(), log)
	metricRepo := metrics.NewRepository(coreDB.Conn(), log)
	signalRepo := signals.NewRepository(coreDB.Conn(), log)

	instSvc := instruments.NewService(instRepo, log)
	metricSvc := metrics.NewService(metricRepo, instRepo, log)
	candleSvc := candles.NewService(obRepo, candleRepo, avClient, log)

	runner := signals.NewRunner(signalRepo, []signals.Generator{
		signals.NewAPConcentrationGenerator(instRepo, metricRepo),
		signals.NewFlowShockGenerator(instRepo, metricRepo),
		signals.NewTrackingStressGenerator(instRepo, metricRepo),
		signals.NewPeerMoveGenerator(instRepo, candleRepo, alphavantage.SourceName),
		signals.NewPropagationGenerator(signalRepo, instRepo),
	}, signals.RunnerConfig{
		MinConfidence: cfg.Signals.MinConfidence,
		SignalTTL:     cfg.Signals.SignalTTL,
		Lookback:      time.Duration(cfg.Signals.LookbackDays) * 24 * time.Hour,
	}, log)

	// Document source URLs span arbitrary publishers, so the downloader gets
	// its own gate instead of riding on a single upstream's
	downloadFetch := fetch.New(ratelimit.NewGate(100*time.Millisecond), cfg.HTTPClient.Timeout, userAgent, log)
	downloader := documents.NewDownloader(docRepo, downloadFetch, store, log)
	parser := documents.NewParser(docRepo, store, log)
	enricher := documents.NewEnricher(docRepo, signalRepo, documents.EnricherConfig{
		MinConfidence:     cfg.Signals.MinConfidence,
		MinKeywordDensity: cfg.Signals.MinKeywordDensity,
		SignalTTL:         cfg.Signals.SignalTTL,
	}, log)

	ingest := documents.NewIngestService(docRepo, instSvc, store, edgarClient, newsSource, transcriptSource, log)

	backfill := markets.NewBackfillService(marketRepo, clobClient, obRepo, cfg.Sync.BackfillBatchSize, log)

	bus := events.NewBus(256, log)

	srv := server.New(server.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		CORS:              cfg.CORS,
		DevMode:           cfg.DevMode,
		MarketCacheTTL:    cfg.CacheTTLs.MarketDetail,
		OrderbookCacheTTL: cfg.CacheTTLs.Orderbook,
		Markets:           marketRepo,
		Books:             obRepo,
		Candles:           candleSvc,
		Signals:           signalRepo,
		Positions:         clobClient,
		Nonces:            auth.NewNonceService(cfg.Auth.NonceTTL, log),
		Encoder:           txprep.NewEncoder(),
		Bus:               bus,
		CoreDB:            coreDB,
		EventsDB:          eventsDB,
		CacheDB:           cacheDB,
		Log:               log,
	})

	indexer := markets.NewIndexer(marketRepo, gammaClient, backfill, srv.CacheInvalidator(),
		cfg.Sync.MarkClosedMarketsInactive, log)

	stream := orderbook.NewStreamService(marketRepo, clobClient, wsClient, obRepo, bus, orderbook.StreamConfig{
		SnapshotTTL:          cfg.Signals.SnapshotTTL,
		DeactivateOnNotFound: cfg.Sync.MarkClosedMarketsInactive,
	}, log)
	indexer.SetStreamRefresher(stream)

	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, indexer, downloader, parser, enricher, ingest, runner, signalRepo, metricSvc, log); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	if err := stream.Start(); err != nil {
		log.Error().Err(err).Msg("Stream start failed, continuing without live books")
	}

	// Initial catalog sync runs in the background so a cold start serves
	// whatever the store already holds while the catalog fills in
	sched.Kickoff(scheduler.Func{JobName: "market_full_sync", Fn: func() error {
		return indexer.FullSync(context.Background())
	}})
	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serveErr:
		sched.Stop()
		stream.Stop()
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	sched.Stop()
	stream.Stop()

	log.Info().Msg("Shutdown complete")
	return nil
}

func registerJobs(sched *scheduler.Scheduler, cfg *config.Config,
	indexer *markets.Indexer, downloader *documents.Downloader, parser *documents.Parser,
	enricher *documents.Enricher, ingest *documents.IngestService,
	runner *signals.Runner, signalRepo *signals.Repository, metricSvc *metrics.Service,
	log zerolog.Logger) error {

	add := func(interval time.Duration, job scheduler.Job) error {
		return sched.AddJob(fmt.Sprintf("@every %s", interval), job)
	}

	if err := add(cfg.Sync.MarketFullSyncInterval, scheduler.Func{JobName: "market_full_sync", Fn: func() error {
		return indexer.FullSync(context.Background())
	}}); err != nil {
		return err
	}
	if err := add(cfg.Sync.MarketIncrementalSyncInterval, scheduler.Func{JobName: "market_incremental_sync", Fn: func() error {
		return indexer.IncrementalSync(context.Background())
	}}); err != nil {
		return err
	}

	if err := add(cfg.Sync.LifecycleInterval, scheduler.Func{JobName: "document_lifecycle", Fn: func() error {
		ctx := context.Background()
		var lastErr error
		for _, docType := range lifecycleTypes {
			if err := downloader.ProcessBatch(ctx, docType, cfg.Sync.DocumentBatchSize); err != nil {
				lastErr = err
			}
			if err := parser.ProcessBatch(ctx, docType, cfg.Sync.DocumentBatchSize); err != nil {
				lastErr = err
			}
			if err := enricher.ProcessBatch(ctx, docType, cfg.Sync.DocumentBatchSize); err != nil {
				lastErr = err
			}
		}
		return lastErr
	}}); err != nil {
		return err
	}

	if cfg.Workers.FilingsEnabled {
		if err := add(cfg.Sync.FilingsSyncInterval, scheduler.Func{JobName: "filings_poll", Fn: func() error {
			return ingest.PollFilings(context.Background())
		}}); err != nil {
			return err
		}
	}
	if cfg.Workers.NewsEnabled {
		// Each poll picks up where the previous one left off
		lastPoll := time.Now().UTC().Add(-cfg.Sync.NewsSyncInterval)
		if err := add(cfg.Sync.NewsSyncInterval, scheduler.Func{JobName: "news_poll", Fn: func() error {
			since := lastPoll
			lastPoll = time.Now().UTC()
			return ingest.PollNews(context.Background(), since)
		}}); err != nil {
			return err
		}
	}
	if cfg.Workers.TranscriptsEnabled {
		if err := add(cfg.Sync.TranscriptsSyncInterval, scheduler.Func{JobName: "transcripts_poll", Fn: func() error {
			return ingest.PollTranscripts(context.Background(), time.Now().UTC())
		}}); err != nil {
			return err
		}
	}

	if cfg.Workers.SignalsEnabled {
		if err := add(cfg.Sync.SignalComputeInterval, scheduler.Func{JobName: "signal_compute", Fn: func() error {
			if removed, err := signalRepo.DeleteExpired(time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to sweep expired signals")
			} else if removed > 0 {
				log.Info().Int64("removed", removed).Msg("Swept expired signals")
			}
			return runner.RunAll(context.Background())
		}}); err != nil {
			return err
		}
	}
	if cfg.Workers.MetricsEnabled {
		if err := add(cfg.Sync.MetricsComputeInterval, scheduler.Func{JobName: "metrics_compute", Fn: func() error {
			return metricSvc.ComputeDaily(context.Background())
		}}); err != nil {
			return err
		}
	}

	return nil
}

func openDB(dataDir, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}

func openStorage(cfg *config.Config, log zerolog.Logger) (storage.Store, error) {
	if cfg.Storage.Type == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		}, log)
	}
	return storage.NewLocalStore(filepath.Join(cfg.DataDir, "blobs"), log)
}

// hostOf keys rate-limit gates. A URL that fails to parse gates on its raw
// string, which still serializes calls to that source.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
