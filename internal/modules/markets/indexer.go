package markets

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/gamma"
)

const (
	indexBatchWidth = 2
	indexBatchDelay = 1 * time.Second
)

// StreamRefresher lets the indexer nudge the live feed after each batch so
// newly discovered markets join without waiting for the next sync tick
type StreamRefresher interface {
	RefreshSubscriptions()
}

// Backfiller starts a historical trade backfill for one market
type Backfiller interface {
	Run(ctx context.Context, conditionID string, force bool)
}

// CacheInvalidator drops cached market views after catalog changes
type CacheInvalidator interface {
	Invalidate(conditionID string)
	InvalidateAll()
}

// Indexer syncs the market catalog into the store
type Indexer struct {
	repo     *Repository
	catalog  *gamma.Client
	backfill Backfiller
	cache    CacheInvalidator

	markClosedInactive bool

	stream StreamRefresher // Set after the stream service boots

	log zerolog.Logger
}

// NewIndexer creates a market indexer. backfill and cache may be nil in tests.
func NewIndexer(repo *Repository, catalog *gamma.Client, backfill Backfiller, cache CacheInvalidator, markClosedInactive bool, log zerolog.Logger) *Indexer {
	return &Indexer{
		repo:               repo,
		catalog:            catalog,
		backfill:           backfill,
		cache:              cache,
		markClosedInactive: markClosedInactive,
		log:                log.With().Str("component", "market_indexer").Logger(),
	}
}

// SetStreamRefresher wires the live feed in after both services exist
func (ix *Indexer) SetStreamRefresher(s StreamRefresher) {
	ix.stream = s
}

// FullSync pulls the whole open-market catalog, upserts every market, and
// triggers backfill for newly discovered ids
func (ix *Indexer) FullSync(ctx context.Context) error {
	start := time.Now()
	ix.log.Info().Msg("Starting full catalog sync")

	seen := make(map[string]struct{})
	var inserted, updated int

	pages := ix.catalog.OpenMarkets()
	for {
		page, err := pages.Next(ctx)
		if err != nil {
			return fmt.Errorf("catalog page fetch: %w", err)
		}
		if page == nil {
			break
		}

		for batchStart := 0; batchStart < len(page.Markets); batchStart += indexBatchWidth {
			end := batchStart + indexBatchWidth
			if end > len(page.Markets) {
				end = len(page.Markets)
			}

			for _, m := range page.Markets[batchStart:end] {
				seen[m.ConditionID] = struct{}{}
				isNew, err := ix.repo.Upsert(m)
				if err != nil {
					ix.log.Error().Str("condition_id", m.ConditionID).Err(err).Msg("Failed to upsert market")
					continue
				}
				if isNew {
					inserted++
					if ix.backfill != nil {
						// Fire and forget: backfill failure never blocks catalog sync
						go ix.backfill.Run(context.WithoutCancel(ctx), m.ConditionID, false)
					}
				} else {
					updated++
				}
				if ix.cache != nil {
					ix.cache.Invalidate(m.ConditionID)
				}
			}

			ix.refreshStream()

			if end < len(page.Markets) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(indexBatchDelay):
				}
			}
		}
	}

	if ix.markClosedInactive {
		if err := ix.deactivateUnseen(seen); err != nil {
			ix.log.Warn().Err(err).Msg("Failed to deactivate closed markets")
		}
	}
	if ix.cache != nil {
		ix.cache.InvalidateAll()
	}
	if err := ix.repo.SetWatermark("catalog_full_sync", time.Now().UTC().Format(time.RFC3339)); err != nil {
		ix.log.Warn().Err(err).Msg("Failed to record sync watermark")
	}

	ix.log.Info().
		Int("inserted", inserted).
		Int("updated", updated).
		Dur("elapsed", time.Since(start)).
		Msg("Full catalog sync complete")
	return nil
}

// IncrementalSync re-fetches state for known markets, skipping those whose
// last-updated-block marker has not advanced
func (ix *Indexer) IncrementalSync(ctx context.Context) error {
	local, err := ix.repo.ListActive()
	if err != nil {
		return fmt.Errorf("list active markets: %w", err)
	}

	var refreshed, skipped int
	for batchStart := 0; batchStart < len(local); batchStart += indexBatchWidth {
		end := batchStart + indexBatchWidth
		if end > len(local) {
			end = len(local)
		}

		for _, m := range local[batchStart:end] {
			state, err := ix.catalog.MarketState(ctx, m.ConditionID)
			if err != nil {
				ix.log.Warn().Str("condition_id", m.ConditionID).Err(err).Msg("Failed to fetch market state")
				continue
			}
			if state.LastUpdatedBlock != nil && m.LastIndexedBlock != nil &&
				*state.LastUpdatedBlock <= *m.LastIndexedBlock {
				skipped++
				continue
			}

			if err := ix.repo.UpdateState(m.ConditionID, state.YesPrice, state.NoPrice,
				state.Liquidity, state.Volume, state.Active, state.LastUpdatedBlock); err != nil {
				ix.log.Error().Str("condition_id", m.ConditionID).Err(err).Msg("Failed to update market state")
				continue
			}
			refreshed++
			if ix.cache != nil {
				ix.cache.Invalidate(m.ConditionID)
			}
		}

		ix.refreshStream()

		if end < len(local) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(indexBatchDelay):
			}
		}
	}

	ix.log.Info().Int("refreshed", refreshed).Int("skipped", skipped).Msg("Incremental sync complete")
	return nil
}

func (ix *Indexer) refreshStream() {
	if ix.stream != nil {
		ix.stream.RefreshSubscriptions()
	}
}

func (ix *Indexer) deactivateUnseen(seen map[string]struct{}) error {
	local, err := ix.repo.ListActive()
	if err != nil {
		return err
	}
	for _, m := range local {
		if _, ok := seen[m.ConditionID]; ok {
			continue
		}
		if err := ix.repo.SetActive(m.ConditionID, false); err != nil {
			return err
		}
		ix.log.Info().Str("condition_id", m.ConditionID).Msg("Market left the open catalog, marked inactive")
	}
	return nil
}
