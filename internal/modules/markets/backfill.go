package markets

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lanternhq/lantern/internal/clients/clob"
	"github.com/lanternhq/lantern/internal/domain"
)

// TradeAppender writes trade events into the append-only log, skipping rows
// whose natural id already exists. Returns the number actually inserted.
type TradeAppender interface {
	AppendTrades(trades []domain.TradeEvent) (int, error)
}

// BackfillService pulls the full historical trade sequence for a market into
// the event log
type BackfillService struct {
	repo      *Repository
	clob      *clob.Client
	appender  TradeAppender
	batchSize int
	log       zerolog.Logger
}

// NewBackfillService creates a backfill service
func NewBackfillService(repo *Repository, clobClient *clob.Client, appender TradeAppender, batchSize int, log zerolog.Logger) *BackfillService {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &BackfillService{
		repo:      repo,
		clob:      clobClient,
		appender:  appender,
		batchSize: batchSize,
		log:       log.With().Str("component", "backfill").Logger(),
	}
}

// Run backfills one market. Markets already completed are skipped unless
// force is set. Errors are recorded on the backfill row, never returned to
// the caller: backfill is fire-and-forget from the indexer.
func (s *BackfillService) Run(ctx context.Context, conditionID string, force bool) {
	status, err := s.repo.GetBackfill(conditionID)
	if err != nil {
		s.log.Error().Str("condition_id", conditionID).Err(err).Msg("Failed to read backfill status")
		return
	}
	if status != nil && status.Status == BackfillCompleted && !force {
		return
	}

	if err := s.repo.SetBackfill(BackfillStatus{ConditionID: conditionID, Status: BackfillInProgress}); err != nil {
		s.log.Error().Str("condition_id", conditionID).Err(err).Msg("Failed to mark backfill in progress")
		return
	}

	result, err := s.paginate(ctx, conditionID)
	if err != nil {
		msg := err.Error()
		_ = s.repo.SetBackfill(BackfillStatus{
			ConditionID:  conditionID,
			Status:       BackfillFailed,
			ErrorMessage: &msg,
		})
		s.log.Warn().Str("condition_id", conditionID).Err(err).Msg("Backfill failed")
		return
	}

	if err := s.repo.SetBackfill(*result); err != nil {
		s.log.Error().Str("condition_id", conditionID).Err(err).Msg("Failed to record backfill completion")
		return
	}
	s.log.Info().
		Str("condition_id", conditionID).
		Int("trades", result.TradeEventsCount).
		Msg("Backfill complete")
}

func (s *BackfillService) paginate(ctx context.Context, conditionID string) (*BackfillStatus, error) {
	result := &BackfillStatus{ConditionID: conditionID, Status: BackfillCompleted}

	offset := 0
	for {
		page, err := s.clob.Trades(ctx, conditionID, offset, s.batchSize)
		if err != nil {
			if errors.Is(err, clob.ErrMarketNotFound) {
				// Gone markets have no history to fetch; complete with zero trades
				return result, nil
			}
			return nil, fmt.Errorf("fetch trades at offset %d: %w", offset, err)
		}

		inserted, err := s.appender.AppendTrades(page.Trades)
		if err != nil {
			return nil, fmt.Errorf("append trades at offset %d: %w", offset, err)
		}
		result.TradeEventsCount += inserted

		for _, tr := range page.Trades {
			if result.EarliestTS == nil || tr.Timestamp < *result.EarliestTS {
				ts := tr.Timestamp
				result.EarliestTS = &ts
			}
			if result.LatestTS == nil || tr.Timestamp > *result.LatestTS {
				ts := tr.Timestamp
				result.LatestTS = &ts
			}
		}

		if len(page.Trades) < s.batchSize {
			return result, nil
		}
		offset += len(page.Trades)
	}
}
