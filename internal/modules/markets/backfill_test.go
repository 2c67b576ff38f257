package markets_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/clients/clob"
	"github.com/lanternhq/lantern/internal/clients/fetch"
	"github.com/lanternhq/lantern/internal/domain"
	"github.com/lanternhq/lantern/internal/modules/markets"
	"github.com/lanternhq/lantern/internal/ratelimit"
)

type fakeAppender struct {
	seen map[string]struct{}
}

func (f *fakeAppender) AppendTrades(trades []domain.TradeEvent) (int, error) {
	if f.seen == nil {
		f.seen = make(map[string]struct{})
	}
	inserted := 0
	for _, tr := range trades {
		id := tr.NaturalID()
		if _, dup := f.seen[id]; dup {
			continue
		}
		f.seen[id] = struct{}{}
		inserted++
	}
	return inserted, nil
}

// tradeServer serves 11200 synthetic trades in pages of up to 5000
func tradeServer(t *testing.T, total int, requestedOffsets *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		*requestedOffsets = append(*requestedOffsets, offset)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[")
		for i := 0; i < limit && offset+i < total; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"conditionId":"0xcond","outcome":"Yes","price":"0.5","size":"%d","side":"buy","timestamp":%d}`,
				offset+i+1, 1700000000+offset+i)
		}
		fmt.Fprint(w, "]")
	}))
}

func TestBackfillPaginatesUntilShortPage(t *testing.T) {
	var offsets []int
	srv := tradeServer(t, 11200, &offsets)
	defer srv.Close()

	repo := setupRepo(t)
	fc := fetch.New(ratelimit.NewGate(time.Microsecond), 5*time.Second, "test", zerolog.Nop())
	clobClient := clob.NewClient(srv.URL, srv.URL, fc, fc, zerolog.Nop())
	appender := &fakeAppender{}

	svc := markets.NewBackfillService(repo, clobClient, appender, 5000, zerolog.Nop())
	svc.Run(context.Background(), "0xcond", false)

	assert.Equal(t, []int{0, 5000, 10000}, offsets)

	status, err := repo.GetBackfill("0xcond")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, markets.BackfillCompleted, status.Status)
	assert.Equal(t, 11200, status.TradeEventsCount)
	require.NotNil(t, status.EarliestTS)
	require.NotNil(t, status.LatestTS)
	assert.Equal(t, int64(1700000000000), *status.EarliestTS)
	assert.Equal(t, int64(1700011199000), *status.LatestTS)
}

func TestBackfillSkipsCompletedUnlessForced(t *testing.T) {
	var offsets []int
	srv := tradeServer(t, 10, &offsets)
	defer srv.Close()

	repo := setupRepo(t)
	fc := fetch.New(ratelimit.NewGate(time.Microsecond), 5*time.Second, "test", zerolog.Nop())
	clobClient := clob.NewClient(srv.URL, srv.URL, fc, fc, zerolog.Nop())

	real := markets.NewBackfillService(repo, clobClient, &fakeAppender{}, 5000, zerolog.Nop())
	real.Run(context.Background(), "0xcond", false)
	require.Len(t, offsets, 1)

	real.Run(context.Background(), "0xcond", false)
	assert.Len(t, offsets, 1) // completed: skipped

	real.Run(context.Background(), "0xcond", true)
	assert.Len(t, offsets, 2) // forced: re-fetched
}

func TestBackfillRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	repo := setupRepo(t)
	fc := fetch.New(ratelimit.NewGate(time.Microsecond), 5*time.Second, "test", zerolog.Nop())
	clobClient := clob.NewClient(srv.URL, srv.URL, fc, fc, zerolog.Nop())

	svc := markets.NewBackfillService(repo, clobClient, &fakeAppender{}, 5000, zerolog.Nop())
	svc.Run(context.Background(), "0xfail", false)

	status, err := repo.GetBackfill("0xfail")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, markets.BackfillFailed, status.Status)
	require.NotNil(t, status.ErrorMessage)
	assert.NotEmpty(t, *status.ErrorMessage)
}
