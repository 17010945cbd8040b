package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pricefeed/pricefeed/internal/alerting"
	"github.com/pricefeed/pricefeed/internal/config"
	"github.com/pricefeed/pricefeed/internal/model"
	"github.com/pricefeed/pricefeed/internal/service"
)

var tickers = []string{"btc_usd", "eth_usd"}

func fastRetry(max int) config.RetryConfig {
	return config.RetryConfig{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Jitter: 0.5}
}

func batch() []model.Observation {
	return []model.Observation{
		{Ticker: model.BTCUSD, Price: decimal.RequireFromString("50000.5"), CapturedTsMs: 1000},
		{Ticker: model.ETHUSD, Price: decimal.RequireFromString("2000.25"), CapturedTsMs: 1000},
	}
}

func unavailable() error {
	return &model.Error{Kind: model.KindUnavailable, Ticker: "btc_usd", Err: errors.New("connection refused")}
}

type recorder struct {
	mu       sync.Mutex
	outcomes []string
	attempts []int
	failures []string
}

func (r *recorder) ObserveCycle(outcome string, attempts int, inserted int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	r.attempts = append(r.attempts, attempts)
}

func (r *recorder) ObserveFailure(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, kind)
}

type notifier struct {
	notes []alerting.Notification
}

func (n *notifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

func newService(feed *MockPriceFetcher, store *MockPriceWriter, retry config.RetryConfig, n alerting.Notifier, rec service.Recorder) *service.Service {
	opts := service.Options{
		Tickers: []model.Ticker{model.BTCUSD, model.ETHUSD},
		Retry:   retry,
	}
	return service.New(opts, feed, store, n, rec, zerolog.Nop())
}

func TestRunCycleRetriesTransientFetchFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := NewMockPriceWriter(ctrl)
	rec := &recorder{}

	gomock.InOrder(
		feed.EXPECT().FetchMany(gomock.Any(), tickers).Return(nil, unavailable()),
		feed.EXPECT().FetchMany(gomock.Any(), tickers).Return(nil, unavailable()),
		feed.EXPECT().FetchMany(gomock.Any(), tickers).Return(batch(), nil),
	)
	store.EXPECT().BulkInsert(gomock.Any(), batch()).Return(int64(2), nil).Times(1)

	report, err := newService(feed, store, fastRetry(5), nil, rec).RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, report.Attempts)
	require.Equal(t, service.StageDone, report.Stage)
	require.Equal(t, 2, report.Fetched)
	require.EqualValues(t, 2, report.Inserted)
	require.NotEmpty(t, report.ID)

	require.Equal(t, []string{"done"}, rec.outcomes)
	require.Equal(t, []int{3}, rec.attempts)
	require.Equal(t, []string{"unavailable", "unavailable"}, rec.failures)
}

func TestRunCycleDoesNotRetryBadResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := NewMockPriceWriter(ctrl)
	alerts := &notifier{}

	bad := &model.Error{Kind: model.KindBadResponse, Ticker: "btc_usd", Endpoint: "public/get_index_price", Status: 200, Excerpt: `{"result":{}}`}
	feed.EXPECT().FetchMany(gomock.Any(), tickers).Return(nil, bad).Times(1)

	report, err := newService(feed, store, fastRetry(5), alerts, nil).RunCycle(context.Background(), time.Now())
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrBadResponse)

	var cycleErr *service.CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, service.StageFetchFailed, cycleErr.Stage)
	require.Equal(t, 1, cycleErr.Attempts)
	require.Equal(t, 1, report.Attempts)

	require.Len(t, alerts.notes, 1)
	require.Equal(t, "bad_response", alerts.notes[0].Kind)
	require.Equal(t, "btc_usd", alerts.notes[0].Ticker)
	require.Equal(t, 200, alerts.notes[0].Status)
}

func TestRunCycleRetriesPersistFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := NewMockPriceWriter(ctrl)

	feed.EXPECT().FetchMany(gomock.Any(), tickers).Return(batch(), nil).Times(2)
	gomock.InOrder(
		store.EXPECT().BulkInsert(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("connection reset")),
		store.EXPECT().BulkInsert(gomock.Any(), gomock.Any()).Return(int64(2), nil),
	)

	report, err := newService(feed, store, fastRetry(5), nil, nil).RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, report.Attempts)
	require.Equal(t, service.StageDone, report.Stage)
}

func TestRunCycleReportsExhaustedRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := NewMockPriceWriter(ctrl)
	alerts := &notifier{}
	rec := &recorder{}

	limited := &model.Error{Kind: model.KindRateLimited, Ticker: "eth_usd", Status: 429}
	feed.EXPECT().FetchMany(gomock.Any(), tickers).Return(nil, limited).Times(3)

	_, err := newService(feed, store, fastRetry(2), alerts, rec).RunCycle(context.Background(), time.Now())
	require.ErrorIs(t, err, model.ErrRateLimited)

	var cycleErr *service.CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, 3, cycleErr.Attempts)
	require.Equal(t, service.StageFetchFailed, cycleErr.Stage)

	require.Len(t, alerts.notes, 1)
	require.Equal(t, "rate_limited", alerts.notes[0].Kind)
	require.Equal(t, []string{"failed"}, rec.outcomes)
	require.Len(t, rec.failures, 3)
}

func TestRunCycleStopsOnCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := NewMockPriceWriter(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	feed.EXPECT().FetchMany(gomock.Any(), tickers).DoAndReturn(func(context.Context, []string) ([]model.Observation, error) {
		cancel()
		return nil, unavailable()
	}).Times(1)

	retry := config.RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	_, err := newService(feed, store, retry, nil, nil).RunCycle(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
}

type lockingWriter struct {
	*MockPriceWriter
	held bool
}

func (l *lockingWriter) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func TestRunCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := &lockingWriter{MockPriceWriter: NewMockPriceWriter(ctrl), held: true}
	rec := &recorder{}

	opts := service.Options{Tickers: []model.Ticker{model.BTCUSD}, Retry: fastRetry(5), LockKey: 42}
	report, err := service.New(opts, feed, store, nil, rec, zerolog.Nop()).RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, service.StageSkipped, report.Stage)
	require.Zero(t, report.Attempts)
	require.Equal(t, []string{"skipped"}, rec.outcomes)
}

func TestRunCycleRunsUnderLock(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := &lockingWriter{MockPriceWriter: NewMockPriceWriter(ctrl)}

	feed.EXPECT().FetchMany(gomock.Any(), []string{"btc_usd"}).Return(batch()[:1], nil)
	store.EXPECT().BulkInsert(gomock.Any(), gomock.Any()).Return(int64(1), nil)

	opts := service.Options{Tickers: []model.Ticker{model.BTCUSD}, Retry: fastRetry(5), LockKey: 42}
	report, err := service.New(opts, feed, store, nil, nil, zerolog.Nop()).RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, service.StageDone, report.Stage)
}

func TestRunWithoutScheduler(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := newService(NewMockPriceFetcher(ctrl), NewMockPriceWriter(ctrl), fastRetry(0), nil, nil)
	require.Error(t, svc.Run(context.Background()))
}

func TestRunCycleWithoutRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := NewMockPriceWriter(ctrl)

	feed.EXPECT().FetchMany(gomock.Any(), tickers).Return(nil, unavailable()).Times(1)

	_, err := newService(feed, store, fastRetry(0), nil, nil).RunCycle(context.Background(), time.Now())
	require.ErrorIs(t, err, model.ErrUnavailable)
}

type flakyLockWriter struct {
	*MockPriceWriter
	failures int
	calls    int
}

func (l *flakyLockWriter) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	l.calls++
	if l.calls <= l.failures {
		return nil, false, errors.New("conn busy")
	}
	return func() {}, true, nil
}

func TestRunCycleRetriesLockAcquisitionError(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := &flakyLockWriter{MockPriceWriter: NewMockPriceWriter(ctrl), failures: 1}
	rec := &recorder{}

	feed.EXPECT().FetchMany(gomock.Any(), []string{"btc_usd"}).Return(batch()[:1], nil).Times(1)
	store.EXPECT().BulkInsert(gomock.Any(), gomock.Any()).Return(int64(1), nil).Times(1)

	opts := service.Options{Tickers: []model.Ticker{model.BTCUSD}, Retry: fastRetry(5), LockKey: 42}
	report, err := service.New(opts, feed, store, nil, rec, zerolog.Nop()).RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, report.Attempts)
	require.Equal(t, service.StageDone, report.Stage)
	require.Equal(t, 2, store.calls)
	require.Equal(t, []string{"done"}, rec.outcomes)
	require.Equal(t, []string{"persist_failed"}, rec.failures)
}

func TestRunCycleAlertsWhenLockNeverAcquired(t *testing.T) {
	ctrl := gomock.NewController(t)
	feed := NewMockPriceFetcher(ctrl)
	store := &flakyLockWriter{MockPriceWriter: NewMockPriceWriter(ctrl), failures: 100}
	alerts := &notifier{}
	rec := &recorder{}

	opts := service.Options{Tickers: []model.Ticker{model.BTCUSD}, Retry: fastRetry(2), LockKey: 42}
	report, err := service.New(opts, feed, store, alerts, rec, zerolog.Nop()).RunCycle(context.Background(), time.Now())
	require.ErrorIs(t, err, model.ErrPersistFailed)
	require.ErrorContains(t, err, "conn busy")

	var cycleErr *service.CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, service.StagePersistFailed, cycleErr.Stage)
	require.Equal(t, 3, report.Attempts)

	require.Equal(t, []string{"failed"}, rec.outcomes)
	require.Len(t, alerts.notes, 1)
	require.Equal(t, "persist_failed", alerts.notes[0].Kind)
}
