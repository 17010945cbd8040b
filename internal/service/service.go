package service

//go:generate mockgen -package=service_test -destination=mock_fetcher_test.go -source=../fetcher/fetcher.go PriceFetcher
//go:generate mockgen -package=service_test -destination=mock_store_test.go -source=../storage/repository.go PriceWriter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pricefeed/pricefeed/internal/alerting"
	"github.com/pricefeed/pricefeed/internal/config"
	"github.com/pricefeed/pricefeed/internal/fetcher"
	"github.com/pricefeed/pricefeed/internal/metrics"
	"github.com/pricefeed/pricefeed/internal/model"
	"github.com/pricefeed/pricefeed/internal/scheduler"
	"github.com/pricefeed/pricefeed/internal/storage"
)

// Stage names a state of a collection cycle.
type Stage string

const (
	StageStarted       Stage = "started"
	StageFetching      Stage = "fetching"
	StageFetched       Stage = "fetched"
	StageFetchFailed   Stage = "fetch_failed"
	StagePersisting    Stage = "persisting"
	StageDone          Stage = "done"
	StagePersistFailed Stage = "persist_failed"
	StageSkipped       Stage = "skipped"
)

// Recorder receives cycle outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveCycle(outcome string, attempts int, inserted int64)
	ObserveFailure(kind string)
}

// Options configure the ingestion task.
type Options struct {
	Tickers   []model.Ticker
	Retry     config.RetryConfig
	LockKey   int64
	Scheduler *scheduler.Scheduler
}

// CycleReport summarises one collection cycle.
type CycleReport struct {
	ID       string
	Tick     time.Time
	Attempts int
	Fetched  int
	Inserted int64
	Stage    Stage
	Duration time.Duration
}

// CycleError is returned when a cycle ends without persisting.
type CycleError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle failed at %s after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Service runs fetch-and-store cycles with bounded retries.
type Service struct {
	fetcher  fetcher.PriceFetcher
	store    storage.PriceWriter
	notifier alerting.Notifier
	recorder Recorder
	logger   zerolog.Logger

	scheduler *scheduler.Scheduler
	tickers   []string
	retry     config.RetryConfig
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the ingestion service. notifier and recorder may be nil.
func New(opts Options, feed fetcher.PriceFetcher, store storage.PriceWriter, notifier alerting.Notifier, recorder Recorder, logger zerolog.Logger) *Service {
	tickers := make([]string, 0, len(opts.Tickers))
	for _, t := range opts.Tickers {
		tickers = append(tickers, t.String())
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		fetcher:   feed,
		store:     store,
		notifier:  notifier,
		recorder:  recorder,
		logger:    logger.With().Str("component", "service").Logger(),
		scheduler: opts.Scheduler,
		tickers:   tickers,
		retry:     opts.Retry,
		locker:    locker,
		lockKey:   opts.LockKey,
	}
}

// Run drives RunCycle from the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, tick time.Time) error {
		_, err := s.RunCycle(ctx, tick)
		return err
	})
}

// RunCycle fetches every configured ticker and stores the batch, retrying
// transient failures with exponential backoff.
func (s *Service) RunCycle(ctx context.Context, tick time.Time) (CycleReport, error) {
	started := time.Now()
	report := CycleReport{ID: uuid.NewString(), Tick: tick}
	log := s.logger.With().Str("cycle_id", report.ID).Time("tick", tick).Logger()
	s.transition(&report, StageStarted, log)

	var unlock func()
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()
	skipped := false

	attempt := func() error {
		report.Attempts++
		if unlock == nil {
			release, proceed, err := s.acquireLock(ctx)
			if err != nil {
				s.transition(&report, StagePersistFailed, log)
				return s.classify(model.PersistError(err), log)
			}
			if !proceed {
				// Not an attempt: another instance owns this tick.
				report.Attempts--
				skipped = true
				return nil
			}
			unlock = release
		}

		s.transition(&report, StageFetching, log)
		batch, err := s.fetcher.FetchMany(ctx, s.tickers)
		if err != nil {
			s.transition(&report, StageFetchFailed, log)
			return s.classify(err, log)
		}
		report.Fetched = len(batch)
		s.transition(&report, StageFetched, log)

		s.transition(&report, StagePersisting, log)
		inserted, err := s.store.BulkInsert(ctx, batch)
		if err != nil {
			s.transition(&report, StagePersistFailed, log)
			return s.classify(model.PersistError(err), log)
		}
		report.Inserted = inserted
		s.transition(&report, StageDone, log)
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).
			Int("attempt", report.Attempts).
			Dur("retry_in", wait).
			Msg("cycle attempt failed; retrying")
	}

	err := backoff.RetryNotify(attempt, s.policy(ctx), notify)
	report.Duration = time.Since(started)
	if err == nil && skipped {
		s.transition(&report, StageSkipped, log)
		log.Info().Msg("skip cycle because advisory lock held elsewhere")
		s.observe(metrics.OutcomeSkipped, report)
		return report, nil
	}
	if err != nil {
		cycleErr := &CycleError{Stage: report.Stage, Attempts: report.Attempts, Err: err}
		log.Error().Err(err).
			Str("stage", string(report.Stage)).
			Int("attempts", report.Attempts).
			Dur("duration", report.Duration).
			Msg("cycle failed")
		s.observe(metrics.OutcomeFailed, report)
		s.alert(ctx, report, err, log)
		return report, cycleErr
	}

	log.Info().
		Int("attempts", report.Attempts).
		Int("fetched", report.Fetched).
		Int64("inserted", report.Inserted).
		Dur("duration", report.Duration).
		Msg("cycle done")
	s.observe(metrics.OutcomeDone, report)
	return report, nil
}

func (s *Service) policy(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.retry.BaseDelay
	exp.MaxInterval = s.retry.MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = s.retry.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	// WithMaxRetries treats zero as unlimited.
	if s.retry.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.retry.MaxRetries)), ctx)
}

// classify counts the failure and marks non-transient errors permanent.
func (s *Service) classify(err error, log zerolog.Logger) error {
	kind := model.KindOf(err)
	if s.recorder != nil {
		s.recorder.ObserveFailure(string(kind))
	}
	if kind.Transient() {
		return err
	}

	event := log.Error().Err(err).Str("kind", string(kind))
	var typed *model.Error
	if errors.As(err, &typed) {
		event = event.
			Str("ticker", typed.Ticker).
			Str("endpoint", typed.Endpoint).
			Int("status", typed.Status).
			Str("excerpt", typed.Excerpt)
	}
	event.Msg("non-retryable cycle failure")
	return backoff.Permanent(err)
}

func (s *Service) transition(report *CycleReport, stage Stage, log zerolog.Logger) {
	report.Stage = stage
	log.Debug().Str("stage", string(stage)).Int("attempt", report.Attempts).Msg("cycle state")
}

func (s *Service) observe(outcome string, report CycleReport) {
	if s.recorder == nil {
		return
	}
	s.recorder.ObserveCycle(outcome, report.Attempts, report.Inserted)
}

func (s *Service) alert(ctx context.Context, report CycleReport, err error, log zerolog.Logger) {
	if s.notifier == nil {
		return
	}
	note := alerting.Notification{
		CycleID:  report.ID,
		Tick:     report.Tick,
		Stage:    string(report.Stage),
		Attempts: report.Attempts,
		Kind:     string(model.KindOf(err)),
		Cause:    err.Error(),
	}
	var typed *model.Error
	if errors.As(err, &typed) {
		note.Ticker = typed.Ticker
		note.Endpoint = typed.Endpoint
		note.Status = typed.Status
		note.Excerpt = typed.Excerpt
	}
	if ctx.Err() != nil {
		return
	}
	if nerr := s.notifier.Notify(ctx, note); nerr != nil {
		log.Error().Err(nerr).Msg("failed to dispatch cycle alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return func() {}, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	if unlock == nil {
		unlock = func() {}
	}
	return unlock, true, nil
}
