package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pricefeed/pricefeed/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates no observation matched the query.
	ErrNotFound = errors.New("storage: price not found")
)

//go:embed schema.sql
var schemaSQL string

const (
	bulkInsertSQL = `INSERT INTO prices (ticker, price, captured_ts_ms)
    SELECT t.ticker, t.price::numeric, t.captured_ts_ms
    FROM unnest($1::text[], $2::text[], $3::bigint[]) AS t(ticker, price, captured_ts_ms)
    ON CONFLICT (ticker, captured_ts_ms) DO NOTHING;`

	readAllSQL = `SELECT ticker, price::text, captured_ts_ms
    FROM prices
    WHERE ticker = $1
    ORDER BY captured_ts_ms DESC;`

	readLastSQL = `SELECT ticker, price::text, captured_ts_ms
    FROM prices
    WHERE ticker = $1
    ORDER BY captured_ts_ms DESC
    LIMIT 1;`

	readLastAtOrBeforeSQL = `SELECT ticker, price::text, captured_ts_ms
    FROM prices
    WHERE ticker = $1
      AND captured_ts_ms <= $2
    ORDER BY captured_ts_ms DESC
    LIMIT 1;`

	listRecentSQL = `SELECT ticker, price::text, captured_ts_ms
    FROM prices
    WHERE ticker = $1
    ORDER BY captured_ts_ms DESC
    LIMIT $2;`

	listBetweenSQL = `SELECT ticker, price::text, captured_ts_ms
    FROM prices
    WHERE ticker = $1
      AND captured_ts_ms >= $2
      AND captured_ts_ms < $3
    ORDER BY captured_ts_ms;`

	countObservationsSQL = `SELECT COUNT(*) FROM prices;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceWriter is the single write path used by ingestion.
type PriceWriter interface {
	BulkInsert(ctx context.Context, observations []model.Observation) (int64, error)
}

// PriceReader serves the query shapes exposed over HTTP.
type PriceReader interface {
	ReadAll(ctx context.Context, ticker model.Ticker) ([]model.Observation, error)
	ReadLast(ctx context.Context, ticker model.Ticker) (model.Observation, error)
	ReadLastAtOrBefore(ctx context.Context, ticker model.Ticker, tsMs int64) (model.Observation, error)
}

// HistoryReader serves the CLI inspection commands.
type HistoryReader interface {
	ListRecent(ctx context.Context, ticker model.Ticker, limit int) ([]model.Observation, error)
	ListBetween(ctx context.Context, ticker model.Ticker, fromMs, toMs int64) ([]model.Observation, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store implements the price persistence contract on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the prices table and its indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// BulkInsert stores observations in one transaction, skipping any that
// collide with an existing (ticker, captured_ts_ms) pair. It returns the
// number of rows actually inserted.
func (s *Store) BulkInsert(ctx context.Context, observations []model.Observation) (int64, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tickers := make([]string, len(observations))
	prices := make([]string, len(observations))
	stamps := make([]int64, len(observations))
	for i, obs := range observations {
		tickers[i] = obs.Ticker.String()
		prices[i] = obs.Price.String()
		stamps[i] = obs.CapturedTsMs
	}

	var inserted int64
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, execErr := tx.Exec(ctx, bulkInsertSQL, tickers, prices, stamps)
		if execErr != nil {
			return execErr
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk insert prices: %w", err)
	}
	return inserted, nil
}

// ReadAll lists every observation for ticker, newest first.
func (s *Store) ReadAll(ctx context.Context, ticker model.Ticker) ([]model.Observation, error) {
	return s.list(ctx, "read all prices", readAllSQL, ticker)
}

// ReadLast returns the newest observation for ticker.
func (s *Store) ReadLast(ctx context.Context, ticker model.Ticker) (model.Observation, error) {
	return s.one(ctx, "read last price", readLastSQL, ticker)
}

// ReadLastAtOrBefore returns the newest observation captured at or before tsMs.
func (s *Store) ReadLastAtOrBefore(ctx context.Context, ticker model.Ticker, tsMs int64) (model.Observation, error) {
	return s.one(ctx, "read last price at time", readLastAtOrBeforeSQL, ticker, tsMs)
}

// ListRecent lists up to limit observations for ticker, newest first.
func (s *Store) ListRecent(ctx context.Context, ticker model.Ticker, limit int) ([]model.Observation, error) {
	return s.list(ctx, "list recent prices", listRecentSQL, ticker, limit)
}

// ListBetween lists observations captured in [fromMs, toMs), oldest first.
func (s *Store) ListBetween(ctx context.Context, ticker model.Ticker, fromMs, toMs int64) ([]model.Observation, error) {
	return s.list(ctx, "list prices between", listBetweenSQL, ticker, fromMs, toMs)
}

// CountObservations counts stored observations across all tickers.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count prices: %w", scanErr)
	}
	return count, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// The session lock dies with the connection, so drop it instead
			// of returning it to the pool still holding the lock.
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) one(ctx context.Context, op, query string, args ...any) (model.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Observation{}, err
	}

	obs, err := scanObservation(pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Observation{}, ErrNotFound
	}
	if err != nil {
		return model.Observation{}, fmt.Errorf("%s: %w", op, err)
	}
	return obs, nil
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]model.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	observations := make([]model.Observation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return observations, nil
}

func scanObservation(row pgx.Row) (model.Observation, error) {
	var (
		ticker   string
		priceStr string
		captured int64
	)
	if err := row.Scan(&ticker, &priceStr, &captured); err != nil {
		return model.Observation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return model.Observation{}, fmt.Errorf("parse price: %w", err)
	}

	return model.Observation{
		Ticker:       model.Ticker(ticker),
		Price:        price,
		CapturedTsMs: captured,
	}, nil
}

var (
	_ PriceWriter    = (*Store)(nil)
	_ PriceReader    = (*Store)(nil)
	_ HistoryReader  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
