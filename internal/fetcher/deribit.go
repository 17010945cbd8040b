package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pricefeed/pricefeed/internal/model"
)

const (
	defaultBaseURL     = "https://www.deribit.com/api/v2"
	defaultEndpoint    = "public/get_index_price"
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 10
	excerptLimit       = 200
)

// maxPrice is the exclusive upper bound of the NUMERIC(20,10) price column.
var maxPrice = decimal.New(1, 10)

// Options parameterise the Deribit index price client.
type Options struct {
	BaseURL     string
	Endpoint    string
	Timeout     time.Duration
	Concurrency int
	UserAgent   string
	// Now stamps observations; defaults to time.Now.
	Now func() time.Time
}

// Deribit fetches index prices from the Deribit public API.
type Deribit struct {
	logger   zerolog.Logger
	client   *resty.Client
	endpoint string
	permits  *semaphore.Weighted
	now      func() time.Time
}

// NewDeribit constructs a client. The caller owns it and must call Close.
func NewDeribit(opts Options, logger zerolog.Logger) *Deribit {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	endpoint := strings.TrimLeft(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "pricefeed/1.0"
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua)

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Deribit{
		logger:   logger.With().Str("component", "deribit_fetcher").Logger(),
		client:   client,
		endpoint: baseURL + "/" + endpoint,
		permits:  semaphore.NewWeighted(int64(concurrency)),
		now:      now,
	}
}

// Close releases pooled connections held by the client.
func (d *Deribit) Close() {
	if d == nil || d.client == nil {
		return
	}
	d.client.GetClient().CloseIdleConnections()
}

// Endpoint returns the fully qualified index price URL.
func (d *Deribit) Endpoint() string {
	return d.endpoint
}

// FetchOne retrieves the index price for a single ticker.
func (d *Deribit) FetchOne(ctx context.Context, raw string) (model.Observation, error) {
	ticker, err := model.ParseTicker(raw)
	if err != nil {
		return model.Observation{}, err
	}

	if err := d.permits.Acquire(ctx, 1); err != nil {
		return model.Observation{}, d.failure(ticker, model.KindUnavailable, 0, nil, fmt.Errorf("acquire permit: %w", err))
	}
	defer d.permits.Release(1)

	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("index_name", ticker.IndexName()).
		Get(d.endpoint)
	if err != nil {
		return model.Observation{}, d.failure(ticker, model.KindUnavailable, 0, nil, fmt.Errorf("request failed: %w", err))
	}
	receivedAt := d.now()

	status := resp.StatusCode()
	body := resp.Body()
	switch {
	case status == http.StatusTooManyRequests:
		return model.Observation{}, d.failure(ticker, model.KindRateLimited, status, body, errors.New("rate limited"))
	case status >= 500 && status <= 599:
		return model.Observation{}, d.failure(ticker, model.KindUnavailable, status, body, errors.New("server error"))
	case status >= 400:
		return model.Observation{}, d.failure(ticker, model.KindBadResponse, status, body, errors.New("client error"))
	}

	price, err := parseIndexPrice(resp.Header().Get("Content-Type"), body)
	if err != nil {
		return model.Observation{}, d.failure(ticker, model.KindBadResponse, status, body, err)
	}

	d.logger.Debug().
		Str("ticker", ticker.String()).
		Str("price", price.String()).
		Msg("index price fetched")

	return model.Observation{
		Ticker:       ticker,
		Price:        price,
		CapturedTsMs: receivedAt.UnixMilli(),
	}, nil
}

// FetchMany fetches every ticker concurrently and fails as a whole on the
// first error. Results follow the input order.
func (d *Deribit) FetchMany(ctx context.Context, tickers []string) ([]model.Observation, error) {
	for _, raw := range tickers {
		if _, err := model.ParseTicker(raw); err != nil {
			return nil, err
		}
	}

	results := make([]model.Observation, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range tickers {
		i, raw := i, raw // per-iteration copies; go directive is below 1.22
		g.Go(func() error {
			obs, err := d.FetchOne(gctx, raw)
			if err != nil {
				return err
			}
			results[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Deribit) failure(ticker model.Ticker, kind model.Kind, status int, body []byte, cause error) error {
	return &model.Error{
		Kind:     kind,
		Ticker:   ticker.String(),
		Endpoint: d.endpoint,
		Status:   status,
		Excerpt:  model.Excerpt(body, excerptLimit),
		Err:      cause,
	}
}

type indexPriceResponse struct {
	Result *struct {
		IndexPrice json.RawMessage `json:"index_price"`
	} `json:"result"`
	Error json.RawMessage `json:"error"`
}

func parseIndexPrice(contentType string, body []byte) (decimal.Decimal, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !(mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")) {
		return decimal.Decimal{}, fmt.Errorf("expected JSON response, got content-type %q", contentType)
	}

	var payload indexPriceResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode response: %w", err)
	}

	if present(payload.Error) {
		return decimal.Decimal{}, fmt.Errorf("provider returned error payload: %s", model.Excerpt(payload.Error, excerptLimit))
	}

	if payload.Result == nil || !present(payload.Result.IndexPrice) {
		return decimal.Decimal{}, errors.New("missing result.index_price")
	}

	raw := bytes.TrimSpace(payload.Result.IndexPrice)
	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, fmt.Errorf("invalid price value %s: %w", raw, err)
		}
	}

	price, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid price value %s: %w", raw, err)
	}
	if price.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("price must be positive, got %s", price.String())
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return decimal.Decimal{}, fmt.Errorf("price %s exceeds storable range", price.String())
	}
	return price, nil
}

// present mirrors JSON truthiness: null, false, 0, "" and empty containers
// count as absent.
func present(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`, "{}", "[]":
		return false
	default:
		return true
	}
}

var _ PriceFetcher = (*Deribit)(nil)
