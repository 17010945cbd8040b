package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricefeed/pricefeed/internal/model"
	"github.com/pricefeed/pricefeed/internal/storage"
)

const priceNotFound = "Price not found"

type handlers struct {
	reader storage.PriceReader
	health Pinger
	logger zerolog.Logger
}

// priceRead is the wire shape of one observation.
type priceRead struct {
	Price        json.Number `json:"price"`
	CapturedTsMs int64       `json:"captured_ts_ms"`
}

type detail struct {
	Detail string `json:"detail"`
}

func toPriceRead(o model.Observation) priceRead {
	return priceRead{Price: json.Number(o.Price.String()), CapturedTsMs: o.CapturedTsMs}
}

func (h *handlers) allPrices(w http.ResponseWriter, r *http.Request) {
	ticker, ok := tickerParam(w, r)
	if !ok {
		return
	}
	rows, err := h.reader.ReadAll(r.Context(), ticker)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	out := make([]priceRead, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPriceRead(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) lastPrice(w http.ResponseWriter, r *http.Request) {
	ticker, ok := tickerParam(w, r)
	if !ok {
		return
	}
	row, err := h.reader.ReadLast(r.Context(), ticker)
	h.writeOne(w, r, row, err)
}

func (h *handlers) lastPriceAtTime(w http.ResponseWriter, r *http.Request) {
	ticker, ok := tickerParam(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("ts")
	if raw == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "query parameter ts is required")
		return
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "query parameter ts must be an integer")
		return
	}
	row, err := h.reader.ReadLastAtOrBefore(r.Context(), ticker, ts)
	h.writeOne(w, r, row, err)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

func (h *handlers) writeOne(w http.ResponseWriter, r *http.Request, row model.Observation, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeDetail(w, http.StatusNotFound, priceNotFound)
	case err != nil:
		h.internalError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, toPriceRead(row))
	}
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
	writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
}

func tickerParam(w http.ResponseWriter, r *http.Request) (model.Ticker, bool) {
	raw := r.URL.Query().Get("ticker")
	if raw == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "query parameter ticker is required")
		return "", false
	}
	ticker, err := model.ParseTicker(raw)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "unsupported ticker: "+raw)
		return "", false
	}
	return ticker, true
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detail{Detail: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
