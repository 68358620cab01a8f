package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

type fakeSnapshotSink struct {
	samples  []domain.MetricsSample
	lastOpts domain.ListOpts
}

func (f *fakeSnapshotSink) WriteSnapshot(context.Context, domain.MetricsSample) error {
	return nil
}

func (f *fakeSnapshotSink) WriteSnapshotBatch(context.Context, []domain.MetricsSample) error {
	return nil
}

func (f *fakeSnapshotSink) ListSnapshots(_ context.Context, symbol string, opts domain.ListOpts) ([]domain.MetricsSample, error) {
	f.lastOpts = opts
	var out []domain.MetricsSample
	for _, s := range f.samples {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSnapshotSink) Count(context.Context) (int64, error) {
	return int64(len(f.samples)), nil
}

func TestHealthCheckOK(t *testing.T) {
	h := NewHealthHandler(func() (bool, map[string]any) {
		return true, map[string]any{"BTCUSDT": "Live"}
	}, slog.Default())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthCheckDegraded(t *testing.T) {
	h := NewHealthHandler(func() (bool, map[string]any) {
		return false, map[string]any{"BTCUSDT": "Stale"}
	}, slog.Default())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.NotNil(t, body["detail"])
}

func TestListSnapshotsRequiresSymbol(t *testing.T) {
	h := NewSnapshotHandler(&fakeSnapshotSink{}, slog.Default())

	rec := httptest.NewRecorder()
	h.ListSnapshots(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSnapshotsParsesQuery(t *testing.T) {
	sink := &fakeSnapshotSink{samples: []domain.MetricsSample{
		{Symbol: "BTCUSDT"},
		{Symbol: "BTCUSDT"},
		{Symbol: "ETHUSDT"},
	}}
	h := NewSnapshotHandler(sink, slog.Default())

	url := "/api/snapshots?symbol=BTCUSDT&limit=10&offset=5&since=2026-08-24T00:00:00Z"
	rec := httptest.NewRecorder()
	h.ListSnapshots(rec, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, sink.lastOpts.Limit)
	assert.Equal(t, 5, sink.lastOpts.Offset)
	require.NotNil(t, sink.lastOpts.Since)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), *sink.lastOpts.Since)

	var body struct {
		Symbol string `json:"symbol"`
		Count  int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTCUSDT", body.Symbol)
	assert.Equal(t, 2, body.Count)
}

func TestParseListOptsCapsLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/snapshots?limit=99999", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)

	r = httptest.NewRequest(http.MethodGet, "/api/snapshots?limit=-3&offset=-1", nil)
	opts = parseListOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}
