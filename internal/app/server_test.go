package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-engine/internal/metrics"
	"algo-engine/internal/monitor"
	"algo-engine/internal/strategy"
)

type fakeLister struct {
	gotType  monitor.EventType
	gotLimit int
}

func (l *fakeLister) ListEvents(_ context.Context, eventType monitor.EventType, limit int) ([]monitor.Event, error) {
	l.gotType = eventType
	l.gotLimit = limit
	return []monitor.Event{{Type: eventType, Payload: map[string]string{"symbol": testSymbol}}}, nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *fakeLister) {
	t.Helper()
	f := newFixture(t)
	lister := &fakeLister{}
	mux := newMux(serverDeps{
		Events:   lister,
		Risk:     f.risk,
		Engine:   f.engine,
		Registry: strategy.NewRegistry(nil),
		Metrics:  metrics.New(),
	}, nil)
	return mux, lister
}

func serve(mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_Events(t *testing.T) {
	mux, lister := newTestMux(t)

	rec := serve(mux, "/events?type=signal&limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, monitor.EventSignal, lister.gotType)
	assert.Equal(t, maxEventLimit, lister.gotLimit)

	rec = serve(mux, "/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultEventLimit, lister.gotLimit)

	rec = serve(mux, "/events?type=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RiskAndStrategies(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := serve(mux, "/risk")
	require.Equal(t, http.StatusOK, rec.Code)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report, "portfolio_metrics")
	assert.Contains(t, report, "daily_metrics")

	rec = serve(mux, "/strategies")
	require.Equal(t, http.StatusOK, rec.Code)
	var perf []strategy.Performance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perf))
	require.Len(t, perf, 1)
	assert.Equal(t, "fake", perf[0].Name)

	rec = serve(mux, "/options/catalog")
	require.Equal(t, http.StatusOK, rec.Code)
	var catalog []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	assert.NotEmpty(t, catalog)
}

func TestServer_SummaryDisabled(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := serve(mux, "/risk/summary")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := serve(mux, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_OptionsDefinition(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := serve(mux, "/options/definition?type=iron_condor&spot=1000&vol=0.2")
	require.Equal(t, http.StatusOK, rec.Code)
	var def map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.Contains(t, def, "probability_of_profit")
	assert.Contains(t, def, "greeks")
	assert.Len(t, def["legs"], 4)
	greeks, ok := def["greeks"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, greeks, "delta")
	assert.Contains(t, greeks, "vega")

	assert.Equal(t, http.StatusNotFound, serve(mux, "/options/definition?type=collar&spot=1000").Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, "/options/definition?type=straddle").Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, "/options/definition?type=straddle&spot=-5").Code)
}
