package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/loader"
	"github.com/dagu-org/rangeload/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveLoad(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	r := metrics.NewRecorder(registry)
	started := time.Date(2015, 1, 7, 1, 0, 0, 0, time.UTC)

	r.ObserveLoad("Orders", "orders", &loader.Result{
		RowsLoaded: 12,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}, nil)
	r.ObserveLoad("Orders", "orders", &loader.Result{Duplicate: true, StartedAt: started, FinishedAt: started}, nil)
	r.ObserveLoad("Orders", "orders", nil, fmt.Errorf("%w: boom", core.ErrSource))

	labels := map[string]string{"family": "Orders", "table": "orders"}
	assert.Equal(t, 1.0, metricValue(t, registry, "rangeload_loads_total", with(labels, "outcome", "loaded")))
	assert.Equal(t, 1.0, metricValue(t, registry, "rangeload_loads_total", with(labels, "outcome", "duplicate")))
	assert.Equal(t, 1.0, metricValue(t, registry, "rangeload_loads_total", with(labels, "outcome", "failed")))
	assert.Equal(t, 12.0, metricValue(t, registry, "rangeload_rows_loaded_total", labels))
	assert.Equal(t, 1.0, metricValue(t, registry, "rangeload_load_failures_total", with(labels, "class", "source")))
}

func TestRecorder_ObservePass(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	r := metrics.NewRecorder(registry)

	r.ObservePass("Orders", "orders", 5, 4, time.Millisecond, nil)
	r.ObservePass("Orders", "orders", 5, 0, time.Millisecond, core.ErrConnection)

	labels := map[string]string{"family": "Orders", "table": "orders"}
	assert.Equal(t, 4.0, metricValue(t, registry, "rangeload_missing_instances", labels))
	assert.Equal(t, 1.0, metricValue(t, registry, "rangeload_existence_passes_total", with(labels, "result", "ok")))
	assert.Equal(t, 1.0, metricValue(t, registry, "rangeload_existence_passes_total", with(labels, "result", "error")))
}

func with(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

// metricValue returns the counter or gauge value of the series of name whose
// labels equal labels exactly.
func metricValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			if !reflect.DeepEqual(got, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func TestRecorder_Nil(t *testing.T) {
	t.Parallel()
	var r *metrics.Recorder
	assert.NotPanics(t, func() {
		r.ObserveLoad("Orders", "orders", &loader.Result{}, nil)
		r.ObservePass("Orders", "orders", 1, 1, time.Second, nil)
	})
}

func TestErrorClass(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", core.ErrConnection), "connection"},
		{core.ErrConflict, "conflict"},
		{core.ErrSource, "source"},
		{core.ErrSchema, "schema"},
		{core.ErrInvalidConfig, "config"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, metrics.ErrorClass(tt.err))
		})
	}
}

func TestServer_Handler(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	metrics.NewRecorder(registry).ObservePass("Orders", "orders", 3, 1, time.Millisecond, nil)

	srv := httptest.NewServer(metrics.NewServer("", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `rangeload_missing_instances{family="Orders",table="orders"} 1`)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	disabled := metrics.NewServer("", prometheus.NewRegistry())
	require.NoError(t, disabled.Start(ctx))
	assert.Empty(t, disabled.Addr())
	require.NoError(t, disabled.Stop(ctx))

	srv := metrics.NewServer("127.0.0.1:0", prometheus.NewRegistry())
	require.NoError(t, srv.Start(ctx))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(ctx))
}
