package bagel_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/bageldb/libraries/pkg/bagel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Interceptors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := bagel.NewMetrics(reg)
	ctx := context.Background()

	onRequest := bagel.MetricsRequestInterceptor(metrics)
	onResponse := bagel.MetricsResponseInterceptor(metrics)

	for _, resp := range []*bagel.Response{
		{StatusCode: http.StatusOK},
		{StatusCode: http.StatusOK},
		{Error: bagel.ErrTransport},
	} {
		req := &bagel.Request{Method: http.MethodGet, Path: "/collection/articles/items"}

		require.NoError(t, onRequest(ctx, req))
		assert.Contains(t, req.Metadata, "start_time")
		require.NoError(t, onResponse(ctx, req, resp))
	}

	expected := `
# HELP bagel_client_requests_total Requests sent by the SDK, by method and status code.
# TYPE bagel_client_requests_total counter
bagel_client_requests_total{code="200",method="GET"} 2
bagel_client_requests_total{code="error",method="GET"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bagel_client_requests_total"))

	count, err := testutil.GatherAndCount(reg, "bagel_client_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_RefreshAndReconnect(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := bagel.NewMetrics(reg)

	metrics.ObserveRefresh(nil)
	metrics.ObserveRefresh(errors.New("rejected"))
	metrics.ObserveRefresh(nil)
	metrics.ObserveReconnect("stop")

	expected := `
# HELP bagel_session_token_refreshes_total Access token refreshes, by result.
# TYPE bagel_session_token_refreshes_total counter
bagel_session_token_refreshes_total{result="failure"} 1
bagel_session_token_refreshes_total{result="success"} 2
# HELP bagel_stream_reconnects_total Live stream reconnects, by reason.
# TYPE bagel_stream_reconnects_total counter
bagel_stream_reconnects_total{reason="stop"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"bagel_session_token_refreshes_total", "bagel_stream_reconnects_total"))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *bagel.Metrics

	assert.NotPanics(t, func() {
		metrics.ObserveRefresh(nil)
		metrics.ObserveReconnect("error")

		req := &bagel.Request{}
		_ = bagel.MetricsRequestInterceptor(metrics)(context.Background(), req)
		_ = bagel.MetricsResponseInterceptor(metrics)(context.Background(), req, &bagel.Response{})
	})
}
