// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vodgate/internal/metrics"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestIncTokenEvent(t *testing.T) {
	c := metrics.TokenEvents.WithLabelValues("consume", "used")
	before := counterValue(t, c)
	metrics.IncTokenEvent("consume", "used")
	assert.Equal(t, before+1, counterValue(t, c))
}

func TestObserveRendition(t *testing.T) {
	c := metrics.TranscodeAttempts.WithLabelValues("720p", "ok")
	before := counterValue(t, c)
	metrics.ObserveRendition("720p", "ok", 3*time.Second)
	assert.Equal(t, before+1, counterValue(t, c))
}

func TestPromhttpExposure(t *testing.T) {
	metrics.IncProbe(false)

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `vodgate_probe_total{outcome="failed"}`))
}
