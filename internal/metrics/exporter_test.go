package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthz(t *testing.T) {
	healthy := true
	e := NewExporter(":0", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("database unavailable")
	})

	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	e.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unavailable")
}

func TestMetricsEndpoint(t *testing.T) {
	ActionsRecorded.WithLabelValues("bans").Inc()

	e := NewExporter(":0", nil)
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nukeguard_actions_recorded_total{action="bans"}`)
}
