package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestMonitor_CheckHealth(t *testing.T) {
	tests := []struct {
		name     string
		database Checker
		redis    Checker
		want     SystemStatus
	}{
		{"all healthy", ok, ok, StatusHealthy},
		{"optional dependency down", ok, failing, StatusDegraded},
		{"critical dependency down", failing, ok, StatusCritical},
		{"everything down", failing, failing, StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(0)
			m.Register("database", tt.database, true)
			m.Register("redis", tt.redis, false)

			report := m.CheckHealth(context.Background())
			assert.Equal(t, tt.want, report.SystemStatus)
			require.Len(t, report.Components, 2)
		})
	}
}

func TestMonitor_ReportsError(t *testing.T) {
	m := NewMonitor(0)
	m.Register("redis", failing, false)

	h := m.CheckHealth(context.Background()).Components["redis"]
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, "connection refused", h.Error)
}

func TestServer_Endpoints(t *testing.T) {
	m := NewMonitor(0)
	m.Register("database", failing, true)
	srv := httptest.NewServer(NewServer(m, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "critical", body["status"])

	detailed, err := http.Get(srv.URL + "/health/detailed")
	require.NoError(t, err)
	defer detailed.Body.Close()
	var report HealthReport
	require.NoError(t, json.NewDecoder(detailed.Body).Decode(&report))
	assert.Equal(t, StatusCritical, report.Components["database"].Status)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}
