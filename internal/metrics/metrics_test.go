package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_EngineCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDecision("allowed")
	m.ObserveDecision("allowed")
	m.ObserveDecision("fail_open")
	m.IncFailedAttempts()
	m.IncLockout(models.LockLevelAccount)
	m.IncIPBan(models.BlacklistTypeAuto)
	m.IncStoreError("check_attempts")
	m.AddSweepDeleted("attempts", 7)
	m.ObserveRiskScore(55)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkDecisions.WithLabelValues("allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkDecisions.WithLabelValues("fail_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failedAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockouts.WithLabelValues("account")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ipBans.WithLabelValues("auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues("check_attempts")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sweepDeleted.WithLabelValues("attempts")))
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Delete("/v1/admin/ip-blacklist/{ip}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/metrics", m.Handler().ServeHTTP)

	req := httptest.NewRequest(http.MethodDelete, "/v1/admin/ip-blacklist/1.2.3.4", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.httpRequests.WithLabelValues(http.MethodDelete, "/v1/admin/ip-blacklist/{ip}", "204")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "loginguard_http_requests_total"))
}

type fakePool struct{ acquired, idle, total, max int32 }

func (p fakePool) AcquiredConns() int32 { return p.acquired }
func (p fakePool) IdleConns() int32     { return p.idle }
func (p fakePool) TotalConns() int32    { return p.total }
func (p fakePool) MaxConns() int32      { return p.max }

func TestMetrics_RegisterPoolReadsOnScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	current := fakePool{acquired: 1, idle: 4, total: 5, max: 25}
	m.RegisterPool(func() PoolStats { return current })

	current.acquired = 3

	body := scrape(t, m)
	assert.Contains(t, body, "loginguard_db_pool_acquired_conns 3")
	assert.Contains(t, body, "loginguard_db_pool_max_conns 25")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
