package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", 200)
	m.ObserveRequest("GET", 200)
	m.ObserveRequest("GET", 401)
	m.ObserveRefresh(RefreshSuccess)
	m.ObserveUnauthorized()
	m.ObserveNetworkFailure()
	m.ObserveTransition("Authenticated")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues(RefreshSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unauthorized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.networkFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateTransitions.WithLabelValues("Authenticated")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", 200)
		m.ObserveRefresh(RefreshFailure)
		m.ObserveUnauthorized()
		m.ObserveNetworkFailure()
		m.ObserveTransition("Loading")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveUnauthorized()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "noblelift_client_unauthorized_total 1")
}
