package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Decisions.WithLabelValues("allow", "not_guarded").Inc()
	m.Decisions.WithLabelValues("allow", "not_guarded").Inc()
	m.Decisions.WithLabelValues("challenge", "challenge").Inc()
	m.TokensIssued.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("allow", "not_guarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("challenge", "challenge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensIssued))
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.RateLimited.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RateLimited))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RateLimited))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetVersion("1.2.3")
	m.Submissions.WithLabelValues("async", "rejected").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `checkoutgate_build_info{version="1.2.3"} 1`)
	assert.Contains(t, string(body), `checkoutgate_submission_total{outcome="rejected",protocol="async"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
