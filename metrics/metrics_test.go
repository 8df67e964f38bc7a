package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOutcome("subscribe", "thank_you")
	c.RecordOutcome("subscribe", "thank_you")
	c.RecordCacheLookup("topics", true)
	c.RecordCacheLookup("topics", false)
	c.RecordCacheEviction("topics", 2)
	c.RecordCacheEviction("topics", 0)
	c.RecordDispatch("failed")
	c.RecordAuditDrop("subs_log")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.outcomes.WithLabelValues("subscribe", "thank_you")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("topics", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lookups.WithLabelValues("topics", "miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.evictions.WithLabelValues("topics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatch.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.drops.WithLabelValues("subs_log")))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordDispatch("sent")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `xnotify_dispatch_total{result="sent"} 1`)
}
