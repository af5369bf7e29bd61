package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector(1500 * time.Millisecond)
	assert.Equal(t, 1.5, testutil.ToFloat64(c.TickInterval))

	c.JourneysStarted.WithLabelValues("airport").Inc()
	c.Ticks.Add(3)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.JourneysStarted.WithLabelValues("airport")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Ticks))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "notiapp_journey_ticks_total 3"), body)
}
