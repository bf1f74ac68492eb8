package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersInstruments(t *testing.T) {
	m := New()
	m.EventsDelivered.Inc()
	m.EventsDelivered.Inc()
	m.InboundMessages.WithLabelValues("notification").Inc()
	m.QueueDepth.Set(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundMessages.WithLabelValues("notification")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := New()
	m.SendFailures.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "notification_relay_send_failures_total 1")
}
