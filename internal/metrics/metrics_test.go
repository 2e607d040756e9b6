package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveNilReceiverIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Observe("udp", "myip", "NOERROR", time.Millisecond)
	})
}

func TestObserveExposedViaHandler(t *testing.T) {
	r := New()
	r.Observe("udp", "myip", "NOERROR", 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "dnssrc_queries_total"))
	assert.True(t, strings.Contains(body, "dnssrc_request_duration_seconds"))
}
