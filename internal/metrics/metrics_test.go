package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New()

	c.ObserveRequest(true, 200)
	c.ObserveRequest(true, 200)
	c.ObserveRequest(false, 502)
	c.ObserveRefresh(nil)
	c.ObserveRefresh(errors.New("invalid_grant"))
	c.ObserveUpstream(true, time.Second, 3, nil)
	c.ObserveUpstream(false, time.Second, 2, errors.New("reset"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("stream", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("json", "502")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokenRefreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokenRefreshes.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamErrors))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.chunks))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.ObserveRequest(true, 200)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `codex_proxy_requests_total{mode="stream",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
