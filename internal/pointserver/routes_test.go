package pointserver

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointcloud-server/internal/metrics"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
	"github.com/banshee-data/pointcloud-server/internal/provider"
	"github.com/banshee-data/pointcloud-server/internal/testutil"
)

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	return testutil.Serve(s.Handler(), method, path)
}

func TestHello(t *testing.T) {
	t.Parallel()

	// /hello does not depend on the provider.
	s := New(Config{})
	rec := serve(s, http.MethodGet, PathHello)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HelloBody, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := New(Config{Provider: provider.Static{M: threePoints}})
	for _, path := range []string{PathHello, PathMeasurement, PathStream, PathStreamWebSocket} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			rec := serve(s, method, path)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", method, path)
			assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
		}
	}
}

func TestMeasurement_ThreePoints(t *testing.T) {
	t.Parallel()

	s := New(Config{Provider: provider.Static{M: threePoints}})
	rec := serve(s, http.MethodGet, PathMeasurement)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pointcloud.ContentType, rec.Header().Get("Content-Type"))

	want, err := pointcloud.Encode(threePoints)
	require.NoError(t, err)
	assert.Equal(t, string(want), rec.Body.String())

	m, err := pointcloud.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, m.Equal(threePoints))
}

func TestMeasurement_ZeroPoints(t *testing.T) {
	t.Parallel()

	s := New(Config{Provider: provider.Static{M: pointcloud.MustNew(nil, nil, nil)}})
	rec := serve(s, http.MethodGet, PathMeasurement)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"size":0,"hasColor":false,"hasValue":false,"points":[]}`, rec.Body.String())
}

func TestMeasurement_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		provider   provider.Provider
		wantReason string
		wantCause  string
	}{
		{
			name:       "unavailable",
			provider:   provider.Static{},
			wantReason: metrics.SkipUnavailable,
			wantCause:  provider.ErrUnavailable.Error(),
		},
		{
			name:       "encoding",
			provider:   provider.Static{M: pointcloud.MustNew([]pointcloud.Point{{X: math.Inf(1)}}, nil, nil)},
			wantReason: metrics.SkipEncoding,
			wantCause:  pointcloud.ErrEncoding.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := New(Config{Provider: tt.provider})
			rec := serve(s, http.MethodGet, PathMeasurement)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
			assert.True(t, strings.HasPrefix(rec.Body.String(), "couldn't get latest measurement: "), rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.wantCause)
			assert.Equal(t, 1.0, promtest.ToFloat64(s.Metrics().SnapshotFailures.WithLabelValues(tt.wantReason)))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	h := LoggingMiddleware(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathMeasurement, nil))

	assert.True(t, rec.Flushed, "Flush must reach the underlying writer")
	assert.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequests.WithLabelValues(PathMeasurement, "418")))
}

func TestRouteLabel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		PathHello:            PathHello,
		PathStream:           PathStream,
		PathStreamWebSocket:  PathStreamWebSocket,
		"/debug/cloud":       "/debug/",
		"/favicon.ico":       "other",
		"/measurement/extra": "other",
		"/../etc/passwd":     "other",
	}
	for path, want := range tests {
		assert.Equal(t, want, routeLabel(path), path)
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	s := New(Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + PathHello)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + PathMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `pointcloud_http_requests_total{code="200",route="/hello"} 1`)
}
