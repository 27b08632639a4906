package pointserver

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/pointcloud-server/internal/httputil"
	"github.com/banshee-data/pointcloud-server/internal/metrics"
	"github.com/banshee-data/pointcloud-server/internal/monitoring"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
	"github.com/banshee-data/pointcloud-server/internal/provider"
	"github.com/banshee-data/pointcloud-server/internal/timeutil"
)

// Route paths.
const (
	PathHello           = "/hello"
	PathMeasurement     = "/measurement"
	PathStream          = "/measurementStream"
	PathStreamWebSocket = "/measurementStream/ws"
	PathMetrics         = "/metrics"
)

// HelloBody is the liveness probe response.
const HelloBody = "hello!"

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// router holds everything the handlers need. It is built per Handler call
// and never reads Server fields directly.
type router struct {
	provider      provider.Provider
	metrics       *metrics.Metrics
	clock         timeutil.Clock
	rate          func() int
	stop          func() <-chan struct{}
	state         func() State
	activeStreams *atomic.Int64
	writeTimeout  time.Duration
	upgrader      websocket.Upgrader
}

// Handler returns the server's routes wrapped in request logging. It can be
// mounted on any http.Server or httptest.Server; streams served outside
// Start/Stop end only when the request context does.
func (s *Server) Handler() http.Handler {
	rt := &router{
		provider:      s.provider,
		metrics:       s.metrics,
		clock:         s.clock,
		rate:          s.RefreshRate,
		stop:          s.stopChan,
		state:         s.State,
		activeStreams: &s.activeStreams,
		writeTimeout:  s.config.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// Consumers are tools on the local network, not browser pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	return LoggingMiddleware(s.metrics, rt.ServeMux())
}

// ServeMux registers the measurement, metrics and debug routes.
func (rt *router) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(PathHello, rt.handleHello)
	mux.HandleFunc(PathMeasurement, rt.handleMeasurement)
	mux.HandleFunc(PathStream, rt.handleStream)
	mux.HandleFunc(PathStreamWebSocket, rt.handleWebSocket)
	mux.Handle(PathMetrics, rt.metrics.Handler())
	rt.attachDebugRoutes(mux)
	return mux
}

func (rt *router) handleHello(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	httputil.WriteText(w, http.StatusOK, HelloBody)
}

func (rt *router) handleMeasurement(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}

	m, err := rt.provider.Latest()
	if err != nil {
		rt.metrics.SnapshotFailures.WithLabelValues(metrics.SkipUnavailable).Inc()
		httputil.BadRequest(w, fmt.Sprintf("couldn't get latest measurement: %v", err))
		return
	}
	payload, err := pointcloud.Encode(m)
	if err != nil {
		rt.metrics.SnapshotFailures.WithLabelValues(metrics.SkipEncoding).Inc()
		httputil.BadRequest(w, fmt.Sprintf("couldn't get latest measurement: %v", err))
		return
	}
	rt.metrics.EncodedBytes.Observe(float64(len(payload)))
	httputil.WriteBytes(w, http.StatusOK, pointcloud.ContentType, payload)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 100 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// routeLabel bounds the cardinality of the route metric label.
func routeLabel(path string) string {
	switch path {
	case PathHello, PathMeasurement, PathStream, PathStreamWebSocket, PathMetrics:
		return path
	}
	if strings.HasPrefix(path, "/debug/") {
		return "/debug/"
	}
	return "other"
}

// LoggingMiddleware logs method, path, status, and duration, and records
// them in m. Streams are logged when they end.
func LoggingMiddleware(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		elapsed := time.Since(start)
		route := routeLabel(r.URL.Path)
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(lrw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(elapsed.Nanoseconds())/1e6,
		)
	})
}
