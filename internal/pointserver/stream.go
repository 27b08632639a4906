package pointserver

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/pointcloud-server/internal/httputil"
	"github.com/banshee-data/pointcloud-server/internal/metrics"
	"github.com/banshee-data/pointcloud-server/internal/monitoring"
	"github.com/banshee-data/pointcloud-server/internal/pacer"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
)

// Stream transports, used as the StreamsOpened label.
const (
	TransportNDJSON    = "ndjson"
	TransportWebSocket = "websocket"
)

// handleStream writes one newline-terminated record per pacer cycle until
// the server stops, the client goes away, or a write fails.
func (rt *router) handleStream(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	id := uuid.NewString()
	w.Header().Set("Content-Type", pointcloud.StreamContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	flusher.Flush()

	done := rt.openStream(id, TransportNDJSON, r)
	sw := pointcloud.NewStreamWriter(w)
	p := pacer.New(rt.clock, rt.rate)
	var records uint64

	p.Run(r.Context(), rt.stop(), func() bool {
		start := rt.clock.Now()
		defer func() { rt.metrics.StreamWorkDuration.Observe(rt.clock.Since(start).Seconds()) }()

		payload, ok := rt.nextRecord(id)
		if !ok {
			return true
		}
		if err := sw.WriteRecord(payload); err != nil {
			logf("Stream %s: client gone: %v", id, err)
			return false
		}
		flusher.Flush()
		records++
		rt.metrics.StreamRecords.Inc()
		return true
	})

	done(p.Stats(), records)
}

// handleWebSocket runs the same paced loop as handleStream, sending each
// record as one text message.
func (rt *router) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only detects the peer going away; control frames are
	// answered by the default handlers.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	done := rt.openStream(id, TransportWebSocket, r)
	stop := rt.stop()
	p := pacer.New(rt.clock, rt.rate)
	var records uint64

	p.Run(ctx, stop, func() bool {
		start := rt.clock.Now()
		defer func() { rt.metrics.StreamWorkDuration.Observe(rt.clock.Since(start).Seconds()) }()

		payload, ok := rt.nextRecord(id)
		if !ok {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(rt.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logf("Stream %s: client gone: %v", id, err)
			return false
		}
		records++
		rt.metrics.StreamRecords.Inc()
		return true
	})

	select {
	case <-stop:
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			monitoring.Debugf("[PointServer] stream %s: close frame: %v", id, err)
		}
	default:
	}

	done(p.Stats(), records)
}

// nextRecord fetches and encodes the latest measurement. A failure skips
// the cycle; the stream keeps going.
func (rt *router) nextRecord(id string) ([]byte, bool) {
	m, err := rt.provider.Latest()
	if err != nil {
		monitoring.Debugf("[PointServer] stream %s: skipping cycle: %v", id, err)
		rt.metrics.StreamCyclesSkipped.WithLabelValues(metrics.SkipUnavailable).Inc()
		return nil, false
	}
	payload, err := pointcloud.Encode(m)
	if err != nil {
		monitoring.Debugf("[PointServer] stream %s: skipping cycle: %v", id, err)
		rt.metrics.StreamCyclesSkipped.WithLabelValues(metrics.SkipEncoding).Inc()
		return nil, false
	}
	rt.metrics.EncodedBytes.Observe(float64(len(payload)))
	return payload, true
}

// openStream counts a new stream and returns the function that closes the
// books on it.
func (rt *router) openStream(id, transport string, r *http.Request) func(pacer.Stats, uint64) {
	rt.activeStreams.Add(1)
	rt.metrics.ActiveStreams.Inc()
	rt.metrics.StreamsOpened.WithLabelValues(transport).Inc()
	logf("Stream %s opened (%s) from %s at %d Hz", id, transport, r.RemoteAddr, rt.rate())

	return func(stats pacer.Stats, records uint64) {
		rt.activeStreams.Add(-1)
		rt.metrics.ActiveStreams.Dec()
		rt.metrics.StreamOverruns.Add(float64(stats.Overruns))
		logf("Stream %s closed: %d records in %d cycles, %d overruns", id, records, stats.Cycles, stats.Overruns)
	}
}
