// Package pointclient consumes a point cloud server: a liveness probe, a
// single snapshot fetch, and the NDJSON or websocket streams.
package pointclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/pointcloud-server/internal/httputil"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
)

var (
	// ErrNotPointServer is returned by Hello when the peer answers but is
	// not a point cloud server.
	ErrNotPointServer = errors.New("peer is not a point cloud server")
	// ErrNoMeasurement is returned by Snapshot when the server has nothing
	// to send yet.
	ErrNoMeasurement = errors.New("server has no measurement")
	// ErrStalled is returned by the stream readers when no record arrives
	// within the record timeout.
	ErrStalled = errors.New("stream stalled")
)

// DefaultRecordTimeout bounds the gap between two stream records.
const DefaultRecordTimeout = 2 * time.Second

// Client talks to one server.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
	dialer  *websocket.Dialer

	// RecordTimeout bounds the wait for each stream record. Zero disables it.
	RecordTimeout time.Duration
}

// New returns a client for the server at baseURL (e.g.
// "http://192.168.1.20:3000"). A nil hc uses a client without an overall
// timeout so streams are not cut short.
func New(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          hc,
		dialer:        websocket.DefaultDialer,
		RecordTimeout: DefaultRecordTimeout,
	}
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

// Hello probes /hello.
func (c *Client) Hello(ctx context.Context) error {
	resp, err := c.get(ctx, "/hello")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read hello response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || string(body) != "hello!" {
		return fmt.Errorf("%w: status %d, body %q", ErrNotPointServer, resp.StatusCode, body)
	}
	return nil
}

// Snapshot fetches the latest measurement.
func (c *Client) Snapshot(ctx context.Context) (*pointcloud.Measurement, error) {
	resp, err := c.get(ctx, "/measurement")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read measurement: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrNoMeasurement, strings.TrimSpace(string(body)))
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return pointcloud.Decode(body)
}

// Handler receives stream records. Returning an error ends the stream with
// that error.
type Handler func(*pointcloud.Measurement) error

// Stream reads /measurementStream and calls fn for every record until the
// server ends the stream (nil), ctx is done, fn fails, or a record is late.
func (c *Client) Stream(ctx context.Context, fn Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := c.get(ctx, "/measurementStream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	reader := pointcloud.NewStreamReader(resp.Body)
	return c.pump(ctx, fn, func() (*pointcloud.Measurement, error) {
		m, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, errEndOfStream
		}
		return m, err
	}, func() { resp.Body.Close() })
}

// StreamWebSocket is Stream over /measurementStream/ws. A close frame from
// the server ends the stream with nil.
func (c *Client) StreamWebSocket(ctx context.Context, fn Handler) error {
	u, err := url.Parse(c.baseURL + "/measurementStream/ws")
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", u, err)
	}
	defer conn.Close()

	err = c.pump(ctx, fn, func() (*pointcloud.Measurement, error) {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil, errEndOfStream
			}
			return nil, err
		}
		return pointcloud.Decode(payload)
	}, func() { conn.Close() })
	if err == nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	return err
}

var errEndOfStream = errors.New("end of stream")

type record struct {
	m   *pointcloud.Measurement
	err error
}

// pump runs next on its own goroutine so the record timeout and ctx can
// interrupt a blocked read; abort unblocks it.
func (c *Client) pump(ctx context.Context, fn Handler, next func() (*pointcloud.Measurement, error), abort func()) error {
	records := make(chan record)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			m, err := next()
			select {
			case records <- record{m: m, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var timer *time.Timer
	var timeout <-chan time.Time
	if c.RecordTimeout > 0 {
		timer = time.NewTimer(c.RecordTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			abort()
			return ctx.Err()
		case <-timeout:
			abort()
			return fmt.Errorf("%w: no record within %v", ErrStalled, c.RecordTimeout)
		case rec := <-records:
			if errors.Is(rec.err, errEndOfStream) {
				return nil
			}
			if rec.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return rec.err
			}
			if err := fn(rec.m); err != nil {
				abort()
				return err
			}
			if timer != nil {
				timer.Reset(c.RecordTimeout)
			}
		}
	}
}
