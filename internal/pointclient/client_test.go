package pointclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointcloud-server/internal/httputil"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
	"github.com/banshee-data/pointcloud-server/internal/pointserver"
	"github.com/banshee-data/pointcloud-server/internal/provider"
	"github.com/banshee-data/pointcloud-server/internal/testutil"
)

func TestMain(m *testing.M) {
	testutil.SilenceLogs()
	os.Exit(m.Run())
}

var cloud = testutil.FullChannels()

func newServer(t *testing.T, prov provider.Provider, hz int) *httptest.Server {
	t.Helper()
	s := pointserver.New(pointserver.Config{Provider: prov, RefreshRateHz: hz})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHello(t *testing.T) {
	t.Parallel()

	ts := newServer(t, provider.Static{}, 50)
	assert.NoError(t, New(ts.URL, nil).Hello(context.Background()))
}

func TestHello_WrongPeer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "wrong body", status: http.StatusOK, body: "<html>router login</html>"},
		{name: "not found", status: http.StatusNotFound, body: "404 page not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := httputil.NewMockHTTPClient().AddResponse(tt.status, tt.body)
			err := New("http://phone.local:3000/", mock).Hello(context.Background())
			assert.ErrorIs(t, err, ErrNotPointServer)
			assert.Equal(t, "http://phone.local:3000/hello", mock.Request(0).URL.String())
		})
	}
}

func TestHello_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	mock := httputil.NewMockHTTPClient().AddErrorResponse(boom)
	err := New("http://phone.local:3000", mock).Hello(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	ts := newServer(t, provider.Static{M: cloud}, 50)
	m, err := New(ts.URL, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Equal(cloud))
}

func TestSnapshot_Unavailable(t *testing.T) {
	t.Parallel()

	ts := newServer(t, provider.Static{}, 50)
	_, err := New(ts.URL, nil).Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoMeasurement)
	assert.Contains(t, err.Error(), "couldn't get latest measurement")
}

func TestSnapshot_Errors(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusInternalServerError, "boom").
		AddResponse(http.StatusOK, `{"size":2,"points":[[1,2,3]]}`)
	c := New("http://phone.local:3000", mock)

	_, err := c.Snapshot(context.Background())
	assert.ErrorContains(t, err, "unexpected status 500")

	_, err = c.Snapshot(context.Background())
	assert.ErrorIs(t, err, pointcloud.ErrDecoding)
}

func TestStream(t *testing.T) {
	t.Parallel()

	ts := newServer(t, provider.Static{M: cloud}, 100)
	c := New(ts.URL, nil)

	stopAfter := errors.New("enough")
	var got []*pointcloud.Measurement
	err := c.Stream(context.Background(), func(m *pointcloud.Measurement) error {
		got = append(got, m)
		if len(got) == 3 {
			return stopAfter
		}
		return nil
	})
	assert.ErrorIs(t, err, stopAfter)
	require.Len(t, got, 3)
	for _, m := range got {
		assert.True(t, m.Equal(cloud))
	}
}

func TestStream_ContextCancel(t *testing.T) {
	t.Parallel()

	ts := newServer(t, provider.Static{M: cloud}, 100)
	ctx, cancel := context.WithCancel(context.Background())

	var n atomic.Int32
	err := New(ts.URL, nil).Stream(ctx, func(*pointcloud.Measurement) error {
		if n.Add(1) == 2 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_Stalled(t *testing.T) {
	t.Parallel()

	// Nothing is ever available, so the server skips every cycle.
	ts := newServer(t, provider.Static{}, 50)
	c := New(ts.URL, nil)
	c.RecordTimeout = 100 * time.Millisecond

	start := time.Now()
	err := c.Stream(context.Background(), func(*pointcloud.Measurement) error { return nil })
	assert.ErrorIs(t, err, ErrStalled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStream_EndedByServer(t *testing.T) {
	t.Parallel()

	// A server that writes two records and finishes the response.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := pointcloud.Encode(cloud)
		sw := pointcloud.NewStreamWriter(w)
		sw.WriteRecord(payload)
		sw.WriteRecord(payload)
	}))
	defer ts.Close()

	var n int
	err := New(ts.URL, nil).Stream(context.Background(), func(*pointcloud.Measurement) error {
		n++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStreamWebSocket(t *testing.T) {
	t.Parallel()

	ts := newServer(t, provider.Static{M: cloud}, 100)

	stopAfter := errors.New("enough")
	var n int
	err := New(ts.URL, nil).StreamWebSocket(context.Background(), func(m *pointcloud.Measurement) error {
		assert.True(t, m.Equal(cloud))
		n++
		if n == 3 {
			return stopAfter
		}
		return nil
	})
	assert.ErrorIs(t, err, stopAfter)
	assert.Equal(t, 3, n)
}
