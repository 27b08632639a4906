// Package testutil provides shared test fixtures for the server and client
// packages.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/pointcloud-server/internal/monitoring"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
)

// ThreePoints returns the reference three-point cloud with no optional
// channels.
func ThreePoints() *pointcloud.Measurement {
	return pointcloud.MustNew([]pointcloud.Point{
		{X: 0.1, Y: 0.2, Z: 0.3},
		{X: -1.5, Y: 2.25, Z: 0},
		{X: 3, Y: -4, Z: 5.125},
	}, nil, nil)
}

// TwoPoints returns a small cloud distinct from ThreePoints.
func TwoPoints() *pointcloud.Measurement {
	return pointcloud.MustNew([]pointcloud.Point{
		{X: 1, Y: 1, Z: 1},
		{X: 2, Y: 2, Z: 2},
	}, nil, nil)
}

// FullChannels returns the three-point cloud with colour and user values.
func FullChannels() *pointcloud.Measurement {
	return pointcloud.MustNew(
		ThreePoints().Points(),
		[]pointcloud.Point{{X: 1}, {Y: 1}, {Z: 1}},
		[]float64{0.5, 0.25, 0.125},
	)
}

// SilenceLogs mutes monitoring.Logf. Call it from TestMain, before any
// parallel test starts.
func SilenceLogs() {
	monitoring.SetLogger(nil)
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Get serves a GET for path on h and returns the recorder.
func Get(h http.Handler, path string) *httptest.ResponseRecorder {
	return Serve(h, http.MethodGet, path)
}

// Serve serves a body-less request on h and returns the recorder.
func Serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}
