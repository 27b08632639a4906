// Package provider supplies point cloud snapshots to the server.
//
// The sensing subsystem publishes measurements asynchronously; the server
// only ever asks for "the latest one". Implementations must be safe for
// concurrent calls from any number of request goroutines.
package provider

import (
	"errors"
	"sync/atomic"

	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
)

// ErrUnavailable is returned when no measurement has been produced yet.
var ErrUnavailable = errors.New("no measurement available")

// Provider returns the most recent point cloud measurement.
type Provider interface {
	// Latest returns the newest measurement, or ErrUnavailable.
	// It must return quickly and must not block on I/O.
	Latest() (*pointcloud.Measurement, error)
}

// Func adapts a plain function to the Provider interface.
type Func func() (*pointcloud.Measurement, error)

// Latest calls f.
func (f Func) Latest() (*pointcloud.Measurement, error) { return f() }

// Static always returns the same measurement.
type Static struct {
	M *pointcloud.Measurement
}

// Latest returns s.M, or ErrUnavailable when it is nil.
func (s Static) Latest() (*pointcloud.Measurement, error) {
	if s.M == nil {
		return nil, ErrUnavailable
	}
	return s.M, nil
}

// Store holds the newest published measurement. Producers call Publish
// without taking any lock; readers always observe a complete measurement.
type Store struct {
	current   atomic.Pointer[pointcloud.Measurement]
	published atomic.Uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Publish replaces the current measurement. Publishing nil clears it.
func (s *Store) Publish(m *pointcloud.Measurement) {
	s.current.Store(m)
	if m != nil {
		s.published.Add(1)
	}
}

// Latest returns the current measurement, or ErrUnavailable.
func (s *Store) Latest() (*pointcloud.Measurement, error) {
	m := s.current.Load()
	if m == nil {
		return nil, ErrUnavailable
	}
	return m, nil
}

// Published returns how many measurements have been published.
func (s *Store) Published() uint64 {
	return s.published.Load()
}
