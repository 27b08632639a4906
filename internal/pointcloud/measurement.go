// Package pointcloud defines the Measurement served to point cloud consumers
// and the codec used to put it on the wire.
package pointcloud

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrChannelLength is returned when an optional channel does not have one
// entry per point.
var ErrChannelLength = errors.New("channel length does not match point count")

// Point is a single 3D coordinate in the sensor's world frame (metres).
// The same shape carries RGB triples in the Color channel.
type Point struct {
	X float64
	Y float64
	Z float64
}

// Extents is the axis-aligned bounding box over a set of points.
type Extents struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// Measurement is one point-in-time read of the sensor point cloud. It is
// built fresh for each request and is not modified after construction.
type Measurement struct {
	points    []Point
	color     []Point
	userValue []float64
}

// New builds a Measurement, copying the input slices. A nil color or
// userValue slice means the channel is absent.
func New(points, color []Point, userValue []float64) (*Measurement, error) {
	m := &Measurement{
		points:    clonePoints(points),
		color:     clonePoints(color),
		userValue: cloneValues(userValue),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is New for fixtures and tests. It panics on invalid input.
func MustNew(points, color []Point, userValue []float64) *Measurement {
	m, err := New(points, color, userValue)
	if err != nil {
		panic(err)
	}
	return m
}

// Validate checks that every optional channel matches the point count.
func (m *Measurement) Validate() error {
	if m.color != nil && len(m.color) != len(m.points) {
		return fmt.Errorf("color: %w (got %d, want %d)", ErrChannelLength, len(m.color), len(m.points))
	}
	if m.userValue != nil && len(m.userValue) != len(m.points) {
		return fmt.Errorf("userValue: %w (got %d, want %d)", ErrChannelLength, len(m.userValue), len(m.points))
	}
	return nil
}

// Size returns the number of points.
func (m *Measurement) Size() int { return len(m.points) }

// HasColor reports whether the color channel is present.
func (m *Measurement) HasColor() bool { return m.color != nil }

// HasValue reports whether the user value channel is present.
func (m *Measurement) HasValue() bool { return m.userValue != nil }

// Points returns a copy of the point list.
func (m *Measurement) Points() []Point { return clonePoints(m.points) }

// Color returns a copy of the color channel, or nil when absent.
func (m *Measurement) Color() []Point { return clonePoints(m.color) }

// UserValue returns a copy of the user value channel, or nil when absent.
func (m *Measurement) UserValue() []float64 { return cloneValues(m.userValue) }

// At returns the i'th point without copying the list.
func (m *Measurement) At(i int) Point { return m.points[i] }

// Extents returns the bounding box of the points. ok is false when the
// measurement has no points.
func (m *Measurement) Extents() (e Extents, ok bool) {
	n := len(m.points)
	if n == 0 {
		return Extents{}, false
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	for i, p := range m.points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return Extents{
		MinX: floats.Min(xs), MaxX: floats.Max(xs),
		MinY: floats.Min(ys), MaxY: floats.Max(ys),
		MinZ: floats.Min(zs), MaxZ: floats.Max(zs),
	}, true
}

// Equal reports whether two measurements carry the same points and channels.
// An absent channel is not equal to an empty one.
func (m *Measurement) Equal(o *Measurement) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(m.points) != len(o.points) || !equalPoints(m.points, o.points) {
		return false
	}
	if (m.color == nil) != (o.color == nil) || !equalPoints(m.color, o.color) {
		return false
	}
	if (m.userValue == nil) != (o.userValue == nil) {
		return false
	}
	return floats.Equal(m.userValue, o.userValue)
}

func equalPoints(a, b []Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clonePoints(s []Point) []Point {
	if s == nil {
		return nil
	}
	out := make([]Point, len(s))
	copy(out, s)
	return out
}

func cloneValues(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
