package provider

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/pointcloud-server/internal/monitoring"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
)

// Synthetic generates fake point clouds for dev mode and demos: a noisy
// ground disc plus a few objects moving on a circle.
type Synthetic struct {
	// PointCount is the number of ground points per frame.
	PointCount int
	// ObjectCount is the number of moving objects.
	ObjectCount int
	// ObjectPoints is the number of points sampled on each object.
	ObjectPoints int
	// FrameRate is how often Run publishes a new frame, in Hz.
	FrameRate float64
	// AreaRadius is the ground disc radius in metres.
	AreaRadius float64
	// TrackRadius is the radius of the objects' circular path in metres.
	TrackRadius float64
	// SpeedMPS is the objects' speed along the path.
	SpeedMPS float64

	mu      sync.Mutex
	rng     *rand.Rand
	startNs int64
	frames  uint64
}

// NewSynthetic creates a generator with defaults sized like a phone depth
// sensor's raw feature points.
func NewSynthetic() *Synthetic {
	return &Synthetic{
		PointCount:   2000,
		ObjectCount:  4,
		ObjectPoints: 150,
		FrameRate:    30.0,
		AreaRadius:   5.0,
		TrackRadius:  2.0,
		SpeedMPS:     1.0,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		startNs:      time.Now().UnixNano(),
	}
}

// Next generates the next frame. Colour encodes height, user value encodes
// the point's distance from the origin.
func (g *Synthetic) Next() *pointcloud.Measurement {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.frames++
	elapsed := float64(time.Now().UnixNano()-g.startNs) / 1e9

	total := g.PointCount + g.ObjectCount*g.ObjectPoints
	points := make([]pointcloud.Point, 0, total)

	for i := 0; i < g.PointCount; i++ {
		angle := g.rng.Float64() * 2 * math.Pi
		r := math.Sqrt(g.rng.Float64()) * g.AreaRadius
		points = append(points, pointcloud.Point{
			X: r * math.Cos(angle),
			Y: r * math.Sin(angle),
			Z: g.rng.Float64()*0.04 - 0.02,
		})
	}

	for i := 0; i < g.ObjectCount; i++ {
		base := float64(i) * 2 * math.Pi / float64(g.ObjectCount)
		angle := base + elapsed*g.SpeedMPS/g.TrackRadius
		cx := g.TrackRadius * math.Cos(angle)
		cy := g.TrackRadius * math.Sin(angle)
		for j := 0; j < g.ObjectPoints; j++ {
			points = append(points, pointcloud.Point{
				X: cx + g.rng.Float64()*0.4 - 0.2,
				Y: cy + g.rng.Float64()*0.4 - 0.2,
				Z: g.rng.Float64() * 1.5,
			})
		}
	}

	color := make([]pointcloud.Point, len(points))
	values := make([]float64, len(points))
	for i, p := range points {
		h := math.Min(math.Max(p.Z/1.5, 0), 1)
		color[i] = pointcloud.Point{X: h, Y: 1 - math.Abs(2*h-1), Z: 1 - h}
		values[i] = math.Hypot(p.X, p.Y)
	}

	return pointcloud.MustNew(points, color, values)
}

// Frames returns how many frames have been generated.
func (g *Synthetic) Frames() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frames
}

// Run publishes a new frame into store at FrameRate until ctx is done.
func (g *Synthetic) Run(ctx context.Context, store *Store) {
	interval := time.Duration(float64(time.Second) / g.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	monitoring.Logf("[Synthetic] publishing %d-point frames at %.1f Hz", g.PointCount+g.ObjectCount*g.ObjectPoints, g.FrameRate)
	store.Publish(g.Next())
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[Synthetic] stopped after %d frames", g.Frames())
			return
		case <-ticker.C:
			store.Publish(g.Next())
		}
	}
}
