package pointserver

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pointcloud-server/internal/httputil"
	"github.com/banshee-data/pointcloud-server/internal/pointcloud"
	"github.com/banshee-data/pointcloud-server/internal/version"
)

const defaultMaxPoints = 8000

// attachDebugRoutes serves admin pages under /debug/. These routes are
// accessible only over localhost/via Tailscale.
func (rt *router) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("Running", func() any { return rt.state().Running })
	debug.KVFunc("Refresh rate (Hz)", func() any { return rt.rate() })
	debug.KVFunc("Active streams", func() any { return rt.activeStreams.Load() })

	debug.HandleFunc("state", "server state as JSON", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, rt.state())
	})
	debug.HandleFunc("cloud", "3D scatter of the latest measurement", rt.handleCloudChart)
	debug.HandleFunc("cloud.png", "top-down XY projection of the latest measurement", rt.handleCloudPNG)
}

// latestForDebug fetches the current measurement or writes a 404.
func (rt *router) latestForDebug(w http.ResponseWriter) (*pointcloud.Measurement, bool) {
	m, err := rt.provider.Latest()
	if err != nil {
		httputil.WriteText(w, http.StatusNotFound, fmt.Sprintf("no measurement: %v", err))
		return nil, false
	}
	return m, true
}

// strideFor downsamples n points to at most maxPoints.
func strideFor(n, maxPoints int) int {
	if n <= maxPoints {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(maxPoints)))
}

// handleCloudChart renders the latest measurement as an interactive 3D
// scatter coloured by height.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (rt *router) handleCloudChart(w http.ResponseWriter, r *http.Request) {
	m, ok := rt.latestForDebug(w)
	if !ok {
		return
	}

	maxPoints := defaultMaxPoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	stride := strideFor(m.Size(), maxPoints)
	data := make([]opts.Chart3DData, 0, m.Size()/stride+1)
	for i := 0; i < m.Size(); i += stride {
		p := m.At(i)
		data = append(data, opts.Chart3DData{Value: []interface{}{p.X, p.Y, p.Z}})
	}

	ext, _ := m.Extents()
	minZ, maxZ := ext.MinZ, ext.MaxZ
	if maxZ <= minZ {
		maxZ = minZ + 1
	}

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Point Cloud", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Latest measurement", Subtitle: fmt.Sprintf("points=%d shown=%d stride=%d", m.Size(), len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X (m)"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y (m)"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z (m)"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minZ),
			Max:        float32(maxZ),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("points", data)

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteBytes(w, http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// handleCloudPNG renders a static top-down view of the latest measurement.
func (rt *router) handleCloudPNG(w http.ResponseWriter, r *http.Request) {
	m, ok := rt.latestForDebug(w)
	if !ok {
		return
	}
	if m.Size() == 0 {
		httputil.WriteText(w, http.StatusNotFound, "measurement has no points")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Latest measurement (%d points)", m.Size())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pts := make(plotter.XYs, m.Size())
	for i := range pts {
		pt := m.At(i)
		pts[i] = plotter.XY{X: pt.X, Y: pt.Y}
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(1)
	p.Add(sc)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	httputil.WriteBytes(w, http.StatusOK, "image/png", buf.Bytes())
}
