package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ContentType is the media type of a single encoded Measurement.
const ContentType = "application/json"

// StreamContentType is the media type of a newline-delimited stream of
// encoded Measurements.
const StreamContentType = "application/x-ndjson"

var (
	// ErrEncoding wraps any failure to serialise a Measurement.
	ErrEncoding = errors.New("measurement encoding failed")
	// ErrDecoding wraps any failure to parse a Measurement payload.
	ErrDecoding = errors.New("measurement decoding failed")
)

// wireMeasurement is the JSON shape on the wire. Field names follow the
// descriptive fields reported by the capture app.
type wireMeasurement struct {
	Size      int          `json:"size"`
	HasColor  bool         `json:"hasColor"`
	HasValue  bool         `json:"hasValue"`
	MinX      *float64     `json:"minX,omitempty"`
	MaxX      *float64     `json:"maxX,omitempty"`
	MinY      *float64     `json:"minY,omitempty"`
	MaxY      *float64     `json:"maxY,omitempty"`
	MinZ      *float64     `json:"minZ,omitempty"`
	MaxZ      *float64     `json:"maxZ,omitempty"`
	Points    [][3]float64 `json:"points"`
	Color     [][3]float64 `json:"color,omitempty"`
	UserValue []float64    `json:"userValue,omitempty"`
}

// Encode serialises m as a single JSON object. Absent channels are omitted.
// A measurement with no points encodes to a valid object with an empty
// point list.
func Encode(m *Measurement) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil measurement", ErrEncoding)
	}
	for i, p := range m.points {
		if !finite(p) {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrEncoding, i)
		}
	}

	w := wireMeasurement{
		Size:     len(m.points),
		HasColor: m.HasColor(),
		HasValue: m.HasValue(),
		Points:   toTriples(m.points),
	}
	if e, ok := m.Extents(); ok {
		w.MinX, w.MaxX = &e.MinX, &e.MaxX
		w.MinY, w.MaxY = &e.MinY, &e.MaxY
		w.MinZ, w.MaxZ = &e.MinZ, &e.MaxZ
	}
	if m.color != nil {
		w.Color = toTriples(m.color)
	}
	if m.userValue != nil {
		w.UserValue = m.userValue
	}

	data, err := json.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (*Measurement, error) {
	var w wireMeasurement
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	if w.Size != len(w.Points) {
		return nil, fmt.Errorf("%w: size %d does not match %d points", ErrDecoding, w.Size, len(w.Points))
	}

	m := &Measurement{points: fromTriples(w.Points)}
	if w.HasColor {
		m.color = fromTriples(w.Color)
	}
	if w.HasValue {
		m.userValue = cloneValues(w.UserValue)
		if m.userValue == nil {
			m.userValue = []float64{}
		}
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return m, nil
}

// StreamWriter frames encoded measurements as newline-delimited records.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter returns a StreamWriter writing to w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteRecord writes one already-encoded record followed by the separator.
// The payload and separator go out in a single Write call.
func (sw *StreamWriter) WriteRecord(payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := sw.w.Write(buf)
	return err
}

// StreamReader reads newline-delimited measurements.
type StreamReader struct {
	r *bufio.Reader
}

// NewStreamReader returns a StreamReader reading from r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReaderSize(r, 1<<20)}
}

// Next returns the next measurement, or io.EOF at the end of the stream.
func (sr *StreamReader) Next() (*Measurement, error) {
	line, err := sr.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
			return nil, fmt.Errorf("%w: truncated record", ErrDecoding)
		}
		return nil, err
	}
	return Decode(bytes.TrimSpace(line))
}

func toTriples(points []Point) [][3]float64 {
	out := make([][3]float64, len(points))
	for i, p := range points {
		out[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return out
}

func fromTriples(t [][3]float64) []Point {
	out := make([]Point, len(t))
	for i, v := range t {
		out[i] = Point{X: v[0], Y: v[1], Z: v[2]}
	}
	return out
}

func finite(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}
