package canvas

import "errors"

var (
	ErrLayerNotFound  = errors.New("layer-not-found")
	ErrLayerLocked    = errors.New("layer-locked")
	ErrLastLayer      = errors.New("last-layer")
	ErrTooManyLayers  = errors.New("too-many-layers")
	ErrEmptyStroke    = errors.New("empty-stroke")
	ErrInvalidTool    = errors.New("invalid-tool")
	ErrStrokeTooLarge = errors.New("stroke-too-large")
)

type Tool int8

const (
	ToolPen Tool = iota
	ToolEraser
)

type Point struct {
	X        float64
	Y        float64
	Pressure float64
}

type Stroke struct {
	Id      string
	LayerId string
	Author  string
	Tool    Tool
	Color   string
	Width   float64
	Points  []Point
	// Timestamp is unix milliseconds; it orders strokes and settles concurrent edits.
	Timestamp int64
}

type Layer struct {
	Id      string
	Name    string
	Visible bool
	Locked  bool
	Opacity float64
	Strokes []Stroke
}

type Snapshot struct {
	Layers  []Layer
	CanUndo bool
	CanRedo bool
}

type Options struct {
	MaxHistory         int
	MaxStrokesPerLayer int
	MaxLayers          int
	MaxPointsPerStroke int
	NewId              func() string
}

func DefaultOptions() Options {
	return Options{
		MaxHistory:         50,
		MaxStrokesPerLayer: 5000,
		MaxLayers:          16,
		MaxPointsPerStroke: 4096,
	}
}

// newer reports whether a should win over b under last-write-wins.
func newer(a, b Stroke) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.Author > b.Author
}

// before is the in-layer ordering.
func before(a, b Stroke) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Id < b.Id
}

func (s Stroke) clone() Stroke {
	s.Points = append([]Point(nil), s.Points...)
	return s
}
