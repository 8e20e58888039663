package canvas

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

type layer struct {
	meta    Layer
	strokes []Stroke
}

// Board is a layered drawing shared by the members of a conversation.
// It is not safe for concurrent use; the owning room serializes access.
type Board struct {
	opts        Options
	layers      []*layer
	byId        map[string]*layer
	strokeLayer map[string]string
	histories   map[string]*history
	created     int
}

func NewBoard(opts Options) *Board {
	def := DefaultOptions()
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = def.MaxHistory
	}
	if opts.MaxStrokesPerLayer <= 0 {
		opts.MaxStrokesPerLayer = def.MaxStrokesPerLayer
	}
	if opts.MaxLayers <= 0 {
		opts.MaxLayers = def.MaxLayers
	}
	if opts.MaxPointsPerStroke <= 0 {
		opts.MaxPointsPerStroke = def.MaxPointsPerStroke
	}
	if opts.NewId == nil {
		opts.NewId = uuid.NewString
	}
	b := &Board{
		opts:        opts,
		byId:        make(map[string]*layer),
		strokeLayer: make(map[string]string),
		histories:   make(map[string]*history),
	}
	b.AddLayer("")
	return b
}

func (b *Board) AddLayer(name string) (Layer, error) {
	if len(b.layers) >= b.opts.MaxLayers {
		return Layer{}, ErrTooManyLayers
	}
	b.created++
	if name == "" {
		name = fmt.Sprintf("Layer %d", b.created)
	}
	l := &layer{meta: Layer{Id: b.opts.NewId(), Name: name, Visible: true, Opacity: 1}}
	b.layers = append(b.layers, l)
	b.byId[l.meta.Id] = l
	return l.meta, nil
}

func (b *Board) RemoveLayer(id string) error {
	l, ok := b.byId[id]
	if !ok {
		return ErrLayerNotFound
	}
	if len(b.layers) == 1 {
		return ErrLastLayer
	}
	for _, s := range l.strokes {
		delete(b.strokeLayer, s.Id)
	}
	delete(b.byId, id)
	b.layers = removeLayerAt(b.layers, b.indexOf(id))
	return nil
}

func (b *Board) RenameLayer(id, name string) error {
	l, ok := b.byId[id]
	if !ok {
		return ErrLayerNotFound
	}
	if name != "" {
		l.meta.Name = name
	}
	return nil
}

func (b *Board) SetVisible(id string, visible bool) error {
	l, ok := b.byId[id]
	if !ok {
		return ErrLayerNotFound
	}
	l.meta.Visible = visible
	return nil
}

func (b *Board) SetLocked(id string, locked bool) error {
	l, ok := b.byId[id]
	if !ok {
		return ErrLayerNotFound
	}
	l.meta.Locked = locked
	return nil
}

func (b *Board) SetOpacity(id string, opacity float64) error {
	l, ok := b.byId[id]
	if !ok {
		return ErrLayerNotFound
	}
	switch {
	case math.IsNaN(opacity):
		opacity = 1
	case opacity < 0:
		opacity = 0
	case opacity > 1:
		opacity = 1
	}
	l.meta.Opacity = opacity
	return nil
}

// MoveLayer puts the layer at index, clamped to the valid range.
func (b *Board) MoveLayer(id string, index int) error {
	l, ok := b.byId[id]
	if !ok {
		return ErrLayerNotFound
	}
	b.layers = removeLayerAt(b.layers, b.indexOf(id))
	if index < 0 {
		index = 0
	}
	if index > len(b.layers) {
		index = len(b.layers)
	}
	b.layers = append(b.layers, nil)
	copy(b.layers[index+1:], b.layers[index:])
	b.layers[index] = l
	return nil
}

// Apply adds a stroke or merges a newer version of a known one.
// It returns the stored stroke and whether the board changed.
func (b *Board) Apply(s Stroke) (Stroke, bool, error) {
	if len(s.Points) == 0 {
		return Stroke{}, false, ErrEmptyStroke
	}
	if len(s.Points) > b.opts.MaxPointsPerStroke {
		return Stroke{}, false, ErrStrokeTooLarge
	}
	if s.Tool != ToolPen && s.Tool != ToolEraser {
		return Stroke{}, false, ErrInvalidTool
	}

	if layerId, known := b.strokeLayer[s.Id]; known && s.Id != "" {
		l := b.byId[layerId]
		if l.meta.Locked {
			return Stroke{}, false, ErrLayerLocked
		}
		i := findStroke(l.strokes, s.Id)
		current := l.strokes[i]
		if !newer(s, current) {
			return current.clone(), false, nil
		}
		s.LayerId = layerId
		l.strokes = removeStrokeAt(l.strokes, i)
		l.strokes = insertSorted(l.strokes, s.clone())
		return s.clone(), true, nil
	}

	if s.LayerId == "" {
		s.LayerId = b.layers[0].meta.Id
	}
	l, ok := b.byId[s.LayerId]
	if !ok {
		return Stroke{}, false, ErrLayerNotFound
	}
	if l.meta.Locked {
		return Stroke{}, false, ErrLayerLocked
	}
	if s.Id == "" {
		s.Id = b.opts.NewId()
	}

	b.insert(l, s.clone())
	b.historyOf(s.Author).record(entry{kind: opStroke, layerId: l.meta.Id, stroke: s.clone()}, b.opts.MaxHistory)
	return s.clone(), true, nil
}

// ClearLayer removes every stroke of the layer as one undoable step.
func (b *Board) ClearLayer(author, id string) error {
	l, ok := b.byId[id]
	if !ok {
		return ErrLayerNotFound
	}
	if l.meta.Locked {
		return ErrLayerLocked
	}
	if len(l.strokes) == 0 {
		return nil
	}
	cleared := b.clear(l)
	b.historyOf(author).record(entry{kind: opClear, layerId: id, cleared: cleared}, b.opts.MaxHistory)
	return nil
}

// Undo reverts the author's most recent step. It reports false when there is nothing to undo.
func (b *Board) Undo(author string) (bool, error) {
	h := b.histories[author]
	if h == nil || len(h.undo) == 0 {
		return false, nil
	}
	e := h.undo[len(h.undo)-1]
	if l, ok := b.byId[e.layerId]; ok && l.meta.Locked {
		return false, ErrLayerLocked
	}
	h.undo, _, _ = pop(h.undo)

	switch e.kind {
	case opStroke:
		if layerId, ok := b.strokeLayer[e.stroke.Id]; ok {
			l := b.byId[layerId]
			i := findStroke(l.strokes, e.stroke.Id)
			e.stroke = l.strokes[i]
			l.strokes = removeStrokeAt(l.strokes, i)
			delete(b.strokeLayer, e.stroke.Id)
		}
	case opClear:
		if l, ok := b.byId[e.layerId]; ok {
			for _, s := range e.cleared {
				if _, exists := b.strokeLayer[s.Id]; !exists {
					b.insert(l, s)
				}
			}
		}
	}
	h.redo = pushBounded(h.redo, e, b.opts.MaxHistory)
	return true, nil
}

// Redo reapplies the author's most recently undone step.
func (b *Board) Redo(author string) (bool, error) {
	h := b.histories[author]
	if h == nil || len(h.redo) == 0 {
		return false, nil
	}
	e := h.redo[len(h.redo)-1]
	if l, ok := b.byId[e.layerId]; ok && l.meta.Locked {
		return false, ErrLayerLocked
	}
	h.redo, _, _ = pop(h.redo)

	switch e.kind {
	case opStroke:
		if l, ok := b.byId[e.layerId]; ok {
			if _, exists := b.strokeLayer[e.stroke.Id]; !exists {
				b.insert(l, e.stroke)
			}
		}
	case opClear:
		if l, ok := b.byId[e.layerId]; ok {
			e.cleared = b.removeStrokes(l, e.cleared)
		}
	}
	h.undo = pushBounded(h.undo, e, b.opts.MaxHistory)
	return true, nil
}

// Snapshot deep-copies the board. The undo flags are the given author's.
func (b *Board) Snapshot(author string) Snapshot {
	snap := Snapshot{Layers: make([]Layer, 0, len(b.layers))}
	for _, l := range b.layers {
		meta := l.meta
		meta.Strokes = make([]Stroke, 0, len(l.strokes))
		for _, s := range l.strokes {
			meta.Strokes = append(meta.Strokes, s.clone())
		}
		snap.Layers = append(snap.Layers, meta)
	}
	if h := b.histories[author]; h != nil {
		snap.CanUndo = len(h.undo) > 0
		snap.CanRedo = len(h.redo) > 0
	}
	return snap
}

func (b *Board) StrokeCount() int {
	return len(b.strokeLayer)
}

func (b *Board) historyOf(author string) *history {
	h, ok := b.histories[author]
	if !ok {
		h = &history{}
		b.histories[author] = h
	}
	return h
}

func (b *Board) insert(l *layer, s Stroke) {
	s.LayerId = l.meta.Id
	l.strokes = insertSorted(l.strokes, s)
	b.strokeLayer[s.Id] = l.meta.Id
	for len(l.strokes) > b.opts.MaxStrokesPerLayer {
		delete(b.strokeLayer, l.strokes[0].Id)
		l.strokes = removeStrokeAt(l.strokes, 0)
	}
}

func (b *Board) clear(l *layer) []Stroke {
	cleared := l.strokes
	for _, s := range cleared {
		delete(b.strokeLayer, s.Id)
	}
	l.strokes = nil
	return cleared
}

// removeStrokes takes back the strokes of a redone clear. Strokes drawn since
// the undo stay. It returns the current versions of what it removed.
func (b *Board) removeStrokes(l *layer, strokes []Stroke) []Stroke {
	removed := make([]Stroke, 0, len(strokes))
	for _, s := range strokes {
		if b.strokeLayer[s.Id] != l.meta.Id {
			continue
		}
		i := findStroke(l.strokes, s.Id)
		removed = append(removed, l.strokes[i])
		l.strokes = removeStrokeAt(l.strokes, i)
		delete(b.strokeLayer, s.Id)
	}
	return removed
}

func (b *Board) indexOf(id string) int {
	for i, l := range b.layers {
		if l.meta.Id == id {
			return i
		}
	}
	return -1
}

func insertSorted(strokes []Stroke, s Stroke) []Stroke {
	i := sort.Search(len(strokes), func(i int) bool { return before(s, strokes[i]) })
	strokes = append(strokes, Stroke{})
	copy(strokes[i+1:], strokes[i:])
	strokes[i] = s
	return strokes
}

func findStroke(strokes []Stroke, id string) int {
	for i := range strokes {
		if strokes[i].Id == id {
			return i
		}
	}
	return -1
}

func removeStrokeAt(strokes []Stroke, i int) []Stroke {
	return append(strokes[:i], strokes[i+1:]...)
}

func removeLayerAt(layers []*layer, i int) []*layer {
	return append(layers[:i], layers[i+1:]...)
}
