package canvas

type opKind int

const (
	opStroke opKind = iota
	opClear
)

type entry struct {
	kind    opKind
	layerId string
	stroke  Stroke
	cleared []Stroke
}

// history is one author's undo and redo stacks.
type history struct {
	undo []entry
	redo []entry
}

func pushBounded(stack []entry, e entry, max int) []entry {
	stack = append(stack, e)
	if max > 0 && len(stack) > max {
		copy(stack, stack[len(stack)-max:])
		stack = stack[:max]
	}
	return stack
}

func (h *history) record(e entry, max int) {
	h.undo = pushBounded(h.undo, e, max)
	h.redo = h.redo[:0]
}

func pop(stack []entry) ([]entry, entry, bool) {
	if len(stack) == 0 {
		return stack, entry{}, false
	}
	e := stack[len(stack)-1]
	return stack[:len(stack)-1], e, true
}
