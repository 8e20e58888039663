package protocol

import (
	"chatus/canvas"

	"google.golang.org/protobuf/encoding/protowire"
)

// ClientPayload is one of the messages a client may send.
type ClientPayload interface {
	clientField() protowire.Number
	marshal() []byte
}

type ClientPacket struct {
	Payload ClientPayload
}

type CanvasOpKind int

const (
	CanvasUndo CanvasOpKind = iota + 1
	CanvasRedo
	CanvasClear
	CanvasAddLayer
	CanvasRemoveLayer
	CanvasRenameLayer
	CanvasSetVisible
	CanvasSetLocked
	CanvasSetOpacity
	CanvasMoveLayer
)

// StrokeBatch travels in both directions under field 1.
type StrokeBatch struct {
	Strokes []canvas.Stroke
}

type SendMessage struct {
	ClientId string
	Text     string
}

type EditMessage struct {
	MessageId string
	Text      string
}

type DeleteMessage struct {
	MessageId string
}

type Typing struct {
	Active bool
}

type MarkRead struct {
	MessageId string
}

// CanvasOp is a board operation. Flag carries the visible/locked value.
type CanvasOp struct {
	Kind    CanvasOpKind
	LayerId string
	Name    string
	Flag    bool
	Opacity float64
	Index   int
}

type GameStart struct{}

type GameMove struct {
	Cell int
}

// FetchHistory asks for messages strictly older than Before (unix ms, 0 = newest).
type FetchHistory struct {
	Before int64
	Limit  int
}

func (*StrokeBatch) clientField() protowire.Number   { return 1 }
func (*SendMessage) clientField() protowire.Number   { return 2 }
func (*EditMessage) clientField() protowire.Number   { return 3 }
func (*DeleteMessage) clientField() protowire.Number { return 4 }
func (*Typing) clientField() protowire.Number        { return 5 }
func (*MarkRead) clientField() protowire.Number      { return 6 }
func (*CanvasOp) clientField() protowire.Number      { return 7 }
func (*GameStart) clientField() protowire.Number     { return 8 }
func (*GameMove) clientField() protowire.Number      { return 9 }
func (*FetchHistory) clientField() protowire.Number  { return 10 }

func (m *StrokeBatch) marshal() []byte {
	var b []byte
	for _, s := range m.Strokes {
		b = appendMessage(b, 1, marshalStroke(s))
	}
	return b
}

func (m *StrokeBatch) unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		s, err := unmarshalStroke(f.raw)
		m.Strokes = append(m.Strokes, s)
		return err
	})
}

func (m *SendMessage) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ClientId)
	b = appendString(b, 2, m.Text)
	return b
}

func (m *SendMessage) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.ClientId, err = f.str()
		case 2:
			m.Text, err = f.str()
		}
		return err
	})
}

func (m *EditMessage) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.MessageId)
	b = appendString(b, 2, m.Text)
	return b
}

func (m *EditMessage) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.MessageId, err = f.str()
		case 2:
			m.Text, err = f.str()
		}
		return err
	})
}

func (m *DeleteMessage) marshal() []byte {
	return appendString(nil, 1, m.MessageId)
}

func (m *DeleteMessage) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			m.MessageId, err = f.str()
		}
		return err
	})
}

func (m *Typing) marshal() []byte {
	return appendBool(nil, 1, m.Active)
}

func (m *Typing) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			m.Active, err = f.bool()
		}
		return err
	})
}

func (m *MarkRead) marshal() []byte {
	return appendString(nil, 1, m.MessageId)
}

func (m *MarkRead) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			m.MessageId, err = f.str()
		}
		return err
	})
}

func (m *CanvasOp) marshal() []byte {
	var b []byte
	b = appendInt64(b, 1, int64(m.Kind))
	b = appendString(b, 2, m.LayerId)
	b = appendString(b, 3, m.Name)
	b = appendBool(b, 4, m.Flag)
	b = appendDouble(b, 5, m.Opacity)
	b = appendInt64(b, 6, int64(m.Index))
	return b
}

func (m *CanvasOp) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		var v int64
		switch f.num {
		case 1:
			v, err = f.int64()
			m.Kind = CanvasOpKind(v)
		case 2:
			m.LayerId, err = f.str()
		case 3:
			m.Name, err = f.str()
		case 4:
			m.Flag, err = f.bool()
		case 5:
			m.Opacity, err = f.double()
		case 6:
			v, err = f.int64()
			m.Index = int(v)
		}
		return err
	})
}

func (m *GameStart) marshal() []byte { return nil }

func (m *GameMove) marshal() []byte {
	return appendInt64(nil, 1, int64(m.Cell))
}

func (m *GameMove) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			var v int64
			v, err = f.int64()
			m.Cell = int(v)
		}
		return err
	})
}

func (m *FetchHistory) marshal() []byte {
	var b []byte
	b = appendInt64(b, 1, m.Before)
	b = appendInt64(b, 2, int64(m.Limit))
	return b
}

func (m *FetchHistory) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		var v int64
		switch f.num {
		case 1:
			m.Before, err = f.int64()
		case 2:
			v, err = f.int64()
			m.Limit = int(v)
		}
		return err
	})
}

func (p ClientPacket) Marshal() []byte {
	if p.Payload == nil {
		return nil
	}
	return appendMessage(nil, p.Payload.clientField(), p.Payload.marshal())
}

// UnmarshalClientPacket decodes a client packet. A packet without a known payload is malformed.
func UnmarshalClientPacket(b []byte) (ClientPacket, error) {
	var p ClientPacket
	err := walk(b, func(f field) error {
		var payload ClientPayload
		var decode func([]byte) error
		switch f.num {
		case 1:
			m := &StrokeBatch{}
			payload, decode = m, m.unmarshal
		case 2:
			m := &SendMessage{}
			payload, decode = m, m.unmarshal
		case 3:
			m := &EditMessage{}
			payload, decode = m, m.unmarshal
		case 4:
			m := &DeleteMessage{}
			payload, decode = m, m.unmarshal
		case 5:
			m := &Typing{}
			payload, decode = m, m.unmarshal
		case 6:
			m := &MarkRead{}
			payload, decode = m, m.unmarshal
		case 7:
			m := &CanvasOp{}
			payload, decode = m, m.unmarshal
		case 8:
			payload, decode = &GameStart{}, func([]byte) error { return nil }
		case 9:
			m := &GameMove{}
			payload, decode = m, m.unmarshal
		case 10:
			m := &FetchHistory{}
			payload, decode = m, m.unmarshal
		default:
			return nil
		}
		if err := f.want(protowire.BytesType); err != nil {
			return err
		}
		if err := decode(f.raw); err != nil {
			return err
		}
		p.Payload = payload
		return nil
	})
	if err != nil {
		return ClientPacket{}, err
	}
	if p.Payload == nil {
		return ClientPacket{}, ErrMalformedPacket
	}
	return p, nil
}
