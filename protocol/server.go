package protocol

import (
	"time"

	"chatus/canvas"
	"chatus/tictactoe"

	"google.golang.org/protobuf/encoding/protowire"
)

// ServerPayload is one of the messages the server may push.
type ServerPayload interface {
	serverField() protowire.Number
	marshal() []byte
}

type ServerPacket struct {
	// ServerTimestamp is unix milliseconds at encoding time.
	ServerTimestamp int64
	Payload         ServerPayload
}

type ChatMessage struct {
	Id             string
	ClientId       string
	ConversationId string
	SenderId       string
	SenderName     string
	Text           string
	CreatedAt      int64
	EditedAt       int64
	Deleted        bool
}

type TypingUpdate struct {
	UserId   string
	Username string
	Active   bool
}

type ReadReceipt struct {
	UserId    string
	MessageId string
}

type CanvasSnapshot struct {
	Layers  []canvas.Layer
	CanUndo bool
	CanRedo bool
}

type GameState struct {
	Board       [9]tictactoe.Mark
	Players     [2]string
	Turn        tictactoe.Mark
	Status      tictactoe.Status
	WinningLine []int
}

type Presence struct {
	UserId   string
	Username string
	Online   bool
}

type History struct {
	Messages []ChatMessage
	HasMore  bool
}

type Error struct {
	Code string
}

// Snapshot is the first packet a session receives after joining.
type Snapshot struct {
	ConversationId string
	Online         []Presence
	History        History
	Canvas         CanvasSnapshot
	Game           *GameState
}

func (*StrokeBatch) serverField() protowire.Number    { return 1 }
func (*ChatMessage) serverField() protowire.Number    { return 2 }
func (*TypingUpdate) serverField() protowire.Number   { return 3 }
func (*ReadReceipt) serverField() protowire.Number    { return 4 }
func (*CanvasSnapshot) serverField() protowire.Number { return 5 }
func (*GameState) serverField() protowire.Number      { return 6 }
func (*Presence) serverField() protowire.Number       { return 7 }
func (*History) serverField() protowire.Number        { return 8 }
func (*Error) serverField() protowire.Number          { return 9 }
func (*Snapshot) serverField() protowire.Number       { return 10 }

const serverTimestampField protowire.Number = 15

func (m *ChatMessage) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Id)
	b = appendString(b, 2, m.ClientId)
	b = appendString(b, 3, m.ConversationId)
	b = appendString(b, 4, m.SenderId)
	b = appendString(b, 5, m.SenderName)
	b = appendString(b, 6, m.Text)
	b = appendInt64(b, 7, m.CreatedAt)
	b = appendInt64(b, 8, m.EditedAt)
	b = appendBool(b, 9, m.Deleted)
	return b
}

func (m *ChatMessage) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.Id, err = f.str()
		case 2:
			m.ClientId, err = f.str()
		case 3:
			m.ConversationId, err = f.str()
		case 4:
			m.SenderId, err = f.str()
		case 5:
			m.SenderName, err = f.str()
		case 6:
			m.Text, err = f.str()
		case 7:
			m.CreatedAt, err = f.int64()
		case 8:
			m.EditedAt, err = f.int64()
		case 9:
			m.Deleted, err = f.bool()
		}
		return err
	})
}

func (m *TypingUpdate) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.UserId)
	b = appendString(b, 2, m.Username)
	b = appendBool(b, 3, m.Active)
	return b
}

func (m *TypingUpdate) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.UserId, err = f.str()
		case 2:
			m.Username, err = f.str()
		case 3:
			m.Active, err = f.bool()
		}
		return err
	})
}

func (m *ReadReceipt) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.UserId)
	b = appendString(b, 2, m.MessageId)
	return b
}

func (m *ReadReceipt) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.UserId, err = f.str()
		case 2:
			m.MessageId, err = f.str()
		}
		return err
	})
}

func (m *CanvasSnapshot) marshal() []byte {
	var b []byte
	for _, l := range m.Layers {
		b = appendMessage(b, 1, marshalLayer(l))
	}
	b = appendBool(b, 2, m.CanUndo)
	b = appendBool(b, 3, m.CanRedo)
	return b
}

func (m *CanvasSnapshot) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			var l canvas.Layer
			l, err = unmarshalLayer(f.raw)
			m.Layers = append(m.Layers, l)
		case 2:
			m.CanUndo, err = f.bool()
		case 3:
			m.CanRedo, err = f.bool()
		}
		return err
	})
}

func (m *GameState) marshal() []byte {
	board := make([]byte, len(m.Board))
	for i, mark := range m.Board {
		board[i] = byte(mark)
	}
	var b []byte
	b = appendMessage(b, 1, board)
	for _, p := range m.Players {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	b = appendInt64(b, 3, int64(m.Turn))
	b = appendInt64(b, 4, int64(m.Status))
	line := make([]byte, 0, len(m.WinningLine))
	for _, c := range m.WinningLine {
		line = append(line, byte(c))
	}
	b = appendRawBytes(b, 5, line)
	return b
}

func (m *GameState) unmarshal(b []byte) error {
	players := 0
	return walk(b, func(f field) (err error) {
		var v int64
		switch f.num {
		case 1:
			var raw []byte
			if raw, err = f.bytes(); err != nil {
				return err
			}
			if len(raw) != len(m.Board) {
				return ErrMalformedPacket
			}
			for i, c := range raw {
				m.Board[i] = tictactoe.Mark(c)
			}
		case 2:
			if players >= len(m.Players) {
				return ErrMalformedPacket
			}
			m.Players[players], err = f.str()
			players++
		case 3:
			v, err = f.int64()
			m.Turn = tictactoe.Mark(v)
		case 4:
			v, err = f.int64()
			m.Status = tictactoe.Status(v)
		case 5:
			var raw []byte
			if raw, err = f.bytes(); err != nil {
				return err
			}
			for _, c := range raw {
				m.WinningLine = append(m.WinningLine, int(c))
			}
		}
		return err
	})
}

func (m *Presence) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.UserId)
	b = appendString(b, 2, m.Username)
	b = appendBool(b, 3, m.Online)
	return b
}

func (m *Presence) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			m.UserId, err = f.str()
		case 2:
			m.Username, err = f.str()
		case 3:
			m.Online, err = f.bool()
		}
		return err
	})
}

func (m *History) marshal() []byte {
	var b []byte
	for i := range m.Messages {
		b = appendMessage(b, 1, m.Messages[i].marshal())
	}
	b = appendBool(b, 2, m.HasMore)
	return b
}

func (m *History) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			var msg ChatMessage
			err = msg.unmarshal(f.raw)
			m.Messages = append(m.Messages, msg)
		case 2:
			m.HasMore, err = f.bool()
		}
		return err
	})
}

func (m *Error) marshal() []byte {
	return appendString(nil, 1, m.Code)
}

func (m *Error) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num == 1 {
			m.Code, err = f.str()
		}
		return err
	})
}

func (m *Snapshot) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ConversationId)
	for i := range m.Online {
		b = appendMessage(b, 2, m.Online[i].marshal())
	}
	b = appendMessage(b, 3, m.History.marshal())
	b = appendMessage(b, 4, m.Canvas.marshal())
	if m.Game != nil {
		b = appendMessage(b, 5, m.Game.marshal())
	}
	return b
}

func (m *Snapshot) unmarshal(b []byte) error {
	return walk(b, func(f field) (err error) {
		if f.num >= 2 && f.num <= 5 {
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
		}
		switch f.num {
		case 1:
			m.ConversationId, err = f.str()
		case 2:
			var p Presence
			err = p.unmarshal(f.raw)
			m.Online = append(m.Online, p)
		case 3:
			err = m.History.unmarshal(f.raw)
		case 4:
			err = m.Canvas.unmarshal(f.raw)
		case 5:
			m.Game = &GameState{}
			err = m.Game.unmarshal(f.raw)
		}
		return err
	})
}

// NewServerPacket stamps the payload with the current server time.
func NewServerPacket(payload ServerPayload) ServerPacket {
	return ServerPacket{ServerTimestamp: time.Now().UnixMilli(), Payload: payload}
}

// Encode is NewServerPacket(payload).Marshal().
func Encode(payload ServerPayload) []byte {
	return NewServerPacket(payload).Marshal()
}

func (p ServerPacket) Marshal() []byte {
	var b []byte
	if p.Payload != nil {
		b = appendMessage(b, p.Payload.serverField(), p.Payload.marshal())
	}
	return appendInt64(b, serverTimestampField, p.ServerTimestamp)
}

func UnmarshalServerPacket(b []byte) (ServerPacket, error) {
	var p ServerPacket
	err := walk(b, func(f field) error {
		if f.num == serverTimestampField {
			v, err := f.int64()
			p.ServerTimestamp = v
			return err
		}
		var payload ServerPayload
		var decode func([]byte) error
		switch f.num {
		case 1:
			m := &StrokeBatch{}
			payload, decode = m, m.unmarshal
		case 2:
			m := &ChatMessage{}
			payload, decode = m, m.unmarshal
		case 3:
			m := &TypingUpdate{}
			payload, decode = m, m.unmarshal
		case 4:
			m := &ReadReceipt{}
			payload, decode = m, m.unmarshal
		case 5:
			m := &CanvasSnapshot{}
			payload, decode = m, m.unmarshal
		case 6:
			m := &GameState{}
			payload, decode = m, m.unmarshal
		case 7:
			m := &Presence{}
			payload, decode = m, m.unmarshal
		case 8:
			m := &History{}
			payload, decode = m, m.unmarshal
		case 9:
			m := &Error{}
			payload, decode = m, m.unmarshal
		case 10:
			m := &Snapshot{}
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
		return ServerPacket{}, err
	}
	if p.Payload == nil {
		return ServerPacket{}, ErrMalformedPacket
	}
	return p, nil
}
