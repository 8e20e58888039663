package protocol

import (
	"chatus/canvas"

	"google.golang.org/protobuf/encoding/protowire"
)

func marshalPoint(p canvas.Point) []byte {
	var b []byte
	b = appendDouble(b, 1, p.X)
	b = appendDouble(b, 2, p.Y)
	b = appendDouble(b, 3, p.Pressure)
	return b
}

func unmarshalPoint(b []byte) (canvas.Point, error) {
	var p canvas.Point
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			p.X, err = f.double()
		case 2:
			p.Y, err = f.double()
		case 3:
			p.Pressure, err = f.double()
		}
		return err
	})
	return p, err
}

func marshalStroke(s canvas.Stroke) []byte {
	var b []byte
	b = appendString(b, 1, s.Id)
	b = appendString(b, 2, s.LayerId)
	b = appendString(b, 3, s.Author)
	b = appendInt64(b, 4, int64(s.Tool))
	b = appendString(b, 5, s.Color)
	b = appendDouble(b, 6, s.Width)
	for _, p := range s.Points {
		b = appendMessage(b, 7, marshalPoint(p))
	}
	b = appendInt64(b, 8, s.Timestamp)
	return b
}

func unmarshalStroke(b []byte) (canvas.Stroke, error) {
	var s canvas.Stroke
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			s.Id, err = f.str()
		case 2:
			s.LayerId, err = f.str()
		case 3:
			s.Author, err = f.str()
		case 4:
			var v int64
			v, err = f.int64()
			s.Tool = canvas.Tool(v)
		case 5:
			s.Color, err = f.str()
		case 6:
			s.Width, err = f.double()
		case 7:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			var p canvas.Point
			p, err = unmarshalPoint(f.raw)
			s.Points = append(s.Points, p)
		case 8:
			s.Timestamp, err = f.int64()
		}
		return err
	})
	return s, err
}

func marshalLayer(l canvas.Layer) []byte {
	var b []byte
	b = appendString(b, 1, l.Id)
	b = appendString(b, 2, l.Name)
	b = appendBool(b, 3, l.Visible)
	b = appendBool(b, 4, l.Locked)
	b = appendDouble(b, 5, l.Opacity)
	for _, s := range l.Strokes {
		b = appendMessage(b, 6, marshalStroke(s))
	}
	return b
}

func unmarshalLayer(b []byte) (canvas.Layer, error) {
	var l canvas.Layer
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			l.Id, err = f.str()
		case 2:
			l.Name, err = f.str()
		case 3:
			l.Visible, err = f.bool()
		case 4:
			l.Locked, err = f.bool()
		case 5:
			l.Opacity, err = f.double()
		case 6:
			if err = f.want(protowire.BytesType); err != nil {
				return err
			}
			var s canvas.Stroke
			s, err = unmarshalStroke(f.raw)
			l.Strokes = append(l.Strokes, s)
		}
		return err
	})
	return l, err
}
