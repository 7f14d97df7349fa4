// Package wire implements the viewer/render-server frame format: every
// websocket message is exactly two concatenated msgpack values, the integer
// command code followed by the payload map.
package wire

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame is one decoded (code, payload) pair. Payload is still encoded.
type Frame struct {
	Code    Code
	Payload msgpack.RawMessage
}

// Encode concatenates the encodings of code and payload into one frame.
func Encode(code Code, payload interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeInt(int64(code)); err != nil {
		return nil, fmt.Errorf("encode %s code: %w", code, err)
	}
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", code, err)
	}
	return buf.Bytes(), nil
}

// EncodeMessage encodes m under its own command code.
func EncodeMessage(m Message) ([]byte, error) {
	return Encode(m.Code(), m)
}

// SplitFrame decodes data into its sequence of values and checks that it
// holds exactly a command code and a payload.
func SplitFrame(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	var values []msgpack.RawMessage
	for r.Len() > 0 {
		raw, err := dec.DecodeRaw()
		if err != nil {
			return Frame{}, fmt.Errorf("%w: value %d: %v", ErrMalformedFrame, len(values), err)
		}
		values = append(values, raw)
	}
	if len(values) != 2 {
		return Frame{}, fmt.Errorf("%w: got %d", ErrFrameArity, len(values))
	}

	var code int
	if err := msgpack.Unmarshal(values[0], &code); err != nil {
		return Frame{}, fmt.Errorf("%w: command code: %v", ErrMalformedFrame, err)
	}
	return Frame{Code: Code(code), Payload: values[1]}, nil
}

// Decode splits data and decodes its payload into the typed message for
// the frame's command code.
func Decode(data []byte) (Message, error) {
	f, err := SplitFrame(data)
	if err != nil {
		return nil, err
	}
	return DecodePayload(f.Code, f.Payload)
}

// DecodePayload validates raw against the shape code requires. Missing or
// mistyped fields yield a *PayloadError, unknown codes ErrUnknownCommand.
func DecodePayload(code Code, raw msgpack.RawMessage) (Message, error) {
	switch code {
	case CodeHello:
		return decodeHello(raw)
	case CodeImage:
		return decodeImage(raw)
	case CodeCanvasSize:
		return decodeCanvasSize(raw)
	case CodeRender:
		return decodeRender(raw)
	case CodeLine:
		return decodeLine(raw)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, int(code))
	}
}

func decodeHello(raw msgpack.RawMessage) (Message, error) {
	f, err := decodeFields(CodeHello, raw)
	if err != nil {
		return nil, err
	}
	var m HelloMessage
	if err := f.require("Hello", &m.Hello); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeImage(raw msgpack.RawMessage) (Message, error) {
	f, err := decodeFields(CodeImage, raw)
	if err != nil {
		return nil, err
	}
	var m ImageMessage
	if err := f.requireAll(
		field{"RGBA", &m.RGBA},
		field{"W", &m.W},
		field{"H", &m.H},
		field{"X", &m.X},
		field{"Y", &m.Y},
	); err != nil {
		return nil, err
	}
	if err := f.dimensions(m.W, m.H); err != nil {
		return nil, err
	}
	if want := 4 * m.W * m.H; len(m.RGBA) != want {
		return nil, f.invalid("RGBA", "got %d bytes, want %d for %dx%d", len(m.RGBA), want, m.W, m.H)
	}
	return m, nil
}

func decodeCanvasSize(raw msgpack.RawMessage) (Message, error) {
	f, err := decodeFields(CodeCanvasSize, raw)
	if err != nil {
		return nil, err
	}
	var m CanvasSizeMessage
	if err := f.requireAll(field{"W", &m.W}, field{"H", &m.H}); err != nil {
		return nil, err
	}
	if err := f.dimensions(m.W, m.H); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeRender(raw msgpack.RawMessage) (Message, error) {
	f, err := decodeFields(CodeRender, raw)
	if err != nil {
		return nil, err
	}
	var m RenderMessage
	areaRaw, ok := f.values["Area"]
	if !ok || isNil(areaRaw) {
		return m, nil
	}
	af, err := decodeFields(CodeRender, areaRaw)
	if err != nil {
		err.(*PayloadError).Field = "Area"
		return nil, err
	}
	var a Area
	if err := af.requireAll(
		field{"Left", &a.Left},
		field{"Top", &a.Top},
		field{"Right", &a.Right},
		field{"Bottom", &a.Bottom},
	); err != nil {
		err.(*PayloadError).Field = "Area." + err.(*PayloadError).Field
		return nil, err
	}
	if a.Left > a.Right || a.Top > a.Bottom {
		return nil, f.invalid("Area", "not normalized: %+v", a)
	}
	m.Area = &a
	return m, nil
}

func decodeLine(raw msgpack.RawMessage) (Message, error) {
	f, err := decodeFields(CodeLine, raw)
	if err != nil {
		return nil, err
	}
	var m LineMessage
	if err := f.requireAll(
		field{"X1", &m.X1},
		field{"Y1", &m.Y1},
		field{"X2", &m.X2},
		field{"Y2", &m.Y2},
		field{"R", &m.R},
		field{"G", &m.G},
		field{"B", &m.B},
	); err != nil {
		return nil, err
	}
	return m, nil
}

type fields struct {
	code   Code
	values map[string]msgpack.RawMessage
}

type field struct {
	name string
	dst  interface{}
}

func decodeFields(code Code, raw msgpack.RawMessage) (fields, error) {
	var values map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(raw, &values); err != nil {
		return fields{}, &PayloadError{Code: code, Err: fmt.Errorf("%w: %v", ErrInvalidField, err)}
	}
	if values == nil {
		return fields{}, &PayloadError{Code: code, Err: fmt.Errorf("%w: payload is not a map", ErrInvalidField)}
	}
	return fields{code: code, values: values}, nil
}

func (f fields) require(name string, dst interface{}) error {
	raw, ok := f.values[name]
	if !ok || isNil(raw) {
		return &PayloadError{Code: f.code, Field: name, Err: ErrMissingField}
	}
	if err := msgpack.Unmarshal(raw, dst); err != nil {
		return &PayloadError{Code: f.code, Field: name, Err: fmt.Errorf("%w: %v", ErrInvalidField, err)}
	}
	return nil
}

func (f fields) requireAll(list ...field) error {
	for _, fd := range list {
		if err := f.require(fd.name, fd.dst); err != nil {
			return err
		}
	}
	return nil
}

// dimensions checks a width/height pair against [0, MaxDimension].
func (f fields) dimensions(w, h int) error {
	switch {
	case w < 0:
		return f.invalid("W", "negative width %d", w)
	case h < 0:
		return f.invalid("H", "negative height %d", h)
	case w > MaxDimension:
		return f.invalid("W", "width %d exceeds %d", w, MaxDimension)
	case h > MaxDimension:
		return f.invalid("H", "height %d exceeds %d", h, MaxDimension)
	}
	return nil
}

func (f fields) invalid(name, format string, args ...interface{}) error {
	return &PayloadError{Code: f.code, Field: name, Err: fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidField}, args...)...)}
}

func isNil(raw msgpack.RawMessage) bool {
	return len(raw) == 1 && raw[0] == 0xc0
}
