package wire

import (
	"image/color"
	"math"
	"strconv"
)

// Code identifies the semantic type of a frame
type Code int

// Command codes exchanged between the viewer and the render server
const (
	CodeHello      Code = 44001 // viewer -> server
	CodeImage      Code = 44002 // server -> viewer
	CodeCanvasSize Code = 44003 // server -> viewer
	CodeRender     Code = 44004 // viewer -> server
	CodeLine       Code = 44005 // server -> viewer
)

// MaxDimension bounds every width and height carried by a frame, so that
// 4*W*H always fits an int.
const MaxDimension = 1 << 15

func (c Code) String() string {
	switch c {
	case CodeHello:
		return "hello"
	case CodeImage:
		return "image"
	case CodeCanvasSize:
		return "canvas_size"
	case CodeRender:
		return "render"
	case CodeLine:
		return "line"
	default:
		return strconv.Itoa(int(c))
	}
}

// Message is a typed frame payload
type Message interface {
	Code() Code
}

// HelloMessage is the handshake/test message sent by viewers
type HelloMessage struct {
	Hello string `msgpack:"Hello"`
}

// ImageMessage carries a W×H block of RGBA pixels to place at (X, Y)
type ImageMessage struct {
	RGBA []byte `msgpack:"RGBA"`
	W    int    `msgpack:"W"`
	H    int    `msgpack:"H"`
	X    int    `msgpack:"X"`
	Y    int    `msgpack:"Y"`
}

// CanvasSizeMessage reallocates the mirrored canvas
type CanvasSizeMessage struct {
	W int `msgpack:"W"`
	H int `msgpack:"H"`
}

// Area is an image-space rectangle with Left <= Right and Top <= Bottom
type Area struct {
	Left   int `msgpack:"Left"`
	Top    int `msgpack:"Top"`
	Right  int `msgpack:"Right"`
	Bottom int `msgpack:"Bottom"`
}

// RenderMessage asks the server to render, optionally scoped to Area
type RenderMessage struct {
	Area *Area `msgpack:"Area,omitempty"`
}

// LineMessage draws a segment; R, G and B are in [0, 1]
type LineMessage struct {
	X1 float64 `msgpack:"X1"`
	Y1 float64 `msgpack:"Y1"`
	X2 float64 `msgpack:"X2"`
	Y2 float64 `msgpack:"Y2"`
	R  float64 `msgpack:"R"`
	G  float64 `msgpack:"G"`
	B  float64 `msgpack:"B"`
}

func (HelloMessage) Code() Code      { return CodeHello }
func (ImageMessage) Code() Code      { return CodeImage }
func (CanvasSizeMessage) Code() Code { return CodeCanvasSize }
func (RenderMessage) Code() Code     { return CodeRender }
func (LineMessage) Code() Code       { return CodeLine }

// Color scales the unit channels to an opaque 8-bit color.
func (m LineMessage) Color() color.RGBA {
	return color.RGBA{R: unitToByte(m.R), G: unitToByte(m.G), B: unitToByte(m.B), A: 0xff}
}

func unitToByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 0xff
	default:
		return uint8(v*255 + 0.5)
	}
}
