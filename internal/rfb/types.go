// Package rfb implements the client side of the Remote Framebuffer
// protocol (RFC 6143) used by VNC servers: the TCP transport, the
// handshake sequence, client-to-server input messages, and the
// receive path that turns FramebufferUpdate messages into rectangles.
package rfb

import (
	"encoding/binary"
	"fmt"
)

// EncodingType identifies how a rectangle's pixel payload is encoded
// on the wire (RFC 6143 section 7.7). Codes outside the supported set
// are carried as-is so callers can report them.
type EncodingType int32

const (
	EncodingRaw      EncodingType = 0
	EncodingCopyRect EncodingType = 1
	EncodingZRLE     EncodingType = 16
)

// Supported returns true if this client can consume the encoding.
func (e EncodingType) Supported() bool {
	switch e {
	case EncodingRaw, EncodingCopyRect, EncodingZRLE:
		return true
	}

	return false
}

func (e EncodingType) String() string {
	switch e {
	case EncodingRaw:
		return "Raw"
	case EncodingCopyRect:
		return "CopyRect"
	case EncodingZRLE:
		return "ZRLE"
	default:
		return fmt.Sprintf("Unsupported(%d)", int32(e))
	}
}

const rectangleHeaderLen = 12

// RectangleHeader is the 12-byte big-endian header preceding every
// rectangle inside a FramebufferUpdate message (RFC 6143 section 7.6.1).
type RectangleHeader struct {
	X        uint16
	Y        uint16
	Width    uint16
	Height   uint16
	Encoding EncodingType
}

func parseRectangleHeader(b []byte) RectangleHeader {
	return RectangleHeader{
		X:        binary.BigEndian.Uint16(b[0:2]),
		Y:        binary.BigEndian.Uint16(b[2:4]),
		Width:    binary.BigEndian.Uint16(b[4:6]),
		Height:   binary.BigEndian.Uint16(b[6:8]),
		Encoding: EncodingType(int32(binary.BigEndian.Uint32(b[8:12]))),
	}
}

// EncodedRectangle carries a rectangle exactly as read off the wire.
// For ZRLE the payload includes the 4-byte compressed-length prefix so
// the decoder can validate the framing itself.
type EncodedRectangle struct {
	Header  RectangleHeader
	Payload []byte
}

// DecodedRectangle is a rectangle ready for blitting. After ZRLE
// decoding the Encoding field becomes EncodingRaw and Pixels holds
// Width*Height client pixels; other encodings pass their payload
// through unchanged.
type DecodedRectangle struct {
	X        uint16
	Y        uint16
	Width    uint16
	Height   uint16
	Encoding EncodingType
	Pixels   []byte
}

// FramebufferUpdate is a parsed FramebufferUpdate server message.
// Rectangle order matches wire order; ZRLE rectangles must be decoded
// in this order because they share one zlib stream.
type FramebufferUpdate struct {
	Rectangles []EncodedRectangle
}
