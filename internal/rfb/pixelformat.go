package rfb

import (
	"encoding/binary"
	"fmt"
)

const pixelFormatLen = 16

// PixelFormat describes the wire layout of a single pixel
// (RFC 6143 section 7.4, PIXEL_FORMAT).
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColour   bool

	RedMax   uint16
	GreenMax uint16
	BlueMax  uint16

	RedShift   uint8
	GreenShift uint8
	BlueShift  uint8
}

// DefaultPixelFormat is the client's fixed destination layout: 32-bit
// little-endian true colour with 24-bit depth. In memory each pixel is
// B,G,R,A with A forced to 0xFF by the decoders.
var DefaultPixelFormat = PixelFormat{
	BitsPerPixel: 32,
	Depth:        24,
	BigEndian:    false,
	TrueColour:   true,
	RedMax:       255,
	GreenMax:     255,
	BlueMax:      255,
	RedShift:     16,
	GreenShift:   8,
	BlueShift:    0,
}

// BytesPerPixel returns the native pixel width in bytes.
func (pf PixelFormat) BytesPerPixel() int {
	return (int(pf.BitsPerPixel) + 7) / 8
}

// CPixelSize returns the compact-pixel width in bytes used inside ZRLE
// tiles: the pixel trimmed to its significant depth.
func (pf PixelFormat) CPixelSize() int {
	return (int(pf.Depth) + 7) / 8
}

// Validate checks the format against the values RFC 6143 permits.
func (pf PixelFormat) Validate() error {
	switch pf.BitsPerPixel {
	case 8, 16, 32:
	default:
		return fmt.Errorf("%w: bits-per-pixel %d", ErrInvalidPixelFormat, pf.BitsPerPixel)
	}

	if pf.Depth < 1 || pf.Depth > 32 {
		return fmt.Errorf("%w: depth %d", ErrInvalidPixelFormat, pf.Depth)
	}

	if pf.Depth > pf.BitsPerPixel {
		return fmt.Errorf("%w: depth %d exceeds bits-per-pixel %d", ErrInvalidPixelFormat, pf.Depth, pf.BitsPerPixel)
	}

	return nil
}

// Serialize encodes the 16-byte wire form.
func (pf PixelFormat) Serialize() []byte {
	b := make([]byte, pixelFormatLen)

	b[0] = pf.BitsPerPixel
	b[1] = pf.Depth
	if pf.BigEndian {
		b[2] = 1
	}
	if pf.TrueColour {
		b[3] = 1
	}
	binary.BigEndian.PutUint16(b[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(b[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(b[8:10], pf.BlueMax)
	b[10] = pf.RedShift
	b[11] = pf.GreenShift
	b[12] = pf.BlueShift
	// b[13:16] padding

	return b
}

// Deserialize decodes the 16-byte wire form.
func (pf *PixelFormat) Deserialize(b []byte) error {
	if len(b) < pixelFormatLen {
		return fmt.Errorf("%w: pixel format needs %d bytes, have %d", ErrInvalidPixelFormat, pixelFormatLen, len(b))
	}

	pf.BitsPerPixel = b[0]
	pf.Depth = b[1]
	pf.BigEndian = b[2] != 0
	pf.TrueColour = b[3] != 0
	pf.RedMax = binary.BigEndian.Uint16(b[4:6])
	pf.GreenMax = binary.BigEndian.Uint16(b[6:8])
	pf.BlueMax = binary.BigEndian.Uint16(b[8:10])
	pf.RedShift = b[10]
	pf.GreenShift = b[11]
	pf.BlueShift = b[12]

	return pf.Validate()
}
