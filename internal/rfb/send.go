package rfb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Client-to-server message types (RFC 6143 section 7.5).
const (
	msgSetPixelFormat           uint8 = 0
	msgSetEncodings             uint8 = 2
	msgFramebufferUpdateRequest uint8 = 3
	msgKeyEvent                 uint8 = 4
	msgPointerEvent             uint8 = 5
	msgClientCutText            uint8 = 6
)

// SetPixelFormat tells the server the layout to use for all subsequent
// pixel data and records it as the connection's format.
func (c *Conn) SetPixelFormat(pf PixelFormat) error {
	if err := pf.Validate(); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(msgSetPixelFormat)
	buf.Write([]byte{0, 0, 0}) // padding
	buf.Write(pf.Serialize())

	if err := c.write(buf.Bytes()); err != nil {
		return err
	}

	c.pixelFormat = pf

	return nil
}

// SetEncodings declares the encodings the client accepts, in order of
// preference.
func (c *Conn) SetEncodings(encs ...EncodingType) error {
	buf := new(bytes.Buffer)
	buf.WriteByte(msgSetEncodings)
	buf.WriteByte(0) // padding
	binary.Write(buf, binary.BigEndian, uint16(len(encs)))
	for _, e := range encs {
		binary.Write(buf, binary.BigEndian, int32(e))
	}

	return c.write(buf.Bytes())
}

// RequestUpdate asks the server for a framebuffer update covering the
// whole desktop. Incremental requests only deliver changed regions.
func (c *Conn) RequestUpdate(incremental bool) error {
	buf := new(bytes.Buffer)
	buf.WriteByte(msgFramebufferUpdateRequest)
	if incremental {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	binary.Write(buf, binary.BigEndian, uint16(0))
	binary.Write(buf, binary.BigEndian, uint16(0))
	binary.Write(buf, binary.BigEndian, c.fbWidth)
	binary.Write(buf, binary.BigEndian, c.fbHeight)

	return c.write(buf.Bytes())
}

// PointerEvent reports pointer position and button state. buttonMask
// bit n corresponds to button n+1.
func (c *Conn) PointerEvent(buttonMask uint8, x, y uint16) error {
	buf := new(bytes.Buffer)
	buf.WriteByte(msgPointerEvent)
	buf.WriteByte(buttonMask)
	binary.Write(buf, binary.BigEndian, x)
	binary.Write(buf, binary.BigEndian, y)

	return c.write(buf.Bytes())
}

// KeyEvent reports a key press or release by X11 keysym.
func (c *Conn) KeyEvent(keysym uint32, down bool) error {
	buf := new(bytes.Buffer)
	buf.WriteByte(msgKeyEvent)
	if down {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write([]byte{0, 0}) // padding
	binary.Write(buf, binary.BigEndian, keysym)

	return c.write(buf.Bytes())
}

// SendInputEvent relays a pre-built client-to-server message, as
// produced by the browser side of the bridge. Only input messages are
// allowed through.
func (c *Conn) SendInputEvent(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty input event")
	}

	switch data[0] {
	case msgKeyEvent, msgPointerEvent, msgClientCutText:
		return c.write(data)
	default:
		return fmt.Errorf("input event with unexpected message type %d", data[0])
	}
}
