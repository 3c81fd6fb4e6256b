package rfb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spokplacenta/rfb-html5/internal/logging"
)

// Server-to-client message types (RFC 6143 section 7.6).
const (
	msgFramebufferUpdate  uint8 = 0
	msgSetColorMapEntries uint8 = 1
	msgBell               uint8 = 2
	msgServerCutText      uint8 = 3
)

// NextUpdate reads server messages until a FramebufferUpdate arrives
// and returns it parsed. Colour-map entries, bells and cut text are
// consumed and dropped. Any error leaves the connection unusable: a
// short read desynchronises the stream and there is no way back.
func (c *Conn) NextUpdate() (*FramebufferUpdate, error) {
	c.beginMessageDeadline()
	defer c.clearMessageDeadline()

	for {
		msgType, err := c.bufReader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read message type: %w", err)
		}

		switch msgType {
		case msgFramebufferUpdate:
			if _, err = c.bufReader.Discard(1); err != nil { // padding
				return nil, fmt.Errorf("read padding: %w", err)
			}

			return c.readFramebufferUpdate()

		case msgSetColorMapEntries:
			if err = c.skipColorMapEntries(); err != nil {
				return nil, err
			}

		case msgBell:
			logging.Debug("server bell")

		case msgServerCutText:
			if err = c.skipServerCutText(); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, msgType)
		}
	}
}

// readFramebufferUpdate parses the body of a FramebufferUpdate message:
// a 2-byte rectangle count followed by that many rectangles. The whole
// message is produced or an error is surfaced alone; a transport or
// read error yields no rectangles. The one exception is an unsupported
// encoding: it stops the read immediately — its payload length is
// unknowable, so nothing after it can be parsed — and the rectangles
// read before it accompany the error.
func (c *Conn) readFramebufferUpdate() (*FramebufferUpdate, error) {
	var countBuf [2]byte
	if err := c.readFull(countBuf[:]); err != nil {
		return nil, fmt.Errorf("read rectangle count: %w", err)
	}
	count := int(binary.BigEndian.Uint16(countBuf[:]))

	update := &FramebufferUpdate{Rectangles: make([]EncodedRectangle, 0, count)}

	for i := 0; i < count; i++ {
		rect, err := c.readRectangle()
		if err != nil {
			err = fmt.Errorf("rectangle %d/%d: %w", i+1, count, err)
			if errors.Is(err, ErrUnsupportedEncoding) {
				return update, err
			}

			return nil, err
		}

		update.Rectangles = append(update.Rectangles, rect)
	}

	return update, nil
}

// readRectangle reads one rectangle header and exactly the payload its
// encoding dictates. For ZRLE the returned payload keeps the 4-byte
// compressed-length prefix so the decoder can validate the framing.
func (c *Conn) readRectangle() (EncodedRectangle, error) {
	var rect EncodedRectangle

	hdr := make([]byte, rectangleHeaderLen)
	if err := c.readFull(hdr); err != nil {
		return rect, fmt.Errorf("read header: %w", err)
	}
	rect.Header = parseRectangleHeader(hdr)

	width := int(rect.Header.Width)
	height := int(rect.Header.Height)

	var err error

	switch rect.Header.Encoding {
	case EncodingRaw:
		rect.Payload, err = c.readN(width * height * c.pixelFormat.BytesPerPixel())

	case EncodingCopyRect:
		rect.Payload, err = c.readN(4) // source-x, source-y

	case EncodingZRLE:
		rect.Payload, err = c.readZRLEPayload()

	default:
		// Header acknowledged, payload unknowable.
		return rect, fmt.Errorf("%w: %s at (%d,%d)", ErrUnsupportedEncoding, rect.Header.Encoding, rect.Header.X, rect.Header.Y)
	}

	if err != nil {
		return rect, fmt.Errorf("read %s payload: %w", rect.Header.Encoding, err)
	}

	return rect, nil
}

func (c *Conn) readZRLEPayload() ([]byte, error) {
	var lengthBuf [4]byte
	if err := c.readFull(lengthBuf[:]); err != nil {
		return nil, err
	}

	compressedLength := binary.BigEndian.Uint32(lengthBuf[:])

	payload := make([]byte, 4+int(compressedLength))
	copy(payload, lengthBuf[:])
	if err := c.readFull(payload[4:]); err != nil {
		return nil, err
	}

	return payload, nil
}

func (c *Conn) skipColorMapEntries() error {
	var hdr [5]byte // padding + first-colour + number-of-colours
	if err := c.readFull(hdr[:]); err != nil {
		return fmt.Errorf("read colour map header: %w", err)
	}

	n := int(binary.BigEndian.Uint16(hdr[3:5]))
	if _, err := c.bufReader.Discard(n * 6); err != nil {
		return fmt.Errorf("skip colour map entries: %w", err)
	}

	logging.Debug("ignored %d colour map entries", n)

	return nil
}

func (c *Conn) skipServerCutText() error {
	var hdr [7]byte // 3 padding + length
	if err := c.readFull(hdr[:]); err != nil {
		return fmt.Errorf("read cut text header: %w", err)
	}

	n := int(binary.BigEndian.Uint32(hdr[3:7]))
	if _, err := c.bufReader.Discard(n); err != nil {
		return fmt.Errorf("skip cut text: %w", err)
	}

	return nil
}
