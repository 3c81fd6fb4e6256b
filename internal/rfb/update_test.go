package rfb

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConn returns a client over one end of an in-memory pipe and a
// function that writes a scripted server byte stream to the other end.
func testConn(t *testing.T) (*Conn, func([]byte)) {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})

	conn := NewConn(clientSide, "")

	send := func(b []byte) {
		go func() {
			_, _ = serverSide.Write(b)
		}()
	}

	return conn, send
}

func rectHeaderBytes(x, y, w, h uint16, encoding int32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint16(b[0:2], x)
	binary.BigEndian.PutUint16(b[2:4], y)
	binary.BigEndian.PutUint16(b[4:6], w)
	binary.BigEndian.PutUint16(b[6:8], h)
	binary.BigEndian.PutUint32(b[8:12], uint32(encoding))
	return b
}

func TestNextUpdateRawAndCopyRect(t *testing.T) {
	conn, send := testConn(t)

	var msg bytes.Buffer
	msg.WriteByte(0) // FramebufferUpdate
	msg.WriteByte(0) // padding
	binary.Write(&msg, binary.BigEndian, uint16(2))

	// Raw 2x1 rectangle: 2*1*4 payload bytes.
	msg.Write(rectHeaderBytes(0, 0, 2, 1, 0))
	rawPixels := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	msg.Write(rawPixels)

	// CopyRect: 4 payload bytes.
	msg.Write(rectHeaderBytes(10, 20, 5, 5, 1))
	msg.Write([]byte{0, 30, 0, 40})

	send(msg.Bytes())

	update, err := conn.NextUpdate()
	require.NoError(t, err)
	require.Len(t, update.Rectangles, 2)

	raw := update.Rectangles[0]
	assert.Equal(t, EncodingRaw, raw.Header.Encoding)
	assert.Equal(t, uint16(2), raw.Header.Width)
	assert.Equal(t, rawPixels, raw.Payload)

	copyRect := update.Rectangles[1]
	assert.Equal(t, EncodingCopyRect, copyRect.Header.Encoding)
	assert.Equal(t, uint16(10), copyRect.Header.X)
	assert.Equal(t, []byte{0, 30, 0, 40}, copyRect.Payload)
}

func TestNextUpdateZRLEKeepsLengthPrefix(t *testing.T) {
	conn, send := testConn(t)

	compressed := []byte{0x78, 0x9C, 0x01, 0x02, 0x03}

	var msg bytes.Buffer
	msg.WriteByte(0)
	msg.WriteByte(0)
	binary.Write(&msg, binary.BigEndian, uint16(1))
	msg.Write(rectHeaderBytes(0, 0, 64, 64, 16))
	binary.Write(&msg, binary.BigEndian, uint32(len(compressed)))
	msg.Write(compressed)

	send(msg.Bytes())

	update, err := conn.NextUpdate()
	require.NoError(t, err)
	require.Len(t, update.Rectangles, 1)

	rect := update.Rectangles[0]
	assert.Equal(t, EncodingZRLE, rect.Header.Encoding)

	want := append([]byte{0, 0, 0, 5}, compressed...)
	assert.Equal(t, want, rect.Payload)
}

func TestNextUpdateZRLEZeroLength(t *testing.T) {
	conn, send := testConn(t)

	var msg bytes.Buffer
	msg.WriteByte(0)
	msg.WriteByte(0)
	binary.Write(&msg, binary.BigEndian, uint16(1))
	msg.Write(rectHeaderBytes(0, 0, 4, 4, 16))
	binary.Write(&msg, binary.BigEndian, uint32(0))

	send(msg.Bytes())

	update, err := conn.NextUpdate()
	require.NoError(t, err)
	require.Len(t, update.Rectangles, 1)
	assert.Equal(t, []byte{0, 0, 0, 0}, update.Rectangles[0].Payload)
}

func TestNextUpdateUnsupportedEncoding(t *testing.T) {
	conn, send := testConn(t)

	var msg bytes.Buffer
	msg.WriteByte(0)
	msg.WriteByte(0)
	binary.Write(&msg, binary.BigEndian, uint16(2))
	// Hextile (5) is not supported; its payload length is unknowable,
	// so the second rectangle must never be read.
	msg.Write(rectHeaderBytes(0, 0, 16, 16, 5))

	send(msg.Bytes())

	update, err := conn.NextUpdate()
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
	require.NotNil(t, update)
	assert.Empty(t, update.Rectangles)
}

func TestNextUpdateSkipsNonUpdateMessages(t *testing.T) {
	conn, send := testConn(t)

	var msg bytes.Buffer

	// Bell.
	msg.WriteByte(2)

	// SetColorMapEntries with 2 entries.
	msg.WriteByte(1)
	msg.WriteByte(0)                                // padding
	binary.Write(&msg, binary.BigEndian, uint16(0)) // first colour
	binary.Write(&msg, binary.BigEndian, uint16(2))
	msg.Write(make([]byte, 2*6))

	// ServerCutText "hi".
	msg.WriteByte(3)
	msg.Write([]byte{0, 0, 0})
	binary.Write(&msg, binary.BigEndian, uint32(2))
	msg.WriteString("hi")

	// Finally an empty FramebufferUpdate.
	msg.WriteByte(0)
	msg.WriteByte(0)
	binary.Write(&msg, binary.BigEndian, uint16(0))

	send(msg.Bytes())

	update, err := conn.NextUpdate()
	require.NoError(t, err)
	assert.Empty(t, update.Rectangles)
}

func TestNextUpdateUnknownMessageType(t *testing.T) {
	conn, send := testConn(t)

	send([]byte{0xFE})

	_, err := conn.NextUpdate()
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestNextUpdateShortRead(t *testing.T) {
	conn, send := testConn(t)
	conn.SetUpdateTimeout(200 * time.Millisecond)

	// Message truncated inside the rectangle header.
	var msg bytes.Buffer
	msg.WriteByte(0)
	msg.WriteByte(0)
	binary.Write(&msg, binary.BigEndian, uint16(1))
	msg.Write([]byte{0, 0, 0, 0, 0, 2}) // 6 of 12 header bytes

	send(msg.Bytes())

	_, err := conn.NextUpdate()
	assert.Error(t, err)
}

func TestParseRectangleHeader(t *testing.T) {
	header := parseRectangleHeader(rectHeaderBytes(1, 2, 3, 4, -239))

	assert.Equal(t, uint16(1), header.X)
	assert.Equal(t, uint16(2), header.Y)
	assert.Equal(t, uint16(3), header.Width)
	assert.Equal(t, uint16(4), header.Height)
	assert.Equal(t, EncodingType(-239), header.Encoding)
	assert.False(t, header.Encoding.Supported())
}

func TestEncodingTypeString(t *testing.T) {
	assert.Equal(t, "Raw", EncodingRaw.String())
	assert.Equal(t, "CopyRect", EncodingCopyRect.String())
	assert.Equal(t, "ZRLE", EncodingZRLE.String())
	assert.Equal(t, "Unsupported(6)", EncodingType(6).String())
}
