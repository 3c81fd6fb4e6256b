package handler

import (
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spokplacenta/rfb-html5/internal/rfb"
)

func TestIsAllowedOrigin(t *testing.T) {
	t.Run("unconfigured means localhost only", func(t *testing.T) {
		assert.True(t, isAllowedOrigin("http://localhost:8080", nil))
		assert.True(t, isAllowedOrigin("http://127.0.0.1:3000", nil))
		assert.False(t, isAllowedOrigin("https://anywhere.example", nil))
		assert.False(t, isAllowedOrigin("", nil))
	})

	t.Run("allowlist is enforced", func(t *testing.T) {
		allowed := []string{"https://good.example"}
		assert.True(t, isAllowedOrigin("https://good.example", allowed))
		assert.False(t, isAllowedOrigin("https://evil.example", allowed))
	})

	t.Run("localhost always allowed", func(t *testing.T) {
		allowed := []string{"https://good.example"}
		assert.True(t, isAllowedOrigin("http://localhost:8080", allowed))
		assert.True(t, isAllowedOrigin("http://127.0.0.1:3000", allowed))
	})
}

// wsPair runs fn server-side over a real websocket and returns the
// client side.
func wsPair(t *testing.T, fn func(s *session)) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		fn(&session{ws: conn})
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestSendRectangleFraming(t *testing.T) {
	pixels := []byte{1, 2, 3, 0xFF, 4, 5, 6, 0xFF}

	client := wsPair(t, func(s *session) {
		err := s.sendRectangle(rfb.DecodedRectangle{
			X:        3,
			Y:        7,
			Width:    2,
			Height:   1,
			Encoding: rfb.EncodingRaw,
			Pixels:   pixels,
		})
		assert.NoError(t, err)
	})

	msgType, frame, err := client.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, websocket.BinaryMessage, msgType)
	require.Len(t, frame, 13+len(pixels))

	assert.Equal(t, frameTypeRectangle, frame[0])
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(frame[1:3]))
	assert.Equal(t, uint16(7), binary.BigEndian.Uint16(frame[3:5]))
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(frame[5:7]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(frame[7:9]))
	assert.Equal(t, int32(rfb.EncodingRaw), int32(binary.BigEndian.Uint32(frame[9:13])))
	assert.Equal(t, pixels, frame[13:])
}

func TestConnectRejectsMissingHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(Connect))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connect"
	header := http.Header{"Origin": {"http://localhost"}}
	client, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer client.Close()

	// The handler closes the socket without sending anything.
	_, _, err = client.ReadMessage()
	assert.Error(t, err)
}

func TestConnectRejectsDisallowedOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(Connect))
	defer srv.Close()

	// No allowlist is configured, so only localhost origins may upgrade.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connect"
	header := http.Header{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
