// Package handler bridges browser websockets to RFB sessions. Each
// websocket connection owns one RFB session: decoded framebuffer
// rectangles flow to the browser as binary frames and input events
// flow back as raw RFB client messages.
package handler

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/spokplacenta/rfb-html5/internal/codec"
	"github.com/spokplacenta/rfb-html5/internal/config"
	"github.com/spokplacenta/rfb-html5/internal/logging"
	"github.com/spokplacenta/rfb-html5/internal/rfb"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192 * 2
)

// Browser frame discriminators: the first byte of every message sent
// to the browser.
const (
	frameTypeRectangle uint8 = 0x00
	frameTypeMeta      uint8 = 0xFF
)

// Connect upgrades the request to a websocket and runs an RFB session
// against the server named in the query string.
func Connect(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			logging.Error("load config: %v", err)
			http.Error(w, "server misconfigured", http.StatusInternalServerError)

			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isAllowedOrigin(r.Header.Get("Origin"), cfg.Security.AllowedOrigins)
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("upgrade websocket: %v", err)

		return
	}

	defer func() {
		if err = wsConn.Close(); err != nil {
			logging.Debug("closing websocket: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	host := r.URL.Query().Get("host")
	if host == "" {
		logging.Warn("connect request without host")

		return
	}
	password := r.URL.Query().Get("password")

	vncClient, err := rfb.NewClient(host, password)
	if err != nil {
		logging.Error("vnc dial: %v", err)

		return
	}
	defer vncClient.Close()

	vncClient.SetUpdateTimeout(cfg.VNC.UpdateTimeout)

	if err = vncClient.Handshake(); err != nil {
		logging.Error("vnc handshake: %v", err)

		return
	}

	if err = setupSession(vncClient); err != nil {
		logging.Error("vnc session setup: %v", err)

		return
	}

	sess := &session{
		ws:        wsConn,
		vnc:       vncClient,
		converter: codec.NewConverter(codec.NewDecoder(vncClient.PixelFormat())),
	}

	if err = sess.sendServerInit(); err != nil {
		logging.Error("send server init: %v", err)

		return
	}

	go sess.wsToVNC(ctx, cancel)
	sess.vncToWS(ctx)
}

// setupSession declares the client's pixel format and encodings and
// requests the first full-framebuffer update.
func setupSession(c *rfb.Conn) error {
	if err := c.SetPixelFormat(rfb.DefaultPixelFormat); err != nil {
		return fmt.Errorf("set pixel format: %w", err)
	}

	if err := c.SetEncodings(rfb.EncodingZRLE, rfb.EncodingCopyRect, rfb.EncodingRaw); err != nil {
		return fmt.Errorf("set encodings: %w", err)
	}

	if err := c.RequestUpdate(false); err != nil {
		return fmt.Errorf("request update: %w", err)
	}

	return nil
}

type session struct {
	ws        *websocket.Conn
	vnc       *rfb.Conn
	converter *codec.Converter

	wsMutex sync.Mutex
}

func (s *session) sendServerInit() error {
	msg := fmt.Sprintf(`{"type":"serverInit","width":%d,"height":%d,"name":%q}`,
		s.vnc.FramebufferWidth(), s.vnc.FramebufferHeight(), s.vnc.DesktopName())

	frame := make([]byte, 1+len(msg))
	frame[0] = frameTypeMeta
	copy(frame[1:], msg)

	return s.writeFrame(frame)
}

// wsToVNC relays browser input events to the RFB server.
func (s *session) wsToVNC(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			logging.Debug("read from websocket: %v", err)

			return
		}

		if err = s.vnc.SendInputEvent(data); err != nil {
			logging.Warn("forward input event: %v", err)

			return
		}
	}
}

// vncToWS pumps framebuffer updates to the browser. Rectangles are
// decoded in wire order; a decode error tears the session down because
// the ZRLE stream cannot be resynchronised.
func (s *session) vncToWS(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		update, err := s.vnc.NextUpdate()
		if err != nil {
			s.flushUpdate(update)
			logging.Error("get update: %v", err)

			return
		}

		if !s.flushUpdate(update) {
			return
		}

		if err = s.vnc.RequestUpdate(true); err != nil {
			logging.Error("request update: %v", err)

			return
		}
	}
}

// flushUpdate converts and forwards every rectangle of an update.
// Returns false when the session must end.
func (s *session) flushUpdate(update *rfb.FramebufferUpdate) bool {
	if update == nil {
		return false
	}

	for _, rect := range update.Rectangles {
		decoded, err := s.converter.Convert(rect)

		if sendErr := s.sendRectangle(decoded); sendErr != nil {
			if !errors.Is(sendErr, websocket.ErrCloseSent) {
				logging.Debug("send rectangle: %v", sendErr)
			}

			return false
		}

		if err != nil {
			// The zlib stream is desynchronised; nothing after this
			// rectangle can be decoded.
			logging.Error("decode rectangle: %v", err)

			return false
		}
	}

	return true
}

// sendRectangle frames a decoded rectangle for the browser:
// type byte, 12-byte big-endian rectangle header, pixel payload.
func (s *session) sendRectangle(rect rfb.DecodedRectangle) error {
	frame := make([]byte, 13+len(rect.Pixels))
	frame[0] = frameTypeRectangle
	binary.BigEndian.PutUint16(frame[1:3], rect.X)
	binary.BigEndian.PutUint16(frame[3:5], rect.Y)
	binary.BigEndian.PutUint16(frame[5:7], rect.Width)
	binary.BigEndian.PutUint16(frame[7:9], rect.Height)
	binary.BigEndian.PutUint32(frame[9:13], uint32(int32(rect.Encoding)))
	copy(frame[13:], rect.Pixels)

	return s.writeFrame(frame)
}

func (s *session) writeFrame(frame []byte) error {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	return s.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// isAllowedOrigin checks a websocket origin against the configured
// allowlist. Localhost is always accepted; with no allowlist
// configured, localhost is all that is accepted — this endpoint grants
// input injection and carries credentials, so unconfigured means
// closed, not open.
func isAllowedOrigin(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return false
	}

	normalized := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	normalized = strings.TrimSuffix(normalized, "/")

	host := normalized
	if h, _, err := net.SplitHostPort(normalized); err == nil {
		host = h
	}
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}

	for _, entry := range allowedOrigins {
		candidate := strings.TrimSpace(entry)
		if candidate == "" {
			continue
		}
		if candidate == origin || candidate == normalized {
			return true
		}
		if strings.TrimPrefix(candidate, "http://") == normalized || strings.TrimPrefix(candidate, "https://") == normalized {
			return true
		}
	}

	return false
}
