package rfb

import (
	"bytes"
	"crypto/des" // #nosec G502 - DES is mandated by the RFB VNC Authentication scheme
	"encoding/binary"
	"fmt"

	"github.com/spokplacenta/rfb-html5/internal/logging"
)

// Security types from RFC 6143 section 7.1.2.
const (
	securityTypeInvalid uint8 = 0
	securityTypeNone    uint8 = 1
	securityTypeVNCAuth uint8 = 2
)

const securityResultOK uint32 = 0

var (
	protocolVersion38 = []byte("RFB 003.008\n")
	protocolVersion33 = []byte("RFB 003.003\n")
)

// Handshake runs the RFB connection sequence: ProtocolVersion, security
// negotiation, SecurityResult, ClientInit and ServerInit. On return the
// framebuffer geometry and server pixel format are known.
func (c *Conn) Handshake() error {
	version, err := c.protocolVersionHandshake()
	if err != nil {
		return fmt.Errorf("protocol version: %w", err)
	}

	if err = c.securityHandshake(version); err != nil {
		return fmt.Errorf("security: %w", err)
	}

	if err = c.clientInit(); err != nil {
		return fmt.Errorf("client init: %w", err)
	}

	if err = c.serverInit(); err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	logging.Info("RFB session established: %q %dx%d", c.desktopName, c.fbWidth, c.fbHeight)

	return nil
}

// protocolVersionHandshake reads the server's ProtocolVersion message
// and answers with the highest version both sides speak (3.3 or 3.8;
// 3.5 and 3.7 servers are treated as 3.3 per RFC 6143 section 7.1.1).
func (c *Conn) protocolVersionHandshake() (minor int, err error) {
	b := make([]byte, len(protocolVersion38))
	if err = c.readFull(b); err != nil {
		return 0, err
	}

	var major int
	if n, _ := fmt.Sscanf(string(b), "RFB %d.%d\n", &major, &minor); n != 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadProtocolVersion, b)
	}

	if major != 3 {
		return 0, fmt.Errorf("%w: unsupported major version %d", ErrBadProtocolVersion, major)
	}

	if minor >= 8 {
		minor = 8
		err = c.write(protocolVersion38)
	} else {
		minor = 3
		err = c.write(protocolVersion33)
	}

	return minor, err
}

func (c *Conn) securityHandshake(versionMinor int) error {
	secType, err := c.negotiateSecurityType(versionMinor)
	if err != nil {
		return err
	}

	if secType == securityTypeVNCAuth {
		if err = c.vncAuth(); err != nil {
			return err
		}
	}

	// 3.3 servers only send SecurityResult for VNC Authentication.
	if versionMinor < 8 && secType == securityTypeNone {
		return nil
	}

	return c.securityResult(versionMinor)
}

func (c *Conn) negotiateSecurityType(versionMinor int) (uint8, error) {
	if versionMinor < 8 {
		// The server dictates the security type as a single uint32.
		b, err := c.readN(4)
		if err != nil {
			return 0, err
		}

		secType := uint8(binary.BigEndian.Uint32(b))
		switch secType {
		case securityTypeInvalid:
			reason, _ := c.readReasonString()
			return 0, fmt.Errorf("%w: server refused connection: %s", ErrUnsupportedSecurity, reason)
		case securityTypeNone, securityTypeVNCAuth:
			return secType, nil
		default:
			return 0, fmt.Errorf("%w: server selected type %d", ErrUnsupportedSecurity, secType)
		}
	}

	count, err := c.readN(1)
	if err != nil {
		return 0, err
	}

	if count[0] == 0 {
		reason, _ := c.readReasonString()
		return 0, fmt.Errorf("%w: server refused connection: %s", ErrUnsupportedSecurity, reason)
	}

	offered, err := c.readN(int(count[0]))
	if err != nil {
		return 0, err
	}

	chosen := securityTypeInvalid
	for _, t := range offered {
		if t == securityTypeNone {
			chosen = t
			break
		}
		if t == securityTypeVNCAuth && c.password != "" {
			chosen = t
		}
	}

	if chosen == securityTypeInvalid {
		return 0, fmt.Errorf("%w: server offered %v", ErrUnsupportedSecurity, offered)
	}

	if err = c.write([]byte{chosen}); err != nil {
		return 0, err
	}

	return chosen, nil
}

// vncAuth answers the 16-byte DES challenge (RFC 6143 section 7.2.2).
func (c *Conn) vncAuth() error {
	challenge, err := c.readN(16)
	if err != nil {
		return err
	}

	response, err := encryptChallenge(challenge, c.password)
	if err != nil {
		return err
	}

	return c.write(response)
}

// encryptChallenge DES-encrypts the challenge with the password as key.
// VNC flips the bit order within each key byte, a quirk inherited from
// the original implementation that every server expects.
func encryptChallenge(challenge []byte, password string) ([]byte, error) {
	var key [8]byte
	copy(key[:], password)
	for i, b := range key {
		key[i] = reverseBits(b)
	}

	block, err := des.NewCipher(key[:]) // #nosec G405
	if err != nil {
		return nil, err
	}

	response := make([]byte, len(challenge))
	for i := 0; i+block.BlockSize() <= len(challenge); i += block.BlockSize() {
		block.Encrypt(response[i:], challenge[i:])
	}

	return response, nil
}

func reverseBits(b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		r = r<<1 | (b>>i)&1
	}

	return r
}

func (c *Conn) securityResult(versionMinor int) error {
	b, err := c.readN(4)
	if err != nil {
		return err
	}

	if result := binary.BigEndian.Uint32(b); result != securityResultOK {
		if versionMinor >= 8 {
			reason, _ := c.readReasonString()
			return fmt.Errorf("%w: %s", ErrAuthFailed, reason)
		}

		return ErrAuthFailed
	}

	return nil
}

func (c *Conn) clientInit() error {
	sharedFlag := byte(0)
	if c.shared {
		sharedFlag = 1
	}

	return c.write([]byte{sharedFlag})
}

func (c *Conn) serverInit() error {
	b, err := c.readN(2 + 2 + pixelFormatLen + 4)
	if err != nil {
		return err
	}

	c.fbWidth = binary.BigEndian.Uint16(b[0:2])
	c.fbHeight = binary.BigEndian.Uint16(b[2:4])

	var serverFormat PixelFormat
	if err = serverFormat.Deserialize(b[4 : 4+pixelFormatLen]); err != nil {
		return err
	}
	logging.Debug("server pixel format: %+v", serverFormat)

	nameLen := binary.BigEndian.Uint32(b[4+pixelFormatLen:])
	name, err := c.readN(int(nameLen))
	if err != nil {
		return err
	}
	c.desktopName = string(bytes.ToValidUTF8(name, []byte("?")))

	return nil
}

// readReasonString reads a length-prefixed failure reason.
func (c *Conn) readReasonString() (string, error) {
	b, err := c.readN(4)
	if err != nil {
		return "", err
	}

	reason, err := c.readN(int(binary.BigEndian.Uint32(b)))
	if err != nil {
		return "", err
	}

	return string(reason), nil
}
