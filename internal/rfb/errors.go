package rfb

import "errors"

var (
	// ErrUnsupportedEncoding indicates the server sent a rectangle with an
	// encoding this client cannot consume. There is no way to skip an
	// unknown-length payload, so the session cannot be resynchronised.
	ErrUnsupportedEncoding = errors.New("rfb: unsupported encoding")

	// ErrInvalidPixelFormat indicates a pixel format outside the values
	// RFC 6143 permits.
	ErrInvalidPixelFormat = errors.New("rfb: invalid pixel format")

	// ErrBadProtocolVersion indicates a malformed ProtocolVersion message.
	ErrBadProtocolVersion = errors.New("rfb: malformed protocol version")

	// ErrUnsupportedSecurity indicates the server offered no security type
	// this client implements.
	ErrUnsupportedSecurity = errors.New("rfb: no mutually supported security type")

	// ErrAuthFailed indicates the server rejected our credentials.
	ErrAuthFailed = errors.New("rfb: authentication failed")

	// ErrUnknownMessage indicates a server message type this client does
	// not recognise; like an unsupported encoding it poisons the stream.
	ErrUnknownMessage = errors.New("rfb: unknown server message type")
)
