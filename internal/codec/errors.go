package codec

import "errors"

// Structural errors inside a ZRLE payload. All of them poison the
// session: the shared zlib stream is desynchronised once a rectangle
// fails to parse, so the caller must tear the connection down.
var (
	ErrTruncatedPayload   = errors.New("zrle: truncated payload")
	ErrLengthMismatch     = errors.New("zrle: declared compressed length exceeds payload")
	ErrTruncatedTile      = errors.New("zrle: truncated tile data")
	ErrUnknownSubencoding = errors.New("zrle: unknown tile subencoding")
	ErrPaletteIndex       = errors.New("zrle: palette index out of range")
	ErrRunOverflow        = errors.New("zrle: run length overflows tile")
	ErrInflaterClosed     = errors.New("zrle: inflater closed")
)
