package codec

import (
	"github.com/spokplacenta/rfb-html5/internal/logging"
	"github.com/spokplacenta/rfb-html5/internal/rfb"
)

// Converter turns encoded rectangles into decoded ones. Raw, CopyRect
// and unsupported rectangles pass through unchanged; ZRLE rectangles
// are routed through the session's Decoder.
type Converter struct {
	zrle *Decoder
}

// NewConverter creates a Converter. zrle may be nil when ZRLE was not
// negotiated; ZRLE rectangles then pass through undecoded with a
// warning.
func NewConverter(zrle *Decoder) *Converter {
	return &Converter{zrle: zrle}
}

// Convert decodes one rectangle. A decoded rectangle is always
// returned; on ZRLE decode failure it carries the original payload and
// encoding tag, and the returned error signals that the session's zlib
// stream is desynchronised — the caller should tear the connection
// down. The decoder is deliberately not recreated here: a fresh
// inflater cannot rejoin a stream mid-way.
func (c *Converter) Convert(rect rfb.EncodedRectangle) (rfb.DecodedRectangle, error) {
	h := rect.Header

	decoded := rfb.DecodedRectangle{
		X:        h.X,
		Y:        h.Y,
		Width:    h.Width,
		Height:   h.Height,
		Encoding: h.Encoding,
		Pixels:   rect.Payload,
	}

	if h.Encoding != rfb.EncodingZRLE {
		return decoded, nil
	}

	if c.zrle == nil {
		logging.Warn("ZRLE rectangle at (%d,%d) with no decoder configured, passing through", h.X, h.Y)
		return decoded, nil
	}

	pixels, err := c.zrle.Decode(rect.Payload, int(h.Width), int(h.Height))
	if err != nil {
		logging.Warn("ZRLE decode failed at (%d,%d) %dx%d: %v", h.X, h.Y, h.Width, h.Height, err)
		return decoded, err
	}

	decoded.Encoding = rfb.EncodingRaw
	decoded.Pixels = pixels

	return decoded, nil
}
