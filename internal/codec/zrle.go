// Package codec decodes RFB rectangle payloads into the client's pixel
// layout. The bulk of it is the ZRLE decoder (RFC 6143 section 7.7.6):
// a session-scoped zlib stream carrying a grid of 64x64 tiles, each
// tile compressed with one of six sub-encodings over compact pixels.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/spokplacenta/rfb-html5/internal/rfb"
)

const tileSize = 64

// Decoder decodes ZRLE rectangle payloads. One Decoder serves one RFB
// session: every ZRLE rectangle of the session is a slice of the same
// zlib stream and must pass through the same Decoder, in wire order.
// Not safe for concurrent use.
type Decoder struct {
	pixelFormat   rfb.PixelFormat
	bytesPerPixel int
	cpixelSize    int

	inflater *streamInflater

	// leftover holds decompressed bytes beyond the previous
	// rectangle's tiles, produced when the server's flush boundary
	// does not line up with the rectangle boundary.
	leftover []byte
}

// NewDecoder creates a Decoder for the given client pixel format.
func NewDecoder(pf rfb.PixelFormat) *Decoder {
	return &Decoder{
		pixelFormat:   pf,
		bytesPerPixel: pf.BytesPerPixel(),
		cpixelSize:    pf.CPixelSize(),
	}
}

// Reset discards the zlib stream. Required when a new session starts,
// never mid-session: resetting between rectangles of one session
// desynchronises the stream.
func (d *Decoder) Reset() {
	if d.inflater != nil {
		d.inflater.close()
		d.inflater = nil
	}
	d.leftover = nil
}

// Close releases the decoder's resources. The decoder is unusable
// afterwards.
func (d *Decoder) Close() {
	d.Reset()
}

// Decode inflates and decodes one ZRLE rectangle payload (including
// its 4-byte compressed-length prefix) into width*height client
// pixels. On any structural error the session is poisoned: the shared
// zlib stream can no longer be trusted and the caller must tear the
// connection down.
func (d *Decoder) Decode(payload []byte, width, height int) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedPayload, len(payload))
	}

	declaredLength := int(binary.BigEndian.Uint32(payload[:4]))
	if len(payload)-4 < declaredLength {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrLengthMismatch, declaredLength, len(payload)-4)
	}

	out := make([]byte, width*height*d.bytesPerPixel)
	if declaredLength == 0 {
		return out, nil
	}

	if d.inflater == nil {
		d.inflater = newStreamInflater()
	}

	if err := d.inflater.feed(payload[4 : 4+declaredLength]); err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}

	inflated, err := d.inflater.drain()
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}

	data := inflated
	if len(d.leftover) > 0 {
		data = append(d.leftover, inflated...)
	}

	offset := 0
	for tileY := 0; tileY < height; tileY += tileSize {
		for tileX := 0; tileX < width; tileX += tileSize {
			tileWidth := min(tileSize, width-tileX)
			tileHeight := min(tileSize, height-tileY)

			n, err := d.decodeTile(data[offset:], out, tileX, tileY, tileWidth, tileHeight, width)
			if err != nil {
				return nil, fmt.Errorf("tile at (%d,%d): %w", tileX, tileY, err)
			}
			offset += n
		}
	}

	d.leftover = append(d.leftover[:0:0], data[offset:]...)

	return out, nil
}

// ZRLE tile sub-encodings: the first byte of every tile.
//
//	0        raw CPIXELs
//	1        solid colour
//	2..127   packed palette of that many entries
//	128      plain RLE
//	129      reserved
//	130..255 palette RLE of (n-128) entries
func (d *Decoder) decodeTile(data, out []byte, tileX, tileY, tileWidth, tileHeight, stride int) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: missing subencoding byte", ErrTruncatedTile)
	}

	subencoding := data[0]

	switch {
	case subencoding == 0:
		return d.decodeRawTile(data, out, tileX, tileY, tileWidth, tileHeight, stride)
	case subencoding == 1:
		return d.decodeSolidTile(data, out, tileX, tileY, tileWidth, tileHeight, stride)
	case subencoding <= 127:
		return d.decodePackedPaletteTile(data, out, int(subencoding), tileX, tileY, tileWidth, tileHeight, stride)
	case subencoding == 128:
		return d.decodePlainRLETile(data, out, tileX, tileY, tileWidth, tileHeight, stride)
	case subencoding == 129:
		return 0, fmt.Errorf("%w: 129 is reserved", ErrUnknownSubencoding)
	default:
		return d.decodePaletteRLETile(data, out, int(subencoding)-128, tileX, tileY, tileWidth, tileHeight, stride)
	}
}

func (d *Decoder) decodeRawTile(data, out []byte, tileX, tileY, tileWidth, tileHeight, stride int) (int, error) {
	pos := 1
	need := tileWidth * tileHeight * d.cpixelSize
	if len(data) < pos+need {
		return 0, fmt.Errorf("%w: raw tile needs %d bytes, have %d", ErrTruncatedTile, need, len(data)-pos)
	}

	for row := 0; row < tileHeight; row++ {
		for col := 0; col < tileWidth; col++ {
			d.putCPixel(out, ((tileY+row)*stride+tileX+col)*d.bytesPerPixel, data[pos:])
			pos += d.cpixelSize
		}
	}

	return pos, nil
}

func (d *Decoder) decodeSolidTile(data, out []byte, tileX, tileY, tileWidth, tileHeight, stride int) (int, error) {
	pos := 1
	if len(data) < pos+d.cpixelSize {
		return 0, fmt.Errorf("%w: solid tile colour", ErrTruncatedTile)
	}

	var pixel [4]byte
	d.putCPixel(pixel[:], 0, data[pos:])
	pos += d.cpixelSize

	for row := 0; row < tileHeight; row++ {
		rowOffset := ((tileY+row)*stride + tileX) * d.bytesPerPixel
		for col := 0; col < tileWidth; col++ {
			copy(out[rowOffset+col*d.bytesPerPixel:], pixel[:d.bytesPerPixel])
		}
	}

	return pos, nil
}

// paletteIndexBits maps palette size to the packed index width.
func paletteIndexBits(paletteSize int) int {
	switch {
	case paletteSize <= 2:
		return 1
	case paletteSize <= 4:
		return 2
	case paletteSize <= 16:
		return 4
	default:
		return 8
	}
}

func (d *Decoder) readPalette(data []byte, pos, size int) ([]byte, int, error) {
	need := size * d.cpixelSize
	if len(data) < pos+need {
		return nil, 0, fmt.Errorf("%w: palette of %d entries", ErrTruncatedTile, size)
	}

	return data[pos : pos+need], pos + need, nil
}

// decodePackedPaletteTile reads a palette and bit-packed indices.
// Indices are packed MSB-first and every row is padded to a whole byte:
// leftover bits never carry across rows.
func (d *Decoder) decodePackedPaletteTile(data, out []byte, paletteSize, tileX, tileY, tileWidth, tileHeight, stride int) (int, error) {
	palette, pos, err := d.readPalette(data, 1, paletteSize)
	if err != nil {
		return 0, err
	}

	bits := paletteIndexBits(paletteSize)
	mask := byte(1<<bits - 1)
	rowBytes := (tileWidth*bits + 7) / 8

	if len(data) < pos+rowBytes*tileHeight {
		return 0, fmt.Errorf("%w: packed indices need %d bytes, have %d", ErrTruncatedTile, rowBytes*tileHeight, len(data)-pos)
	}

	for row := 0; row < tileHeight; row++ {
		rowData := data[pos : pos+rowBytes]
		pos += rowBytes

		bit := 0
		for col := 0; col < tileWidth; col++ {
			shift := 8 - bits - bit%8
			index := int(rowData[bit/8]>>shift) & int(mask)
			bit += bits

			if index >= paletteSize {
				return 0, fmt.Errorf("%w: packed index %d, palette size %d", ErrPaletteIndex, index, paletteSize)
			}

			d.putCPixel(out, ((tileY+row)*stride+tileX+col)*d.bytesPerPixel, palette[index*d.cpixelSize:])
		}
	}

	return pos, nil
}

func (d *Decoder) decodePlainRLETile(data, out []byte, tileX, tileY, tileWidth, tileHeight, stride int) (int, error) {
	pos := 1
	total := tileWidth * tileHeight
	written := 0

	for written < total {
		if len(data) < pos+d.cpixelSize {
			return 0, fmt.Errorf("%w: RLE colour", ErrTruncatedTile)
		}
		cpixel := data[pos : pos+d.cpixelSize]
		pos += d.cpixelSize

		runLength, next, err := readRunLength(data, pos)
		if err != nil {
			return 0, err
		}
		pos = next

		if written+runLength > total {
			return 0, fmt.Errorf("%w: run of %d at pixel %d of %d", ErrRunOverflow, runLength, written, total)
		}

		d.fillRun(out, cpixel, written, runLength, tileX, tileY, tileWidth, stride)
		written += runLength
	}

	return pos, nil
}

func (d *Decoder) decodePaletteRLETile(data, out []byte, paletteSize, tileX, tileY, tileWidth, tileHeight, stride int) (int, error) {
	palette, pos, err := d.readPalette(data, 1, paletteSize)
	if err != nil {
		return 0, err
	}

	total := tileWidth * tileHeight
	written := 0

	for written < total {
		if len(data) <= pos {
			return 0, fmt.Errorf("%w: RLE entry byte", ErrTruncatedTile)
		}
		entry := data[pos]
		pos++

		index := int(entry & 0x7f)
		if index >= paletteSize {
			return 0, fmt.Errorf("%w: RLE index %d, palette size %d", ErrPaletteIndex, index, paletteSize)
		}

		runLength := 1
		if entry&0x80 != 0 {
			runLength, pos, err = readRunLength(data, pos)
			if err != nil {
				return 0, err
			}
		}

		if written+runLength > total {
			return 0, fmt.Errorf("%w: run of %d at pixel %d of %d", ErrRunOverflow, runLength, written, total)
		}

		d.fillRun(out, palette[index*d.cpixelSize:], written, runLength, tileX, tileY, tileWidth, stride)
		written += runLength
	}

	return pos, nil
}

// readRunLength reads ZRLE's variable-length run encoding: bytes are
// summed while they read 0xFF, then one final byte is added, and the
// run is one longer than the sum.
func readRunLength(data []byte, pos int) (runLength, next int, err error) {
	runLength = 1
	for {
		if pos >= len(data) {
			return 0, 0, fmt.Errorf("%w: run length", ErrTruncatedTile)
		}

		b := data[pos]
		pos++
		runLength += int(b)

		if b != 0xFF {
			return runLength, pos, nil
		}
	}
}

// fillRun writes runLength copies of one CPIXEL starting at the
// row-major pixel position start within the tile.
func (d *Decoder) fillRun(out, cpixel []byte, start, runLength, tileX, tileY, tileWidth, stride int) {
	row := start / tileWidth
	col := start % tileWidth

	for i := 0; i < runLength; i++ {
		d.putCPixel(out, ((tileY+row)*stride+tileX+col)*d.bytesPerPixel, cpixel)

		col++
		if col == tileWidth {
			col = 0
			row++
		}
	}
}

// putCPixel widens one compact pixel to a native pixel at out[offset:].
// The bytes the CPIXEL does not cover are set to 0xFF: the server never
// sends alpha and the client surface is opaque, so this is the one
// place alpha enters the pipeline.
func (d *Decoder) putCPixel(out []byte, offset int, cpixel []byte) {
	if d.pixelFormat.BigEndian {
		pad := d.bytesPerPixel - d.cpixelSize
		for i := 0; i < pad; i++ {
			out[offset+i] = 0xFF
		}
		copy(out[offset+pad:offset+d.bytesPerPixel], cpixel[:d.cpixelSize])
		return
	}

	copy(out[offset:], cpixel[:d.cpixelSize])
	for i := d.cpixelSize; i < d.bytesPerPixel; i++ {
		out[offset+i] = 0xFF
	}
}
