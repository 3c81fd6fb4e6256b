package codec

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressFlushed(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Flush())

	return buf.Bytes()
}

func TestInflaterSingleFeed(t *testing.T) {
	inf := newStreamInflater()
	defer inf.close()

	want := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, inf.feed(compressFlushed(t, want)))

	got, err := inf.drain()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInflaterSequentialFeeds(t *testing.T) {
	// One deflate stream flushed twice; each feed drains its own part.
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)

	_, err := zw.Write([]byte("first rectangle"))
	require.NoError(t, err)
	require.NoError(t, zw.Flush())
	part1 := append([]byte{}, buf.Bytes()...)
	buf.Reset()

	_, err = zw.Write([]byte("second rectangle"))
	require.NoError(t, err)
	require.NoError(t, zw.Flush())
	part2 := append([]byte{}, buf.Bytes()...)

	inf := newStreamInflater()
	defer inf.close()

	require.NoError(t, inf.feed(part1))
	got1, err := inf.drain()
	require.NoError(t, err)
	assert.Equal(t, []byte("first rectangle"), got1)

	require.NoError(t, inf.feed(part2))
	got2, err := inf.drain()
	require.NoError(t, err)
	assert.Equal(t, []byte("second rectangle"), got2)
}

func TestInflaterSplitMidStream(t *testing.T) {
	// A stream cut at an arbitrary byte boundary must not poison the
	// inflater: whatever the first half cannot yield arrives once the
	// second half is fed.
	want := bytes.Repeat([]byte("abcdefgh"), 512)
	compressed := compressFlushed(t, want)
	cut := len(compressed) / 2

	inf := newStreamInflater()
	defer inf.close()

	require.NoError(t, inf.feed(compressed[:cut]))
	got1, err := inf.drain()
	require.NoError(t, err)

	require.NoError(t, inf.feed(compressed[cut:]))
	got2, err := inf.drain()
	require.NoError(t, err)

	assert.Equal(t, want, append(got1, got2...))
}

func TestInflaterCorruptStream(t *testing.T) {
	inf := newStreamInflater()
	defer inf.close()

	// Not a zlib header.
	require.NoError(t, inf.feed([]byte{0xDE, 0xAD, 0xBE, 0xEF}))

	_, err := inf.drain()
	assert.Error(t, err)

	// The failure is terminal.
	assert.Error(t, inf.feed([]byte{0x00}))
}

func TestInflaterClose(t *testing.T) {
	inf := newStreamInflater()
	inf.close()

	err := inf.feed([]byte{0x78, 0x9C})
	assert.ErrorIs(t, err, ErrInflaterClosed)
}
