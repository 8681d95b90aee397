package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_RoundTrip(t *testing.T) {
	t.Parallel()

	in := Frame{Op: OpFetchDir, MsgID: 7, Payload: []byte("/flash\x00")}
	var dec decoder
	dec.feed(appendFrame(nil, in))

	out, ok := dec.next()
	require.True(t, ok)
	assert.Equal(t, in, out)

	_, ok = dec.next()
	assert.False(t, ok, "no second frame")
	assert.Zero(t, dec.takeDropped())
}

func TestDecoder_ChunkedFeed(t *testing.T) {
	t.Parallel()

	in := Frame{Op: OpFetchFile, MsgID: 3, Payload: []byte("hello world")}
	raw := appendFrame(nil, in)

	var dec decoder
	// Feed a byte at a time like a slow serial link.
	for i, b := range raw {
		dec.feed([]byte{b})
		out, ok := dec.next()
		if i < len(raw)-1 {
			require.False(t, ok, "frame complete early at byte %d", i)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, in, out)
	}
}

func TestDecoder_ResyncAfterGarbage(t *testing.T) {
	t.Parallel()

	in := Frame{Op: OpHeartbeat, MsgID: 1, Payload: []byte("ok\x00")}

	var dec decoder
	garbage := []byte{0x99, 0xde, 0x01, 0xad, 0xff}
	dec.feed(garbage)
	dec.feed(appendFrame(nil, in))

	out, ok := dec.next()
	require.True(t, ok)
	assert.Equal(t, in, out)
	assert.Equal(t, len(garbage), dec.takeDropped())
}

func TestDecoder_ImplausibleLengthTreatedAsGarbage(t *testing.T) {
	t.Parallel()

	// A header whose magic aligns but whose length field is absurd must
	// not stall the decoder waiting for gigabytes.
	bogus := appendFrame(nil, Frame{Op: 1, MsgID: 1})
	bogus[2], bogus[3], bogus[4], bogus[5] = 0xff, 0xff, 0xff, 0xff

	var dec decoder
	dec.feed(bogus)
	in := Frame{Op: OpFetchDir, MsgID: 2, Payload: []byte("/sdcard\x00")}
	dec.feed(appendFrame(nil, in))

	out, ok := dec.next()
	require.True(t, ok)
	assert.Equal(t, in, out)
	assert.Positive(t, dec.takeDropped())
}

func TestDecoder_BackToBackFrames(t *testing.T) {
	t.Parallel()

	a := Frame{Op: OpLog, MsgID: 0, Payload: []byte(">>> ")}
	b := Frame{Op: OpWriteFile, MsgID: 9, Payload: []byte("ok\x00")}

	var dec decoder
	dec.feed(appendFrame(appendFrame(nil, a), b))

	out, ok := dec.next()
	require.True(t, ok)
	assert.Equal(t, a, out)

	out, ok = dec.next()
	require.True(t, ok)
	assert.Equal(t, b, out)

	_, ok = dec.next()
	assert.False(t, ok)
}
