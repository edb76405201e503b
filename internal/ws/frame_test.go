package ws

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = [4]byte{0x37, 0xfa, 0x21, 0x3d}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		length     int
		wantLen7   byte
		headerSize int
	}{
		{length: 0, wantLen7: 0, headerSize: 2 + 4},
		{length: 1, wantLen7: 1, headerSize: 2 + 4},
		{length: 125, wantLen7: 125, headerSize: 2 + 4},
		{length: 126, wantLen7: 126, headerSize: 2 + 2 + 4},
		{length: 65535, wantLen7: 126, headerSize: 2 + 2 + 4},
		{length: 65536, wantLen7: 127, headerSize: 2 + 8 + 4},
	}

	for _, tt := range tests {
		payload := bytes.Repeat([]byte{'x'}, tt.length)
		wire := appendFrame(nil, opBinary, false, payload, testKey)

		require.Len(t, wire, tt.headerSize+tt.length, "length %d", tt.length)
		assert.Equal(t, byte(0x82), wire[0], "length %d", tt.length)
		assert.Equal(t, maskBit|tt.wantLen7, wire[1], "length %d", tt.length)
		assert.Equal(t, testKey[:], wire[tt.headerSize-4:tt.headerSize], "length %d", tt.length)

		f, n, err := decodeFrame(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.True(t, f.fin)
		assert.True(t, f.masked)
		assert.Equal(t, opBinary, f.opcode)
		assert.EqualValues(t, tt.length, f.length)
		assert.True(t, bytes.Equal(payload, f.payload), "length %d", tt.length)
	}
}

func TestFrameRSV1AndOpcode(t *testing.T) {
	wire := appendFrame(nil, opText, true, []byte("hi"), testKey)
	assert.Equal(t, byte(0xc1), wire[0])

	f, _, err := decodeFrame(wire, 0)
	require.NoError(t, err)
	assert.True(t, f.rsv1)
	assert.Equal(t, opText, f.opcode)
}

func TestMaskIsSelfInverse(t *testing.T) {
	orig := []byte("The quick brown fox jumps over the lazy dog")
	b := bytes.Clone(orig)

	maskBytes(b, testKey)
	assert.NotEqual(t, orig, b)
	maskBytes(b, testKey)
	assert.Equal(t, orig, b)
}

func TestDecodeIncompleteFrameConsumesNothing(t *testing.T) {
	for _, size := range []int{10, 300, 70000} {
		wire := appendFrame(nil, opText, false, bytes.Repeat([]byte{'a'}, size), testKey)

		for _, cut := range []int{0, 1, 2, 3, 5, 9, 13, len(wire) - 1} {
			if cut >= len(wire) {
				continue
			}
			_, n, err := decodeFrame(bytes.Clone(wire[:cut]), 0)
			require.NoError(t, err)
			assert.Zero(t, n, "size %d cut %d", size, cut)
		}

		f, n, err := decodeFrame(bytes.Clone(wire), 0)
		require.NoError(t, err)
		assert.Equal(t, len(wire), n)
		assert.Len(t, f.payload, size)
	}
}

func TestDecodeConsecutiveFrames(t *testing.T) {
	wire := appendFrame(nil, opText, false, []byte("one"), testKey)
	wire = appendFrame(wire, opPing, false, []byte("two"), [4]byte{1, 2, 3, 4})
	wire = append(wire, 0x81) // start of a third frame

	f, n, err := decodeFrame(wire, 0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(f.payload))

	f, m, err := decodeFrame(wire[n:], 0)
	require.NoError(t, err)
	assert.Equal(t, opPing, f.opcode)
	assert.Equal(t, "two", string(f.payload))

	_, k, err := decodeFrame(wire[n+m:], 0)
	require.NoError(t, err)
	assert.Zero(t, k)
}

func TestDecodeUnmaskedServerFrame(t *testing.T) {
	wire := []byte{0x81, 0x05, 'h', 'e', 'l', 'l', 'o'}

	f, n, err := decodeFrame(wire, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.False(t, f.masked)
	assert.Equal(t, "hello", string(f.payload))
}

func TestDecodeRejectsOversizedFrames(t *testing.T) {
	wire := []byte{0x82, 126, 0x01, 0x00}
	_, _, err := decodeFrame(wire, 255)
	assert.ErrorIs(t, err, errFrameTooLarge)
	assert.ErrorIs(t, err, ErrFrame)

	wire = binary.BigEndian.AppendUint64([]byte{0x82, 127}, 1<<63)
	_, _, err = decodeFrame(wire, 0)
	assert.ErrorIs(t, err, ErrFrame)
	assert.NotErrorIs(t, err, errFrameTooLarge)
}

func TestClosePayload(t *testing.T) {
	assert.Empty(t, closePayload(0, "ignored"))

	p := closePayload(1001, "going away")
	assert.Equal(t, []byte{0x03, 0xe9}, p[:2])

	code, reason := parseClosePayload(p)
	assert.Equal(t, 1001, code)
	assert.Equal(t, "going away", reason)

	code, reason = parseClosePayload([]byte{0x03})
	assert.Zero(t, code)
	assert.Empty(t, reason)
}
