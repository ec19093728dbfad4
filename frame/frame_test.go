package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Frame{ID: 0x7FF}.Validate())
	assert.ErrorIs(t, Frame{ID: 0x800}.Validate(), ErrInvalidID)

	assert.NoError(t, Frame{ID: 0x1FFFFFFF, Extended: true}.Validate())
	assert.ErrorIs(t, Frame{ID: 0x20000000, Extended: true}.Validate(), ErrInvalidID)

	assert.NoError(t, Frame{Len: 8}.Validate())
	assert.ErrorIs(t, Frame{Len: 9}.Validate(), ErrInvalidLen)

	assert.NoError(t, Frame{Len: 64, FD: true}.Validate())
	assert.ErrorIs(t, Frame{Len: 65, FD: true}.Validate(), ErrInvalidLen)
}

func TestDLCTable(t *testing.T) {
	// Codes 0..8 map one to one.
	for c := uint8(0); c <= 8; c++ {
		assert.Equal(t, c, CodeToLength(c))
		assert.Equal(t, c, LengthToCode(c))
	}

	// Every length rounds to the smallest representable length at or above
	// it, and decoding the code gives that rounded length back.
	for n := 0; n <= 64; n++ {
		code := LengthToCode(uint8(n))
		got := CodeToLength(code)
		assert.GreaterOrEqual(t, got, uint8(n), "length %d", n)
		assert.Equal(t, got, RoundLength(uint8(n)))
		if code > 0 {
			assert.Less(t, CodeToLength(code-1), uint8(n), "length %d must not fit the next smaller code", n)
		}
	}

	assert.Equal(t, uint8(12), RoundLength(9))
	assert.Equal(t, uint8(32), RoundLength(25))
	assert.Equal(t, uint8(64), RoundLength(49))
	assert.Equal(t, uint8(15), LengthToCode(200))
}

func TestIDRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 0x123, 0x7FF} {
		f := Frame{ID: id}
		assert.Equal(t, id, decodeID(encodeID(&f), false))
	}
	for _, id := range []uint32{0, 0x7FF, 0x40000, 0x1234567, 0x1FFFFFFF} {
		f := Frame{ID: id, Extended: true}
		assert.Equal(t, id, decodeID(encodeID(&f), true))
	}
}

func TestExtendedIDSplit(t *testing.T) {
	// The top 11 bits land in the standard segment, the low 18 in the
	// extended segment above it.
	f := Frame{ID: 0x1FFC0000, Extended: true}
	assert.Equal(t, uint32(0x7FF), encodeID(&f))

	f = Frame{ID: 0x0003FFFF, Extended: true}
	assert.Equal(t, uint32(0x3FFFF<<11), encodeID(&f))
}

func TestEncodeTx(t *testing.T) {
	var buf [TxHeaderLen + 64]byte

	f := Frame{ID: 0x123, Len: 3}
	copy(f.Data[:], []byte{1, 2, 3})
	n, err := EncodeTx(&f, 5, buf[:])
	require.NoError(t, err)

	// 3 bytes pad to a 4 byte slot and the frame is corrected to the wire
	// length it actually occupies.
	assert.Equal(t, TxHeaderLen+4, n)
	assert.Equal(t, uint8(4), f.Len)
	assert.Equal(t, []byte{1, 2, 3, 0}, buf[TxHeaderLen:n])

	got, _, err := DecodeRx(append(buf[:TxHeaderLen], append([]byte{0, 0, 0, 0}, buf[TxHeaderLen:n]...)...))
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, f.Len, got.Len)
}

func TestEncodeTxRoundsFDLength(t *testing.T) {
	var buf [TxHeaderLen + 64]byte

	f := Frame{ID: 1, FD: true, BRS: true, Len: 9}
	for i := range f.Data[:9] {
		f.Data[i] = byte(i + 1)
	}
	n, err := EncodeTx(&f, 0, buf[:])
	require.NoError(t, err)

	assert.Equal(t, TxHeaderLen+12, n)
	assert.Equal(t, uint8(12), f.Len)
	assert.Equal(t, []byte{0, 0, 0}, buf[TxHeaderLen+9:n], "padding must be zeroed")
}

func TestEncodeTxShortBuf(t *testing.T) {
	var buf [TxHeaderLen + 3]byte
	f := Frame{ID: 1, Len: 4}
	_, err := EncodeTx(&f, 0, buf[:])
	assert.ErrorIs(t, err, ErrShortBuf)
}

func TestEncodeTxInvalid(t *testing.T) {
	var buf [TxHeaderLen + 64]byte
	f := Frame{ID: 1, Len: 12}
	_, err := EncodeTx(&f, 0, buf[:])
	assert.ErrorIs(t, err, ErrInvalidLen)
}

func TestRxRoundTrip(t *testing.T) {
	var buf [RxHeaderLen + 64]byte

	in := Frame{ID: 0x1ABCDEF, Extended: true, FD: true, BRS: true, ESI: true, Len: 16}
	for i := range in.Data[:16] {
		in.Data[i] = byte(0xA0 + i)
	}

	// A receive object is the transmit object with a timestamp word between
	// header and payload.
	var tx [TxHeaderLen + 64]byte
	n, err := EncodeTx(&in, 0, tx[:])
	require.NoError(t, err)
	copy(buf[0:8], tx[0:8])
	buf[8], buf[9], buf[10], buf[11] = 0x78, 0x56, 0x34, 0x12
	copy(buf[RxHeaderLen:], tx[TxHeaderLen:n])

	out, ts, err := DecodeRx(buf[:RxHeaderLen+16])
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, uint32(0x12345678), ts)
}

func TestDecodeRxShort(t *testing.T) {
	_, _, err := DecodeRx(make([]byte, RxHeaderLen-1))
	assert.ErrorIs(t, err, ErrShortBuf)
}

// A length code exceeding the slot's payload capacity clamps to the bytes
// present; a glitched object must not poison the drain.
func TestDecodeRxClampsOversizedCode(t *testing.T) {
	var buf [RxHeaderLen + 8]byte
	buf[4] = 0x8F // FD with the 64-byte code, in an 8-byte slot
	for i := 0; i < 8; i++ {
		buf[RxHeaderLen+i] = byte(0xB0 + i)
	}

	f, _, err := DecodeRx(buf[:])
	require.NoError(t, err)
	assert.Equal(t, uint8(8), f.Len)
	assert.Equal(t, buf[RxHeaderLen:], f.Payload())
}

func TestDecodeTef(t *testing.T) {
	in := Frame{ID: 0x456, FD: true, Len: 8}
	var tx [TxHeaderLen + 64]byte
	_, err := EncodeTx(&in, 42, tx[:])
	require.NoError(t, err)

	var buf [TefLen]byte
	copy(buf[0:8], tx[0:8])
	buf[8] = 0x2A

	ev, err := DecodeTef(buf[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(0x456), ev.ID)
	assert.False(t, ev.Extended)
	assert.Equal(t, uint8(42), ev.Seq)
	assert.Equal(t, uint32(0x2A), ev.Timestamp)

	_, err = DecodeTef(buf[:TefLen-1])
	assert.ErrorIs(t, err, ErrShortBuf)
}

func TestPaddedLen(t *testing.T) {
	assert.Equal(t, 0, PaddedLen(0))
	assert.Equal(t, 4, PaddedLen(1))
	assert.Equal(t, 4, PaddedLen(4))
	assert.Equal(t, 8, PaddedLen(5))
	assert.Equal(t, 64, PaddedLen(64))
}
