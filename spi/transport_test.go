package spi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordConn captures every transmit buffer and answers reads from a canned
// response, for asserting exact wire bytes.
type recordConn struct {
	sent [][]byte
	resp []byte
}

func (r *recordConn) Exchange(tx, rx []byte) error {
	cp := make([]byte, len(tx))
	copy(cp, tx)
	r.sent = append(r.sent, cp)
	copy(rx[2:], r.resp)
	return nil
}

func (r *recordConn) Close() error { return nil }

func TestCommandEncoding(t *testing.T) {
	var b [2]byte

	putCommand(b[:], cmdReset, 0)
	assert.Equal(t, []byte{0x00, 0x00}, b[:])

	putCommand(b[:], cmdRead, 0x01C)
	assert.Equal(t, []byte{0x30, 0x1C}, b[:])

	putCommand(b[:], cmdWrite, 0xE00)
	assert.Equal(t, []byte{0x2E, 0x00}, b[:])

	// Addresses are 12 bits; anything above is masked off.
	putCommand(b[:], cmdWrite, 0xF234)
	assert.Equal(t, []byte{0x22, 0x34}, b[:])
}

func TestMaskedSpan(t *testing.T) {
	cases := []struct {
		mask     uint32
		first, n int
	}{
		{0x000000FF, 0, 1},
		{0x0000FF00, 1, 1},
		{0x00FF0000, 2, 1},
		{0xFF000000, 3, 1},
		{0x0000FFFF, 0, 2},
		{0xFFFF0000, 2, 2},
		{0x00FFFF00, 1, 2},
		{0xFFFFFFFF, 0, 4},
		{0x00000001, 0, 1},
		{0x80000000, 3, 1},
		{0x00010080, 0, 3},
	}
	for _, c := range cases {
		first, n, err := maskedSpan(c.mask)
		require.NoError(t, err)
		assert.Equal(t, c.first, first, "mask %#08x", c.mask)
		assert.Equal(t, c.n, n, "mask %#08x", c.mask)
	}

	_, _, err := maskedSpan(0)
	assert.ErrorIs(t, err, ErrInvalidMask)
}

func TestWriteMaskedWire(t *testing.T) {
	r := &recordConn{}
	tr := NewTransport(r)

	// A write masked to the high half must address byte 2 and carry exactly
	// the two covered bytes.
	require.NoError(t, tr.WriteMasked(0x01C, 0x12340000, 0xFFFF0000))
	require.Len(t, r.sent, 1)
	assert.Equal(t, []byte{0x20, 0x1E, 0x34, 0x12}, r.sent[0])

	// A single-byte mask in the middle of the word.
	require.NoError(t, tr.WriteMasked(0x060, 0xAB00, 0xFF00))
	assert.Equal(t, []byte{0x20, 0x61, 0xAB}, r.sent[1])
}

func TestReadMaskedAlignment(t *testing.T) {
	r := &recordConn{resp: []byte{0xAA, 0xBB}}
	tr := NewTransport(r)

	// The two covered bytes come back zero-extended at their original
	// positions, not shifted down.
	v, err := tr.ReadMasked(0x030, 0x00FFFF00)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00BBAA00), v)
	assert.Equal(t, []byte{0x30, 0x31, 0x00, 0x00}, r.sent[0])

	_, err = tr.ReadMasked(0x030, 0)
	assert.ErrorIs(t, err, ErrInvalidMask)
}

func TestMaskedRoundTrip(t *testing.T) {
	c := NewMemConn()
	tr := NewTransport(c)

	require.NoError(t, tr.Write(0x034, 0x11223344))

	// Partial reads line up bit for bit with the full value.
	full, err := tr.Read(0x034)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), full)

	v, err := tr.ReadMasked(0x034, 0x0000FF00)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00003300), v)

	// A sparse mask still reads the whole span; masking is the caller's job.
	v, err = tr.ReadMasked(0x034, 0xFF0000FF)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), v)

	// A masked write leaves bytes outside the span untouched.
	require.NoError(t, tr.WriteMasked(0x034, 0x0000AA00, 0x0000FF00))
	full, err = tr.Read(0x034)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1122AA44), full)
}

func TestBlockAccess(t *testing.T) {
	c := NewMemConn()
	tr := NewTransport(c)

	data := make([]byte, 96)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, tr.WriteBlock(0x400, data))

	before := c.Exchanges()
	got := make([]byte, 96)
	require.NoError(t, tr.ReadBlock(0x400, got))
	assert.Equal(t, data, got)
	assert.Equal(t, 1, c.Exchanges()-before, "a block read is one transaction")

	// Block boundaries match word reads.
	v, err := tr.Read(0x404)
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian.Uint32(data[4:8]), v)

	err = tr.ReadBlock(0x400, make([]byte, ramWindow+1))
	assert.Error(t, err)
	err = tr.WriteBlock(0x400, make([]byte, ramWindow+1))
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	c := NewMemConn()
	tr := NewTransport(c)

	require.NoError(t, tr.Write(0x034, 0xFFFFFFFF))
	require.NoError(t, tr.Reset())

	v, err := tr.Read(0x034)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)

	v, err = tr.Read(0x000)
	require.NoError(t, err)
	assert.Equal(t, uint32(memConDefault), v, "reset restores the CON default")
}

func TestClosedConn(t *testing.T) {
	c := NewMemConn()
	tr := NewTransport(c)
	require.NoError(t, tr.Close())

	_, err := tr.Read(0x000)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemConnModeMirror(t *testing.T) {
	c := NewMemConn()
	tr := NewTransport(c)

	// Requesting a mode reflects immediately in the mode field.
	require.NoError(t, tr.Write(0x000, memConDefault&^uint32(7<<24)|2<<24))
	v, err := tr.Read(0x000)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v>>21&7)
}

func TestMemConnFailAfter(t *testing.T) {
	c := NewMemConn()
	c.FailAfter = 2
	tr := NewTransport(c)

	_, err := tr.Read(0x000)
	require.NoError(t, err)
	_, err = tr.Read(0x000)
	require.NoError(t, err)
	_, err = tr.Read(0x000)
	assert.Error(t, err)
}
