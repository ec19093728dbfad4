package spi

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// ramWindow is the largest contiguous range a single block transfer can
// cover: the controller's 2 KiB message RAM.
const ramWindow = 0x800

// Transport performs addressed register and RAM access over a Conn. All
// register values are little-endian on the wire and converted to host order
// on every read. The scratch buffers are sized once at construction and
// reused for every transaction; a Transport must not be shared between
// goroutines without external serialization.
type Transport struct {
	conn Conn
	tx   []byte
	rx   []byte
}

func NewTransport(conn Conn) *Transport {
	return &Transport{
		conn: conn,
		tx:   make([]byte, 2+ramWindow),
		rx:   make([]byte, 2+ramWindow),
	}
}

// Reset sends the bare reset instruction. No address or data accompany it.
func (t *Transport) Reset() error {
	putCommand(t.tx[:2], cmdReset, 0)
	if err := t.conn.Exchange(t.tx[:2], t.rx[:2]); err != nil {
		return fmt.Errorf("spi: reset: %w", err)
	}
	return nil
}

// Read performs a full 32 bit register read.
func (t *Transport) Read(addr uint16) (uint32, error) {
	putCommand(t.tx[:2], cmdRead, addr)
	clear(t.tx[2:6])
	if err := t.conn.Exchange(t.tx[:6], t.rx[:6]); err != nil {
		return 0, fmt.Errorf("spi: read 0x%03x: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(t.rx[2:6]), nil
}

// Write performs a full 32 bit register write.
func (t *Transport) Write(addr uint16, val uint32) error {
	putCommand(t.tx[:2], cmdWrite, addr)
	binary.LittleEndian.PutUint32(t.tx[2:6], val)
	if err := t.conn.Exchange(t.tx[:6], t.rx[:6]); err != nil {
		return fmt.Errorf("spi: write 0x%03x: %w", addr, err)
	}
	return nil
}

// maskedSpan gives the minimal byte range that covers every set bit of mask:
// the first byte index and the byte count within the 32 bit word.
func maskedSpan(mask uint32) (first, n int, err error) {
	if mask == 0 {
		return 0, 0, ErrInvalidMask
	}
	first = bits.TrailingZeros32(mask) / 8
	last := (31 - bits.LeadingZeros32(mask)) / 8
	return first, last - first + 1, nil
}

// ReadMasked reads only the bytes of the register that cover mask. Bytes
// outside the span read as zero and the value is not shifted, so the result
// lines up bit for bit with a full Read; the caller applies mask and shift.
func (t *Transport) ReadMasked(addr uint16, mask uint32) (uint32, error) {
	first, n, err := maskedSpan(mask)
	if err != nil {
		return 0, err
	}
	putCommand(t.tx[:2], cmdRead, addr+uint16(first))
	clear(t.tx[2 : 2+n])
	if err := t.conn.Exchange(t.tx[:2+n], t.rx[:2+n]); err != nil {
		return 0, fmt.Errorf("spi: read 0x%03x/%#08x: %w", addr, mask, err)
	}
	var word [4]byte
	copy(word[first:first+n], t.rx[2:2+n])
	return binary.LittleEndian.Uint32(word[:]), nil
}

// WriteMasked writes only the bytes of the register that cover mask. val is
// laid out as the full register value; bytes outside the span are left
// untouched on the device.
func (t *Transport) WriteMasked(addr uint16, val uint32, mask uint32) error {
	first, n, err := maskedSpan(mask)
	if err != nil {
		return err
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], val)
	putCommand(t.tx[:2], cmdWrite, addr+uint16(first))
	copy(t.tx[2:2+n], word[first:first+n])
	if err := t.conn.Exchange(t.tx[:2+n], t.rx[:2+n]); err != nil {
		return fmt.Errorf("spi: write 0x%03x/%#08x: %w", addr, mask, err)
	}
	return nil
}

// ReadBlock fills buf from a contiguous run of registers or RAM in a single
// transaction. Field boundaries are exactly what separate reads would see.
func (t *Transport) ReadBlock(addr uint16, buf []byte) error {
	if len(buf) > ramWindow {
		return fmt.Errorf("spi: block read of %d bytes exceeds window", len(buf))
	}
	putCommand(t.tx[:2], cmdRead, addr)
	clear(t.tx[2 : 2+len(buf)])
	if err := t.conn.Exchange(t.tx[:2+len(buf)], t.rx[:2+len(buf)]); err != nil {
		return fmt.Errorf("spi: read block 0x%03x+%d: %w", addr, len(buf), err)
	}
	copy(buf, t.rx[2:2+len(buf)])
	return nil
}

// WriteBlock writes buf to a contiguous run of registers or RAM in a single
// transaction.
func (t *Transport) WriteBlock(addr uint16, buf []byte) error {
	if len(buf) > ramWindow {
		return fmt.Errorf("spi: block write of %d bytes exceeds window", len(buf))
	}
	putCommand(t.tx[:2], cmdWrite, addr)
	copy(t.tx[2:2+len(buf)], buf)
	if err := t.conn.Exchange(t.tx[:2+len(buf)], t.rx[:2+len(buf)]); err != nil {
		return fmt.Errorf("spi: write block 0x%03x+%d: %w", addr, len(buf), err)
	}
	return nil
}

func (t *Transport) Close() error {
	return t.conn.Close()
}
