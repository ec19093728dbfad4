package canfd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebit/canfd/regs"
)

func TestComputeLayoutClassic(t *testing.T) {
	r := computeLayout(ModeClassic)

	assert.Equal(t, 1, r.txFirst)
	assert.Equal(t, 8, r.txCount)
	assert.Equal(t, 9, r.rxFirst)
	assert.Equal(t, 23, r.rxCount, "classic rings fill the FIFO index space")
	assert.Equal(t, 16, r.txSlot)
	assert.Equal(t, 20, r.rxSlot)
	assert.Equal(t, uint32(0x000001FE), r.txMask())
	assert.Equal(t, uint32(0xFFFFFE00), r.rxMask())
}

func TestComputeLayoutFD(t *testing.T) {
	r := computeLayout(ModeFD)

	assert.Equal(t, 1, r.txFirst)
	assert.Equal(t, 7, r.txCount)
	assert.Equal(t, 8, r.rxFirst)
	assert.Equal(t, 19, r.rxCount, "64 byte slots cap the receive rings at the RAM budget")
	assert.Equal(t, 8+64, r.txSlot)
	assert.Equal(t, 12+64, r.rxSlot)
	assert.Equal(t, uint32(0x000000FE), r.txMask())
	assert.Equal(t, uint32(0x07FFFF00), r.rxMask())

	// Everything configured must fit the 2 KiB message RAM.
	used := r.tefLen() + r.txCount*r.txSlot + r.rxCount*r.rxSlot
	assert.LessOrEqual(t, used, int(regs.RamSize))
}

func TestRingConfiguration(t *testing.T) {
	s, c, _ := newTestSession(t, ModeFD, false)
	r := &s.rings

	// Event ring: one slot per transmit ring, timestamped.
	tefcon := c.Reg(regs.TefCon)
	assert.Equal(t, uint32(r.txCount-1), regs.TefConSize.Get(tefcon))
	assert.NotZero(t, tefcon&regs.TefConTsEn)

	// Transmit rings: depth one, priority equal to index.
	for i := 0; i < r.txCount; i++ {
		ring := r.txFirst + i
		con := c.Reg(regs.FifoCon(ring))
		assert.NotZero(t, con&regs.FifoConTxEn, "ring %d", ring)
		assert.Equal(t, uint32(0), regs.FifoConSize.Get(con), "ring %d", ring)
		assert.Equal(t, uint32(ring), regs.FifoConPri.Get(con), "ring %d", ring)
		assert.Equal(t, uint32(regs.PlSize64), regs.FifoConPlSize.Get(con), "ring %d", ring)
	}

	// Receive rings: depth one, timestamped, overflow interrupt on the last
	// ring only.
	for i := 0; i < r.rxCount; i++ {
		ring := r.rxFirst + i
		con := c.Reg(regs.FifoCon(ring))
		assert.Zero(t, con&regs.FifoConTxEn, "ring %d", ring)
		assert.NotZero(t, con&regs.FifoConRxTsEn, "ring %d", ring)
		assert.Equal(t, uint32(0), regs.FifoConSize.Get(con), "ring %d", ring)
		if i == r.rxCount-1 {
			assert.NotZero(t, con&regs.FifoConRxOvIE, "last ring carries the overflow enable")
		} else {
			assert.Zero(t, con&regs.FifoConRxOvIE, "ring %d", ring)
		}
	}

	// One enabled match-all filter per receive ring, each steering a
	// distinct ring; the rest stay disabled.
	for i := 0; i < regs.NumFilters; i++ {
		addr, lane := regs.FltConWord(i)
		ctl := c.Reg(addr) >> (8 * lane) & 0xFF
		if i < r.rxCount {
			assert.NotZero(t, ctl&regs.FltConEnable, "filter %d", i)
			assert.Equal(t, uint32(r.rxFirst+i), regs.FltConFifo.Get(ctl), "filter %d", i)
			assert.Equal(t, uint32(0), c.Reg(regs.FltMask(i)), "filter %d matches everything")
		} else {
			assert.Zero(t, ctl&regs.FltConEnable, "filter %d", i)
		}
	}
}

func TestBaseDiscovery(t *testing.T) {
	s, _, _ := newTestSession(t, ModeFD, false)
	r := &s.rings

	// The event ring sits at the bottom of message RAM, the transmit and
	// receive rings follow back to back in index order.
	assert.Equal(t, regs.RamBase, r.tefBase)
	assert.Equal(t, r.tefBase+uint16(r.tefLen())-12, r.tefEnd)

	want := regs.RamBase + uint16(r.tefLen())
	for ring := r.txFirst; ring < r.txFirst+r.txCount; ring++ {
		require.Equal(t, want, r.base[ring], "transmit ring %d", ring)
		want += uint16(r.txSlot)
	}
	for ring := r.rxFirst; ring < r.rxFirst+r.rxCount; ring++ {
		require.Equal(t, want, r.base[ring], "receive ring %d", ring)
		want += uint16(r.rxSlot)
	}
}
