package spi

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// MemConn models enough of the controller's SPI protocol to exercise the
// engine without hardware: a 4 KiB address space with the 2 KiB message RAM
// at 0x400, the instruction set, mode-request mirroring, message RAM
// allocation for the user address registers, and index-advance bookkeeping
// for the receive FIFOs and the transmit event ring. Tests preload registers
// and RAM through the helpers and inspect what the engine wrote.
type MemConn struct {
	mu  sync.Mutex
	mem [0x1000]byte

	rxAvail  [32]int
	tefAvail int
	tefPut   int // next event slot the hardware side writes

	// OscLockAfter delays the oscillator-ready bit for that many reads of
	// the OSC register, to exercise the clock-lock poll. Zero means ready
	// immediately.
	OscLockAfter int
	oscReads     int

	// FailAfter forces ErrClosed once that many exchanges have happened, to
	// exercise transport failure paths. Zero disables it.
	FailAfter int
	exchanges int

	tick uint32 // fake time base counter for stamped objects

	closed bool
}

// Register and RAM locations the model implements behavior for. Kept local
// so the model stands on its own; the regs package asserts the same layout.
const (
	memCon     = 0x000
	memInt     = 0x01C
	memRxIf    = 0x020
	memRxOvIf  = 0x028
	memTefCon  = 0x044
	memTefSta  = 0x048
	memTefUA   = 0x04C
	memTxqCon  = 0x054
	memFifoCon = 0x05C
	memRamBase = 0x400
	memOsc     = 0xE00

	memConDefault = 0x04980760
	memOscReady   = 1<<10 | 1<<12
)

func NewMemConn() *MemConn {
	c := &MemConn{}
	c.powerOn()
	return c
}

func (c *MemConn) powerOn() {
	c.mem = [0x1000]byte{}
	c.rxAvail = [32]int{}
	c.tefAvail = 0
	c.tefPut = 0
	c.oscReads = 0
	c.putWord(memCon, memConDefault)
}

func (c *MemConn) word(addr int) uint32 {
	return binary.LittleEndian.Uint32(c.mem[addr : addr+4])
}

func (c *MemConn) putWord(addr int, v uint32) {
	binary.LittleEndian.PutUint32(c.mem[addr:addr+4], v)
}

func (c *MemConn) Exchange(tx, rx []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if len(tx) != len(rx) {
		return fmt.Errorf("mem: exchange length mismatch: %d != %d", len(tx), len(rx))
	}
	c.exchanges++
	if c.FailAfter > 0 && c.exchanges > c.FailAfter {
		return ErrClosed
	}
	if len(tx) < 2 {
		return fmt.Errorf("mem: short command: %d bytes", len(tx))
	}
	cmd := binary.BigEndian.Uint16(tx[:2])
	addr := int(cmd & addrMask)
	switch cmd & 0xF000 {
	case cmdReset:
		c.powerOn()
	case cmdRead:
		c.doRead(addr, rx[2:])
	case cmdWrite:
		c.doWrite(addr, tx[2:])
	default:
		return fmt.Errorf("mem: instruction %#04x not modeled", cmd&0xF000)
	}
	return nil
}

func (c *MemConn) doRead(addr int, out []byte) {
	// The clock-lock bits appear after the configured number of looks.
	if addr <= memOsc && memOsc < addr+len(out) {
		c.oscReads++
		if c.oscReads > c.OscLockAfter {
			c.putWord(memOsc, c.word(memOsc)|memOscReady)
		}
	}
	copy(out, c.mem[addr:])
}

func (c *MemConn) doWrite(addr int, data []byte) {
	copy(c.mem[addr:], data)
	// Post-process every register word the write touched.
	for w := addr &^ 3; w < addr+len(data); w += 4 {
		c.applyWord(w)
	}
}

func (c *MemConn) applyWord(addr int) {
	v := c.word(addr)
	switch {
	case addr == memCon:
		// Mode requests take effect immediately: mirror REQOP into OPMOD.
		reqop := v >> 24 & 7
		v = v&^(uint32(7)<<21) | reqop<<21
		c.putWord(addr, v)
		if reqop != 4 {
			c.allocateRings()
		}
	case addr == memTefCon:
		if v&(1<<8) != 0 { // UINC
			if c.tefAvail > 0 {
				c.tefAvail--
			}
			if c.tefAvail == 0 {
				c.putWord(memTefSta, c.word(memTefSta)&^uint32(1))
				c.putWord(memInt, c.word(memInt)&^uint32(1<<4))
			}
			c.putWord(addr, v&^uint32(1<<8|1<<10))
		}
	case addr >= memFifoCon && addr < memFifoCon+31*12 && (addr-memFifoCon)%12 == 0:
		n := (addr-memFifoCon)/12 + 1
		if v&(1<<8) != 0 { // UINC
			if v&(1<<7) == 0 && c.rxAvail[n] > 0 { // receive FIFO
				c.rxAvail[n]--
				if c.rxAvail[n] == 0 {
					c.putWord(memRxIf, c.word(memRxIf)&^(uint32(1)<<n))
					sta := memFifoCon + 4 + (n-1)*12
					c.putWord(sta, c.word(sta)&^uint32(1))
					if c.word(memRxIf) == 0 {
						c.putWord(memInt, c.word(memInt)&^uint32(1<<1))
					}
				}
			}
			v &^= uint32(1<<8 | 1<<10)
			c.putWord(addr, v)
		}
		if v&(1<<9) != 0 && v&(1<<7) != 0 { // send request on a tx FIFO
			if c.word(memCon)>>21&7 == 2 { // internal loopback
				c.loopTx(n)
				c.putWord(addr, v&^uint32(1<<9))
			} else {
				c.putWord(0x030, c.word(0x030)|uint32(1)<<n)
			}
		}
	case addr >= memFifoCon+4 && addr < memFifoCon+4+31*12 && (addr-memFifoCon-4)%12 == 0:
		// FIFOSTA write: clearing the overflow bit drops it from the
		// per-ring overflow word too.
		n := (addr-memFifoCon-4)/12 + 1
		if v&(1<<3) == 0 {
			c.putWord(memRxOvIf, c.word(memRxOvIf)&^(uint32(1)<<n))
			if c.word(memRxOvIf) == 0 {
				c.putWord(memInt, c.word(memInt)&^uint32(1<<11))
			}
		}
	}
}

// allocateRings lays the configured rings out in message RAM the way the
// controller does when it leaves configuration mode, and publishes the
// resulting base offsets through the user address registers.
func (c *MemConn) allocateRings() {
	offset := uint32(0)
	con := c.word(memCon)
	if con&(1<<19) != 0 { // transmit event ring stored
		c.putWord(memTefUA, offset)
		depth := c.word(memTefCon)>>24&0x1F + 1
		offset += depth * 12
	}
	if con&(1<<20) != 0 { // transmit queue enabled
		txq := c.word(memTxqCon)
		depth := txq>>24&0x1F + 1
		c.putWord(memTxqCon+4, offset) // TXQUA
		offset += depth * uint32(8+payloadBytes(txq>>29&7))
	}
	for n := 1; n <= 31; n++ {
		conAddr := memFifoCon + (n-1)*12
		fc := c.word(conAddr)
		c.putWord(conAddr+8, offset) // FIFOUA
		depth := fc>>24&0x1F + 1
		header := 8
		if fc&(1<<7) == 0 && fc&(1<<5) != 0 { // rx with timestamping
			header = 12
		}
		offset += depth * uint32(header+payloadBytes(fc>>29&7))
	}
}

// loopTx reflects a triggered transmit object back as a received frame and a
// transmit event, the way internal loopback mode does on silicon.
func (c *MemConn) loopTx(n int) {
	c.tick++
	ua := int(c.word(memFifoCon + 8 + (n-1)*12))
	id := c.word(memRamBase + ua)
	flags := c.word(memRamBase + ua + 4)
	dlcTable := [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}
	payLen := dlcTable[flags&0xF]

	// Deliver into the first configured receive FIFO.
	for rx := 1; rx <= 31; rx++ {
		fc := c.word(memFifoCon + (rx-1)*12)
		if fc == 0 || fc&(1<<7) != 0 {
			continue
		}
		rxUA := int(c.word(memFifoCon + 8 + (rx-1)*12))
		c.putWord(memRamBase+rxUA, id)
		c.putWord(memRamBase+rxUA+4, flags&0x1FF)
		c.putWord(memRamBase+rxUA+8, c.tick)
		copy(c.mem[memRamBase+rxUA+12:], c.mem[memRamBase+ua+8:memRamBase+ua+8+payLen])
		c.rxAvail[rx]++
		c.putWord(memRxIf, c.word(memRxIf)|uint32(1)<<rx)
		sta := memFifoCon + 4 + (rx-1)*12
		c.putWord(sta, c.word(sta)|1)
		c.putWord(memInt, c.word(memInt)|1<<1)
		break
	}

	// Record the completion in the transmit event ring.
	slot := c.nextTefSlot()
	c.putWord(memRamBase+slot, id)
	c.putWord(memRamBase+slot+4, flags&^uint32(0xF))
	c.putWord(memRamBase+slot+8, c.tick)
	c.tefAvail++
	c.putWord(memTefSta, c.word(memTefSta)|1)
	c.putWord(memInt, c.word(memInt)|1<<4)
}

// nextTefSlot returns the RAM offset of the event slot the hardware write
// pointer sits at, then advances it with wrap. The pointer is monotonic and
// independent of consumption, like the silicon's.
func (c *MemConn) nextTefSlot() int {
	base := int(c.word(memTefUA))
	depth := int(c.word(memTefCon)>>24&0x1F) + 1
	slot := base + c.tefPut*12
	c.tefPut = (c.tefPut + 1) % depth
	return slot
}

func payloadBytes(class uint32) int {
	table := [8]int{8, 12, 16, 20, 24, 32, 48, 64}
	return table[class&7]
}

func (c *MemConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Reg reads a register word directly, bypassing the bus.
func (c *MemConn) Reg(addr uint16) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.word(int(addr))
}

// SetReg writes a register word directly, bypassing the bus and the write
// side effects.
func (c *MemConn) SetReg(addr uint16, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putWord(int(addr), v)
}

// RAM returns a copy of n bytes of message RAM starting at offset.
func (c *MemConn) RAM(offset, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, n)
	copy(out, c.mem[memRamBase+offset:])
	return out
}

// PushRx deposits an encoded receive object into FIFO n's slot and raises
// the not-empty and receive interrupt state, as a frame arrival would.
func (c *MemConn) PushRx(n int, obj []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ua := c.word(memFifoCon + 8 + (n-1)*12)
	copy(c.mem[memRamBase+int(ua):], obj)
	c.rxAvail[n]++
	c.putWord(memRxIf, c.word(memRxIf)|uint32(1)<<n)
	sta := memFifoCon + 4 + (n-1)*12
	c.putWord(sta, c.word(sta)|1)
	c.putWord(memInt, c.word(memInt)|1<<1)
}

// PushTef deposits a transmit event object at the event ring's next slot and
// raises the completion interrupt state.
func (c *MemConn) PushTef(obj []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.nextTefSlot()
	copy(c.mem[memRamBase+slot:], obj)
	c.tefAvail++
	c.putWord(memTefSta, c.word(memTefSta)|1)
	c.putWord(memInt, c.word(memInt)|1<<4)
}

// RaiseOverflow marks FIFO n as overflowed.
func (c *MemConn) RaiseOverflow(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putWord(memRxOvIf, c.word(memRxOvIf)|uint32(1)<<n)
	sta := memFifoCon + 4 + (n-1)*12
	c.putWord(sta, c.word(sta)|1<<3)
	c.putWord(memInt, c.word(memInt)|1<<11)
}

// Exchanges reports how many bus transactions have been issued.
func (c *MemConn) Exchanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges
}
