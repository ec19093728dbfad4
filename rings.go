package canfd

import (
	"fmt"

	"github.com/wirebit/canfd/frame"
	"github.com/wirebit/canfd/regs"
)

// ringLayout is the computed and discovered geometry of one configuration
// session: which FIFO indices serve transmit and receive, the slot sizes for
// the selected frame mode, and the base addresses read back from the device.
// Bases and slot sizes are fixed for the lifetime of the session.
type ringLayout struct {
	txFirst int
	txCount int
	rxFirst int
	rxCount int

	payload int    // payload bytes per slot: 8 or 64
	plClass uint32 // payload size class written to the device
	txSlot  int    // transmit object bytes, 4 byte aligned
	rxSlot  int    // receive object bytes, 4 byte aligned

	base    [32]uint16 // absolute slot address per ring index
	tefBase uint16
	tefEnd  uint16 // address of the last event slot
}

// Transmit ring pool sizes per mode. Each transmit ring is one slot deep so
// at most one frame per ring is in flight; receive rings are one slot deep
// as well, which is what keeps consecutive ready rings contiguous in RAM and
// makes the batched drain read valid.
const (
	txRingsClassic = 8
	txRingsFD      = 7
	maxFifos       = 31
)

func computeLayout(mode FrameMode) ringLayout {
	r := ringLayout{txFirst: 1}
	switch mode {
	case ModeFD:
		r.payload = frame.MaxFDLen
		r.plClass = regs.PlSize64
		r.txCount = txRingsFD
	default:
		r.payload = frame.MaxClassicLen
		r.plClass = regs.PlSize8
		r.txCount = txRingsClassic
	}
	r.txSlot = frame.TxHeaderLen + frame.PaddedLen(r.payload)
	r.rxSlot = frame.RxHeaderLen + frame.PaddedLen(r.payload)
	r.rxFirst = r.txFirst + r.txCount

	// Fill the remaining FIFO indices with receive rings, bounded by the
	// message RAM left over after the event ring and the transmit rings.
	used := r.txCount*frame.TefLen + r.txCount*r.txSlot
	budget := (int(regs.RamSize) - used) / r.rxSlot
	r.rxCount = maxFifos - r.txCount
	if r.rxCount > budget {
		r.rxCount = budget
	}
	return r
}

func (r *ringLayout) txMask() uint32 {
	return ((1 << r.txCount) - 1) << r.txFirst
}

func (r *ringLayout) rxMask() uint32 {
	return ((1 << r.rxCount) - 1) << r.rxFirst
}

func (r *ringLayout) tefLen() int {
	return r.txCount * frame.TefLen
}

// configureRings programs the event ring, the transmit rings, the receive
// rings and the acceptance filters, then discovers the ring base addresses.
// The device must be in configuration mode. A failed register operation
// aborts the sequence; nothing is rolled back, the device stays in
// configuration mode and the sequence is safe to retry.
func (s *Session) configureRings() error {
	r := &s.rings

	// Stale filters from a previous session would steer frames at rings
	// that no longer exist. Clear all of them before anything else.
	for n := 0; n < regs.NumFilters; n += 4 {
		addr, _ := regs.FltConWord(n)
		if err := s.tr.Write(addr, 0); err != nil {
			return fmt.Errorf("clear filter block %d: %w", n, err)
		}
	}

	// Transmit event ring: one event slot per transmit ring.
	tefcon := regs.TefConSize.Put(uint32(r.txCount-1)) |
		regs.TefConTsEn | regs.TefConNotEmptyIE | regs.TefConFReset
	if err := s.tr.Write(regs.TefCon, tefcon); err != nil {
		return fmt.Errorf("configure event ring: %w", err)
	}

	// Transmit rings: depth 1, priority equal to ring index so ring order
	// and arbitration order agree.
	for i := 0; i < r.txCount; i++ {
		ring := r.txFirst + i
		con := regs.FifoConTxEn | regs.FifoConFReset |
			regs.FifoConPri.Put(uint32(ring)) |
			regs.FifoConPlSize.Put(r.plClass) |
			regs.FifoConSize.Put(0)
		if err := s.tr.Write(regs.FifoCon(ring), con); err != nil {
			return fmt.Errorf("configure transmit ring %d: %w", ring, err)
		}
	}

	// Receive rings. The overflow interrupt is enabled on the last ring
	// only: overflow is monitored once per drain pass, not per ring.
	for i := 0; i < r.rxCount; i++ {
		ring := r.rxFirst + i
		con := regs.FifoConFReset | regs.FifoConRxTsEn |
			regs.FifoConNotEmptyIE | regs.FifoConHalfIE | regs.FifoConFullIE |
			regs.FifoConPlSize.Put(r.plClass) |
			regs.FifoConSize.Put(0)
		if i == r.rxCount-1 {
			con |= regs.FifoConRxOvIE
		}
		if err := s.tr.Write(regs.FifoCon(ring), con); err != nil {
			return fmt.Errorf("configure receive ring %d: %w", ring, err)
		}
	}

	// One match-all filter per receive ring. An all-zero mask matches every
	// identifier, so unfiltered traffic spreads across the receive rings as
	// the controller walks its filter table.
	for i := 0; i < r.rxCount; i++ {
		ring := r.rxFirst + i
		if err := s.tr.Write(regs.FltObj(i), 0); err != nil {
			return fmt.Errorf("configure filter object %d: %w", i, err)
		}
		if err := s.tr.Write(regs.FltMask(i), 0); err != nil {
			return fmt.Errorf("configure filter mask %d: %w", i, err)
		}
		addr, lane := regs.FltConWord(i)
		ctl := (regs.FltConEnable | regs.FltConFifo.Put(uint32(ring))) << (8 * lane)
		mask := uint32(0xFF) << (8 * lane)
		if err := s.tr.WriteMasked(addr, ctl, mask); err != nil {
			return fmt.Errorf("enable filter %d: %w", i, err)
		}
	}

	if err := s.discoverBases(); err != nil {
		return err
	}

	s.rxBuf = make([]byte, r.rxCount*r.rxSlot)
	s.tefCursor = r.tefBase
	return nil
}

// discoverBases reads the ring base addresses back from the device. The user
// address registers only report them outside configuration mode, so the
// sequence briefly enters internal loopback, reads every base, and returns
// to configuration mode. A required hardware quirk, not an optimization.
func (s *Session) discoverBases() error {
	r := &s.rings

	if err := s.requestMode(regs.ModeInternalLoopback); err != nil {
		return fmt.Errorf("enter diagnostic mode: %w", err)
	}

	ua, err := s.tr.Read(regs.TefUA)
	if err != nil {
		return fmt.Errorf("read event ring base: %w", err)
	}
	r.tefBase = regs.RamBase + uint16(ua)
	r.tefEnd = r.tefBase + uint16(r.tefLen()) - frame.TefLen

	for ring := r.txFirst; ring < r.rxFirst+r.rxCount; ring++ {
		ua, err := s.tr.Read(regs.FifoUA(ring))
		if err != nil {
			return fmt.Errorf("read ring %d base: %w", ring, err)
		}
		r.base[ring] = regs.RamBase + uint16(ua)
	}

	if err := s.requestMode(regs.ModeConfig); err != nil {
		return fmt.Errorf("leave diagnostic mode: %w", err)
	}

	s.l.WithFields(logFieldsForLayout(r)).Debug("Ring layout discovered")
	return nil
}

func logFieldsForLayout(r *ringLayout) map[string]any {
	return m{
		"txRings": r.txCount,
		"rxRings": r.rxCount,
		"payload": r.payload,
		"tefBase": fmt.Sprintf("0x%03x", r.tefBase),
		"txBase":  fmt.Sprintf("0x%03x", r.base[r.txFirst]),
		"rxBase":  fmt.Sprintf("0x%03x", r.base[r.rxFirst]),
	}
}
