package canfd

import (
	"math/bits"

	"github.com/wirebit/canfd/frame"
	"github.com/wirebit/canfd/regs"
)

// Send schedules one outgoing frame. The caller guarantees it does not call
// Send concurrently with itself; ErrBusy is the back-pressure signal when
// every transmit ring holds an unconfirmed frame. Send owns the bus for the
// whole submission, so it can wait on an in-progress drain iteration but
// never blocks beyond that.
//
// Ring choice keeps arbitration order aligned with submission order: with
// nothing pending, the highest ring (highest priority) is used; otherwise
// the ring just below the lowest pending one, so a newer frame always
// carries lower priority than everything already in flight. A computed index
// below the pool is a scheduling defect: the frame is dropped and counted,
// the engine keeps running.
func (s *Session) Send(f *frame.Frame) error {
	if !s.up {
		return errNotConfigured
	}
	if err := f.Validate(); err != nil {
		return err
	}

	s.busMu.Lock()
	defer s.busMu.Unlock()

	s.mu.Lock()
	pool := s.rings.txMask()
	pending := s.pending & pool
	if bits.OnesCount32(pending) == s.rings.txCount {
		s.mu.Unlock()
		return ErrBusy
	}

	ring := s.rings.txFirst + s.rings.txCount - 1
	if pending != 0 {
		ring = bits.TrailingZeros32(pending) - 1
	}
	if ring < s.rings.txFirst {
		s.mu.Unlock()
		s.metricTxDropped.Inc(1)
		s.l.WithFields(m{"ring": ring, "pending": pending}).
			Error("Transmit slot selection out of pool, dropping frame")
		return nil
	}

	// Commit the slot before touching the bus; Pending and Busy observers
	// see the ring as taken from here on.
	s.pending |= 1 << ring
	s.txLen[ring] = uint16(frame.RoundLength(f.Len))
	s.mu.Unlock()

	var buf [frame.TxHeaderLen + frame.MaxFDLen]byte
	n, err := frame.EncodeTx(f, uint8(ring), buf[:])
	if err != nil {
		s.clearPending(ring)
		return err
	}

	if err := s.tr.WriteBlock(s.rings.base[ring], buf[:n]); err != nil {
		s.clearPending(ring)
		return err
	}

	// Trigger the send and advance the ring index in a single register
	// write.
	err = s.tr.WriteMasked(regs.FifoCon(ring),
		regs.FifoConUInc|regs.FifoConTxReq,
		regs.FifoConUInc|regs.FifoConTxReq)
	if err != nil {
		s.clearPending(ring)
		return err
	}
	s.metricTxSubmitted.Inc(1)
	return nil
}

func (s *Session) clearPending(ring int) {
	s.mu.Lock()
	s.pending &^= 1 << ring
	s.mu.Unlock()
}
