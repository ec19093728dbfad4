package canfd

import (
	"fmt"
	"math/bits"

	"github.com/wirebit/canfd/frame"
	"github.com/wirebit/canfd/regs"
)

// retireCompletions reconciles the transmit event ring with the pending set.
// The number of sends that have fully finished since the last pass is the
// difference between rings marked pending and rings the hardware still shows
// an outstanding send request for; that many events are consumed from the
// cursor, each one releasing its ring.
func (s *Session) retireCompletions(st *regs.Status) error {
	s.mu.Lock()
	pending := s.pending & s.rings.txMask()
	s.mu.Unlock()

	outstanding := st.TxReq & s.rings.txMask()
	done := bits.OnesCount32(pending) - bits.OnesCount32(outstanding)
	// We only get here with the event interrupt asserted, so at least one
	// event sits on the ring even when the accounting shows nothing
	// finished. It has to come off or the interrupt never deasserts.
	if done < 1 {
		done = 1
	}

	var buf [frame.TefLen]byte
	for n := 0; n < done; n++ {
		if err := s.tr.ReadBlock(s.tefCursor, buf[:]); err != nil {
			return fmt.Errorf("read completion at 0x%03x: %w", s.tefCursor, err)
		}
		ev, err := frame.DecodeTef(buf[:])
		if err != nil {
			return err
		}
		err = s.tr.WriteMasked(regs.TefCon, regs.TefConUInc, regs.TefConUInc)
		if err != nil {
			return fmt.Errorf("advance completion ring: %w", err)
		}

		ring := int(ev.Seq)
		s.mu.Lock()
		if s.pending&(1<<ring) == 0 {
			s.mu.Unlock()
			s.l.WithField("ring", ring).Warn("Completion for a ring not in flight")
		} else {
			s.pending &^= 1 << ring
			sent := s.txLen[ring]
			s.mu.Unlock()
			s.metricTxPackets.Inc(1)
			s.metricTxBytes.Inc(int64(sent))
			s.dev.Confirm(ring, ev)
		}

		// One slot forward, wrapping from the last event slot back to the
		// ring start.
		s.tefCursor += frame.TefLen
		if s.tefCursor > s.rings.tefEnd {
			s.tefCursor = s.rings.tefBase
		}
	}
	return nil
}
