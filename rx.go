package canfd

import (
	"fmt"

	"github.com/wirebit/canfd/frame"
	"github.com/wirebit/canfd/regs"
)

// drainReceive services every receive ring the status block reports as
// holding data. Receive rings are laid out back to back in message RAM in
// index order, so each maximal run of consecutive ready rings is read in a
// single bus transaction. Index advances cannot be batched; each ring gets
// its own control write after its slot is consumed. Any transport failure
// aborts the scan and surfaces.
func (s *Session) drainReceive(st *regs.Status) error {
	ready := st.RxIf & s.rings.rxMask()
	slot := s.rings.rxSlot
	end := s.rings.rxFirst + s.rings.rxCount

	for ring := s.rings.rxFirst; ring < end; {
		if ready&(1<<ring) == 0 {
			ring++
			continue
		}
		run := 1
		for ring+run < end && ready&(1<<(ring+run)) != 0 {
			run++
		}

		buf := s.rxBuf[:run*slot]
		if err := s.tr.ReadBlock(s.rings.base[ring], buf); err != nil {
			return fmt.Errorf("drain rings %d..%d: %w", ring, ring+run-1, err)
		}

		for k := 0; k < run; k++ {
			f, ts, err := frame.DecodeRx(buf[k*slot : (k+1)*slot])
			if err != nil {
				return fmt.Errorf("decode ring %d: %w", ring+k, err)
			}
			err = s.tr.WriteMasked(regs.FifoCon(ring+k),
				regs.FifoConUInc, regs.FifoConUInc)
			if err != nil {
				return fmt.Errorf("advance ring %d: %w", ring+k, err)
			}
			s.metricRxPackets.Inc(1)
			s.metricRxBytes.Inc(int64(f.Len))
			s.dev.Deliver(f, ts)
		}
		ring += run
	}
	return nil
}
