package canfd

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/wirebit/canfd/regs"
)

// The dispatcher is a two state machine: Draining while any enabled
// condition is asserted, Idle otherwise. Each Draining iteration starts with
// one block read of the status registers; the interrupt flag register and
// the registers that follow it are contiguous, which is what makes the
// single-transaction read valid.

func (s *Session) readStatus() (regs.Status, error) {
	var buf [regs.StatusLen]byte
	if err := s.tr.ReadBlock(regs.StatusBase, buf[:]); err != nil {
		return regs.Status{}, fmt.Errorf("read status block: %w", err)
	}
	return regs.DecodeStatus(buf[:]), nil
}

// Dispatch runs one full drain pass: it services receive, completion,
// overflow and error conditions until no enabled interrupt remains asserted,
// then returns. The cancellation flag is honored at the top of every
// iteration; a set flag ends the pass after the current iteration, never in
// the middle of one.
func (s *Session) Dispatch() error {
	if !s.up {
		return errNotConfigured
	}
	s.metricDrainPasses.Inc(1)

	for {
		if s.closed.Load() {
			return nil
		}
		idle, err := s.drainOnce()
		if err != nil || idle {
			return err
		}
	}
}

// drainOnce owns the bus for one status read plus the services it triggers,
// so a submission never slips between the status snapshot and the handlers
// that interpret it.
func (s *Session) drainOnce() (bool, error) {
	s.busMu.Lock()
	defer s.busMu.Unlock()

	st, err := s.readStatus()
	if err != nil {
		return false, err
	}
	raised := st.Raised()
	if raised == 0 {
		return true, nil // Idle
	}

	if raised&regs.IntRxIF != 0 {
		if err := s.drainReceive(&st); err != nil {
			return false, err
		}
	}
	if raised&regs.IntTefIF != 0 {
		if err := s.retireCompletions(&st); err != nil {
			return false, err
		}
	}
	if raised&regs.IntRxOvIF != 0 {
		if err := s.handleOverflow(&st); err != nil {
			return false, err
		}
	}
	if raised&(regs.IntCErrIF|regs.IntSErrIF|regs.IntModIF|regs.IntIvmIF) != 0 {
		if err := s.handleErrors(&st, raised); err != nil {
			return false, err
		}
	}
	return false, nil
}

// BusStatus reads the controller's live error counters and bus state, for
// status surfaces outside the drain loop.
func (s *Session) BusStatus() (regs.Status, error) {
	if !s.up {
		return regs.Status{}, errNotConfigured
	}
	s.busMu.Lock()
	defer s.busMu.Unlock()
	return s.readStatus()
}

// handleOverflow clears every asserted per-ring overflow flag individually,
// counts them, and emits a single notification summarizing the pass.
func (s *Session) handleOverflow(st *regs.Status) error {
	over := st.RxOvIf & s.rings.rxMask()
	if over == 0 {
		return nil
	}
	for v := over; v != 0; v &= v - 1 {
		ring := bits.TrailingZeros32(v)
		err := s.tr.WriteMasked(regs.FifoSta(ring), 0, regs.FifoStaRxOvIF)
		if err != nil {
			return fmt.Errorf("clear overflow on ring %d: %w", ring, err)
		}
	}
	n := int64(bits.OnesCount32(over))
	s.metricRxOverflows.Inc(n)
	s.l.WithFields(m{"rings": fmt.Sprintf("0x%08x", over), "count": n}).
		Warn("Receive overflow")
	s.dev.Overflow(over)
	return nil
}

// handleErrors acknowledges the bus error, mode change and invalid message
// flags. They are write-zero-to-clear; the still-asserted service flags are
// written back unchanged so only the handled conditions are acknowledged.
func (s *Session) handleErrors(st *regs.Status, raised uint32) error {
	ack := raised & (regs.IntCErrIF | regs.IntSErrIF | regs.IntModIF | regs.IntIvmIF)
	if ack&(regs.IntCErrIF|regs.IntSErrIF|regs.IntIvmIF) != 0 {
		s.metricBusErrors.Inc(1)
		s.l.WithFields(m{
			"rxErrors": st.RxErrorCount(),
			"txErrors": st.TxErrorCount(),
			"busOff":   st.BusOff(),
		}).Warn("Bus error condition")
	}
	err := s.tr.WriteMasked(regs.Int, st.Int&regs.IntFlagMask&^ack, regs.IntFlagMask)
	if err != nil {
		return fmt.Errorf("acknowledge error flags: %w", err)
	}
	return nil
}

// Run services interrupt notifications until ctx is done or the session is
// closed. Each notification triggers one full drain pass. The notification
// source is external: a GPIO edge, a poll ticker, whatever the platform
// offers for deferred interrupt work.
func (s *Session) Run(ctx context.Context, irq <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-irq:
			if !ok {
				return nil
			}
			if s.closed.Load() {
				return nil
			}
			if err := s.Dispatch(); err != nil {
				return err
			}
		}
	}
}
