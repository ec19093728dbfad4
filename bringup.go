package canfd

import (
	"fmt"
	"time"

	"github.com/wirebit/canfd/regs"
)

// Oscillator startup time after power-on or reset, and the polling cadence
// for mode changes and clock lock.
const (
	oscSettle    = 5 * time.Millisecond
	pollInterval = time.Millisecond
	probeTries   = 3
	modeTries    = 10
)

// probe resets the controller and checks that the control register reads
// back its documented reset value. A mismatch after the retry budget means
// the device is absent or miswired, reported as ErrWrongWiring. No ring
// state exists at this point, so a failed probe leaves nothing behind.
func (s *Session) probe() error {
	var got uint32
	for attempt := 0; attempt < probeTries; attempt++ {
		if err := s.tr.Reset(); err != nil {
			return err
		}
		time.Sleep(oscSettle)

		var err error
		got, err = s.tr.Read(regs.Con)
		if err != nil {
			return err
		}
		if got&regs.ConDefaultMask == regs.ConDefault {
			return nil
		}
		s.l.WithField("con", fmt.Sprintf("0x%08x", got)).Debug("Reset readback mismatch, retrying")
	}
	return fmt.Errorf("%w (CON=0x%08x)", ErrWrongWiring, got)
}

// wakeClock brings the oscillator out of its disabled state and polls for
// lock on a bounded wall-clock budget. This is the only internal timeout in
// the engine; everything else either completes or surfaces a bus error.
func (s *Session) wakeClock() error {
	if err := s.tr.Write(regs.Osc, 0); err != nil {
		return err
	}
	deadline := time.Now().Add(s.opt.ClockBudget)
	for {
		v, err := s.tr.Read(regs.Osc)
		if err != nil {
			return err
		}
		if v&regs.OscRdy != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrClockLock, s.opt.ClockBudget)
		}
		time.Sleep(pollInterval)
	}
}

// requestMode asks for an operating mode through REQOP and polls OPMOD until
// the controller confirms the change.
func (s *Session) requestMode(mode uint32) error {
	err := s.tr.WriteMasked(regs.Con, regs.ConReqOp.Put(mode), regs.ConReqOp.Mask())
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		v, err := s.tr.ReadMasked(regs.Con, regs.ConOpMod.Mask())
		if err != nil {
			return err
		}
		if regs.ConOpMod.Get(v) == mode {
			return nil
		}
		if attempt >= modeTries {
			return fmt.Errorf("canfd: mode change to %d not confirmed (OPMOD=%d)",
				mode, regs.ConOpMod.Get(v))
		}
		time.Sleep(pollInterval)
	}
}

// Up runs the bring-up protocol: probe, clock, controller setup, bit timing,
// ring configuration and base discovery. The controller is left in
// configuration mode; Activate starts bus traffic. Any failure surfaces the
// underlying error and the device remains safe to retry from probe.
func (s *Session) Up() error {
	if err := s.probe(); err != nil {
		return err
	}
	if err := s.wakeClock(); err != nil {
		return err
	}

	// RAM protection and bus-error reporting on the control interface.
	if err := s.tr.Write(regs.EccCon, regs.EccConEn); err != nil {
		return fmt.Errorf("enable ECC: %w", err)
	}
	if err := s.tr.WriteMasked(regs.Crc, regs.CrcErrIE|regs.CrcFErrIE,
		regs.CrcErrIE|regs.CrcFErrIE); err != nil {
		return fmt.Errorf("enable CRC interrupts: %w", err)
	}

	// Free-running time base so receive and completion timestamps tick.
	if err := s.tr.Write(regs.TsCon, regs.TsConTbcEn); err != nil {
		return fmt.Errorf("enable time base: %w", err)
	}

	// Controller behavior: ISO CRC, no protocol exception, store transmit
	// events, transmit queue unused (the ring pool replaces it).
	con := regs.ConIsoCrcEn | regs.ConPxeDis | regs.ConStoreTef |
		regs.ConReqOp.Put(regs.ModeConfig)
	if err := s.tr.Write(regs.Con, con); err != nil {
		return fmt.Errorf("configure controller: %w", err)
	}

	if err := s.applyBitTiming(); err != nil {
		return err
	}

	s.rings = computeLayout(s.opt.Mode)
	if err := s.configureRings(); err != nil {
		return err
	}

	// Interrupt enables: receive, completion, overflow and the error group.
	ie := uint32(regs.IntRxIE | regs.IntTefIE | regs.IntRxOvIE |
		regs.IntCErrIE | regs.IntSErrIE | regs.IntModIE | regs.IntIvmIE)
	if err := s.tr.WriteMasked(regs.Int, ie, 0xFFFF0000); err != nil {
		return fmt.Errorf("enable interrupts: %w", err)
	}

	s.up = true
	s.l.WithFields(m{"mode": s.opt.Mode, "txRings": s.rings.txCount,
		"rxRings": s.rings.rxCount}).Info("Controller configured")
	return nil
}

func (s *Session) applyBitTiming() error {
	if err := s.opt.Nominal.Validate(false); err != nil {
		return fmt.Errorf("nominal bit timing: %w", err)
	}
	if err := s.tr.Write(regs.NbtCfg, s.opt.Nominal.Pack()); err != nil {
		return fmt.Errorf("write nominal bit timing: %w", err)
	}
	if s.opt.Mode != ModeFD {
		return nil
	}
	if err := s.opt.Data.Validate(true); err != nil {
		return fmt.Errorf("data bit timing: %w", err)
	}
	if err := s.tr.Write(regs.DbtCfg, s.opt.Data.Pack()); err != nil {
		return fmt.Errorf("write data bit timing: %w", err)
	}

	// Transmitter delay compensation in auto mode, offset at the sample
	// point of the data phase.
	tdco := s.opt.Data.Prescaler * (s.opt.Data.PropSeg + s.opt.Data.PhaseSeg1)
	tdc := regs.TdcMode.Put(regs.TdcModeAuto) | regs.TdcOffset.Put(tdco)
	if err := s.tr.Write(regs.Tdc, tdc); err != nil {
		return fmt.Errorf("write delay compensation: %w", err)
	}
	return nil
}

// Activate requests the operating mode and starts bus participation: normal
// FD or classic depending on the frame mode, or internal loopback when self
// test is configured.
func (s *Session) Activate() error {
	if !s.up {
		return errNotConfigured
	}
	mode := uint32(regs.ModeMixed)
	if s.opt.Mode == ModeClassic {
		mode = regs.ModeClassic
	}
	if s.opt.Loopback {
		mode = regs.ModeInternalLoopback
	}
	return s.requestMode(mode)
}
