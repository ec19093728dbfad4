package canfd

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wirebit/canfd/config"
	"github.com/wirebit/canfd/regs"
	"github.com/wirebit/canfd/spi"
	"github.com/wirebit/canfd/util"
)

// Main assembles an engine from configuration: logger, transport, session
// and bring-up, returning a Control ready to Start. The conn is supplied by
// the caller because opening the bus (spidev path, speed, chip select) is
// platform wiring, not protocol.
func Main(c *config.C, conn spi.Conn, dev Device, buildVersion string, logger *logrus.Logger) (*Control, error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}
	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	opt, err := optionsFromConfig(c)
	if err != nil {
		return nil, util.NewContextualError("Failed to parse controller settings", nil, err)
	}

	session := NewSession(l, spi.NewTransport(conn), dev, opt)
	if err := session.Up(); err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to bring up the controller", err)
	}

	statsStart, err := startStats(l, c, buildVersion)
	if err != nil {
		return nil, util.NewContextualError("Failed to start stats emission", nil, err)
	}

	return &Control{
		s:          session,
		l:          l,
		c:          c,
		irq:        make(chan struct{}, 1),
		pollEvery:  c.GetDuration("interrupt.poll", 0),
		statsStart: statsStart,
	}, nil
}

func optionsFromConfig(c *config.C) (Options, error) {
	var opt Options

	switch mode := c.GetString("can.mode", "fd"); mode {
	case "fd":
		opt.Mode = ModeFD
	case "classic":
		opt.Mode = ModeClassic
	default:
		return opt, fmt.Errorf("can.mode was not understood: %s", mode)
	}
	opt.Loopback = c.GetBool("can.loopback", false)
	opt.ClockBudget = c.GetDuration("can.clock_budget", 0)

	opt.Nominal = timingFromConfig(c, "can.nominal", regs.BitTiming{
		Prescaler: 1, PropSeg: 25, PhaseSeg1: 25, PhaseSeg2: 9, SJW: 9,
	})
	if opt.Mode == ModeFD {
		opt.Data = timingFromConfig(c, "can.data", regs.BitTiming{
			Prescaler: 1, PropSeg: 7, PhaseSeg1: 7, PhaseSeg2: 5, SJW: 5,
		})
	}
	return opt, nil
}

func timingFromConfig(c *config.C, prefix string, d regs.BitTiming) regs.BitTiming {
	return regs.BitTiming{
		Prescaler: uint32(c.GetInt(prefix+".prescaler", int(d.Prescaler))),
		PropSeg:   uint32(c.GetInt(prefix+".prop_seg", int(d.PropSeg))),
		PhaseSeg1: uint32(c.GetInt(prefix+".phase_seg1", int(d.PhaseSeg1))),
		PhaseSeg2: uint32(c.GetInt(prefix+".phase_seg2", int(d.PhaseSeg2))),
		SJW:       uint32(c.GetInt(prefix+".sync_jump_width", int(d.SJW))),
	}
}
