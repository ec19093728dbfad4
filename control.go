package canfd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wirebit/canfd/config"
	"github.com/wirebit/canfd/frame"
	"github.com/wirebit/canfd/regs"
)

// Control owns a running engine: the session, the dispatcher goroutine and
// the deferred stats exporter. Interrupt notifications arrive through
// Notify; a poll interval can stand in when no interrupt line is wired up.
type Control struct {
	s          *Session
	l          *logrus.Logger
	c          *config.C
	cancel     context.CancelFunc
	eg         *errgroup.Group
	irq        chan struct{}
	pollEvery  time.Duration
	statsStart func()
}

// Start activates the controller and begins servicing interrupts. It is
// nonblocking; use ShutdownBlock to wait for a signal.
func (c *Control) Start() error {
	if err := c.s.Activate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.eg, ctx = errgroup.WithContext(ctx)

	if c.c != nil {
		c.c.CatchHUP(ctx)
	}

	if c.statsStart != nil {
		go c.statsStart()
	}

	c.eg.Go(func() error {
		return c.s.Run(ctx, c.irq)
	})
	if c.pollEvery > 0 {
		c.eg.Go(func() error {
			t := time.NewTicker(c.pollEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					c.Notify()
				}
			}
		})
	}

	c.l.Info("Engine started")
	return nil
}

// Notify queues one drain pass. Safe to call from any goroutine, never
// blocks; a pass already queued absorbs the notification.
func (c *Control) Notify() {
	select {
	case c.irq <- struct{}{}:
	default:
	}
}

// Send submits one frame through the transmit scheduler.
func (c *Control) Send(f *frame.Frame) error {
	return c.s.Send(f)
}

// Stop signals shutdown and waits for the drain loop to finish its pass.
func (c *Control) Stop() {
	if err := c.s.Close(); err != nil {
		c.l.WithError(err).Error("Close session failed")
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.eg != nil {
		if err := c.eg.Wait(); err != nil {
			c.l.WithError(err).Error("Drain loop exited with error")
		}
	}
	c.l.Info("Goodbye")
}

// ShutdownBlock waits for SIGTERM or SIGINT and then calls Stop.
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	c.l.WithField("signal", rawSig.String()).Info("Caught signal, shutting down")
	c.Stop()
}

// BusStatus reports the controller's current error counters and bus state.
func (c *Control) BusStatus() (regs.Status, error) {
	return c.s.BusStatus()
}

// Session exposes the underlying session for status inspection.
func (c *Control) Session() *Session {
	return c.s
}
