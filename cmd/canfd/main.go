package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wirebit/canfd"
	"github.com/wirebit/canfd/config"
	"github.com/wirebit/canfd/frame"
	"github.com/wirebit/canfd/spi"
	"github.com/wirebit/canfd/util"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	printVersion := flag.Bool("version", false, "Print version")
	memDevice := flag.Bool("mem", false, "Drive the in-memory device model instead of spidev, for self test")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	if err := c.Load(*configPath); err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	var conn spi.Conn
	if *memDevice {
		conn = spi.NewMemConn()
	} else {
		var err error
		conn, err = spi.Open(
			c.GetString("spi.device", "/dev/spidev0.0"),
			uint32(c.GetInt("spi.speed_hz", 10000000)))
		if err != nil {
			l.WithError(err).Error("Failed to open the SPI device")
			os.Exit(1)
		}
	}

	dev := canfd.NewChanDevice(64)
	ctrl, err := canfd.Main(c, conn, dev, Build, l)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		os.Exit(1)
	}

	go logTraffic(l, dev)

	if err := ctrl.Start(); err != nil {
		util.LogWithContextIfNeeded("Failed to activate", err, l)
		os.Exit(1)
	}

	// The device model loops transmissions back; send one probe frame so a
	// self test run shows the full submission and completion path.
	if *memDevice {
		f := &frame.Frame{ID: 0x123, FD: true, Len: 4}
		copy(f.Data[:], []byte{0xde, 0xad, 0xbe, 0xef})
		if err := ctrl.Send(f); err != nil {
			l.WithError(err).Error("Self test transmission failed")
		}
		ctrl.Notify()
	}

	ctrl.ShutdownBlock()
	os.Exit(0)
}

func logTraffic(l *logrus.Logger, dev *canfd.ChanDevice) {
	for {
		select {
		case r := <-dev.Rx:
			l.WithFields(logrus.Fields{
				"id":   fmt.Sprintf("0x%x", r.Frame.ID),
				"len":  r.Frame.Len,
				"fd":   r.Frame.FD,
				"ts":   r.Timestamp,
				"data": fmt.Sprintf("%x", r.Frame.Payload()),
			}).Info("Received frame")
		case d := <-dev.Done:
			l.WithField("ring", d.Ring).Info("Transmission confirmed")
		case o := <-dev.Overflows:
			l.WithField("rings", fmt.Sprintf("0x%08x", o)).Warn("Receive overflow")
		}
	}
}
