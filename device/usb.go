package device

import (
	"errors"
	"fmt"
	"io"

	"github.com/badgeteam/badgefs/internal/util"
	"github.com/google/gousb"
)

// Badge USB identity and bulk endpoint number (0x03 out, 0x83 in).
const (
	usbVendorID  = 0xcafe
	usbProductID = 0x4011
	usbEndpoint  = 3
)

// OpenUSB scans the bus for the badge and returns a byte stream over its
// bulk endpoints, suitable for handing to the transport.
func OpenUSB() (io.ReadWriteCloser, error) {
	logger := util.GetLogger("usb")

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(usbVendorID, usbProductID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("opening badge: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("no badge found (%04x:%04x)", usbVendorID, usbProductID)
	}

	// The badge may be left mid-exchange by a previous session.
	if err := dev.Reset(); err != nil {
		logger.Warn().Err(err).Msg("Device reset failed")
	}
	if err := dev.SetAutoDetach(true); err != nil {
		logger.Warn().Err(err).Msg("Auto-detach not available")
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claiming interface: %w", err)
	}

	in, err := intf.InEndpoint(usbEndpoint)
	if err == nil {
		var out *gousb.OutEndpoint
		out, err = intf.OutEndpoint(usbEndpoint)
		if err == nil {
			logger.Debug().Str("device", dev.String()).Msg("Badge opened")
			return &usbStream{ctx: ctx, dev: dev, release: done, in: in, out: out}, nil
		}
	}

	done()
	dev.Close()
	ctx.Close()
	return nil, fmt.Errorf("opening bulk endpoints: %w", err)
}

// usbStream adapts the badge's bulk endpoint pair to io.ReadWriteCloser.
type usbStream struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	release func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
}

func (s *usbStream) Read(p []byte) (int, error) {
	return s.in.Read(p)
}

func (s *usbStream) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *usbStream) Close() error {
	s.release()
	return errors.Join(s.dev.Close(), s.ctx.Close())
}
