package adcmt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Context owns the process-wide USB library state. It is constructed
// explicitly and passed to Open so its lifetime is visible to the
// caller and the driver can be tested with a fake Transport instead.
type Context struct {
	ctx *gousb.Context
}

// NewContext initializes the USB library.
func NewContext() *Context {
	return &Context{ctx: gousb.NewContext()}
}

// Close releases the USB library state. All sessions opened through
// this context must be closed first.
func (c *Context) Close() error {
	return c.ctx.Close()
}

// DeviceInfo describes one attached multimeter, resolved during
// enumeration and sufficient to open it.
type DeviceInfo struct {
	VendorID  uint16
	ProductID uint16
	Bus       int
	Address   int
	Serial    string
}

// String returns a readable identification of the device.
func (d DeviceInfo) String() string {
	if d.Serial != "" {
		return fmt.Sprintf("%04x:%04x bus %d addr %d serial %s",
			d.VendorID, d.ProductID, d.Bus, d.Address, d.Serial)
	}
	return fmt.Sprintf("%04x:%04x bus %d addr %d", d.VendorID, d.ProductID, d.Bus, d.Address)
}

// ListDevices enumerates attached devices matching vid/pid. Devices
// that match but cannot be opened for a serial-number read are still
// listed, without a serial.
func (c *Context) ListDevices(vid, pid uint16) ([]DeviceInfo, error) {
	devs, err := c.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	for _, d := range devs {
		defer d.Close()
	}
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("enumerate devices: %w", mapUSBError(err))
	}

	var found []DeviceInfo
	for _, d := range devs {
		info := DeviceInfo{
			VendorID:  uint16(d.Desc.Vendor),
			ProductID: uint16(d.Desc.Product),
			Bus:       d.Desc.Bus,
			Address:   d.Desc.Address,
		}
		if serial, err := d.SerialNumber(); err == nil {
			info.Serial = serial
		}
		found = append(found, info)
	}
	return found, nil
}

// usbTransport is the gousb-backed Transport. It claims the first
// bulk or interrupt IN and OUT endpoints of interface 0, matching the
// instrument's single-configuration descriptor layout.
type usbTransport struct {
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint

	settle time.Duration
}

// openUSB opens the device described by cfg through ctx and performs
// the init handshake the instrument requires before it answers bulk
// transfers.
func openUSB(ctx *Context, cfg *Config) (Transport, error) {
	var dev *gousb.Device
	var err error
	if cfg.Serial != "" {
		dev, err = openBySerial(ctx, cfg)
	} else {
		dev, err = ctx.ctx.OpenDeviceWithVIDPID(gousb.ID(cfg.VendorID), gousb.ID(cfg.ProductID))
	}
	if err != nil {
		return nil, fmt.Errorf("open %04x:%04x: %w", cfg.VendorID, cfg.ProductID, mapUSBError(err))
	}
	if dev == nil {
		return nil, fmt.Errorf("open %04x:%04x: %w", cfg.VendorID, cfg.ProductID, ErrDeviceNotFound)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return nil, fmt.Errorf("auto detach: %w", mapUSBError(err))
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("claim interface: %w", mapUSBError(err))
	}

	t := &usbTransport{
		dev:    dev,
		intf:   intf,
		done:   done,
		settle: cfg.InitSettleDelay.Std(),
	}
	if err := t.pickEndpoints(); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.init(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// openBySerial opens the matching device whose serial number equals
// cfg.Serial, closing every other candidate.
func openBySerial(ctx *Context, cfg *Config) (*gousb.Device, error) {
	devs, err := ctx.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(cfg.VendorID) && desc.Product == gousb.ID(cfg.ProductID)
	})
	if err != nil && len(devs) == 0 {
		return nil, err
	}

	var match *gousb.Device
	for _, d := range devs {
		if match == nil {
			if serial, err := d.SerialNumber(); err == nil && serial == cfg.Serial {
				match = d
				continue
			}
		}
		d.Close()
	}
	return match, nil
}

// pickEndpoints selects the first bulk or interrupt endpoint in each
// direction from the claimed interface setting.
func (t *usbTransport) pickEndpoints() error {
	for _, ep := range t.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk && ep.TransferType != gousb.TransferTypeInterrupt {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			if t.in == nil {
				in, err := t.intf.InEndpoint(ep.Number)
				if err != nil {
					return fmt.Errorf("claim IN endpoint %d: %w", ep.Number, mapUSBError(err))
				}
				t.in = in
			}
		case gousb.EndpointDirectionOut:
			if t.out == nil {
				out, err := t.intf.OutEndpoint(ep.Number)
				if err != nil {
					return fmt.Errorf("claim OUT endpoint %d: %w", ep.Number, mapUSBError(err))
				}
				t.out = out
			}
		}
	}
	if t.in == nil || t.out == nil {
		return fmt.Errorf("%w: no bulk or interrupt endpoint pair on interface 0", ErrDeviceNotFound)
	}
	return nil
}

// init issues the two control transfers the firmware expects before
// bulk traffic, then lets the device settle.
func (t *usbTransport) init() error {
	buf := make([]byte, 1)
	if _, err := t.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		initVendorRequest, 0, 0, buf); err != nil {
		return fmt.Errorf("vendor init transfer: %w", mapUSBError(err))
	}
	if _, err := t.dev.Control(
		gousb.ControlIn|gousb.ControlClass|gousb.ControlDevice,
		initClassRequest, initClassValue, 0, buf); err != nil {
		return fmt.Errorf("class init transfer: %w", mapUSBError(err))
	}
	time.Sleep(t.settle)
	return nil
}

// Write implements Transport.
func (t *usbTransport) Write(p []byte, timeout time.Duration) (int, error) {
	ctx, cancel := deadlineContext(timeout)
	defer cancel()

	n, err := t.out.WriteContext(ctx, p)
	if err != nil {
		return n, mapUSBError(err)
	}
	return n, nil
}

// Read implements Transport.
func (t *usbTransport) Read(p []byte, timeout time.Duration) (int, error) {
	ctx, cancel := deadlineContext(timeout)
	defer cancel()

	n, err := t.in.ReadContext(ctx, p)
	if err != nil {
		return n, mapUSBError(err)
	}
	return n, nil
}

// Clear recovers both endpoints from a stall with standard
// CLEAR_FEATURE(ENDPOINT_HALT) requests.
func (t *usbTransport) Clear() error {
	const reqClearFeature = 0x01 // featureEndpointHalt selector is 0
	for _, addr := range []gousb.EndpointAddress{t.in.Desc.Address, t.out.Desc.Address} {
		if _, err := t.dev.Control(
			gousb.ControlOut|gousb.ControlStandard|gousb.ControlEndpoint,
			reqClearFeature, 0, uint16(addr), nil); err != nil {
			return fmt.Errorf("clear halt endpoint 0x%02x: %w", uint8(addr), mapUSBError(err))
		}
	}
	return nil
}

// StatusByte reads the instrument status byte via a vendor control
// transfer, outside the bulk exchange path.
func (t *usbTransport) StatusByte() (byte, error) {
	buf := make([]byte, 1)
	n, err := t.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		0x00, 0, 0, buf)
	if err != nil {
		return 0, fmt.Errorf("read status byte: %w", mapUSBError(err))
	}
	if n != 1 {
		return 0, fmt.Errorf("%w: status byte transfer returned %d bytes", ErrMalformedFrame, n)
	}
	return buf[0], nil
}

// Close implements Transport. Safe to call more than once.
func (t *usbTransport) Close() error {
	if t.done != nil {
		t.done()
		t.done = nil
	}
	if t.dev != nil {
		err := t.dev.Close()
		t.dev = nil
		return err
	}
	return nil
}

// deadlineContext builds the per-transfer context. A zero or negative
// timeout means block indefinitely.
func deadlineContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// mapUSBError translates gousb and context errors into the driver's
// transport taxonomy.
func mapUSBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, gousb.TransferTimedOut):
		return ErrTimeout
	case errors.Is(err, gousb.TransferCancelled):
		return ErrTimeout
	case errors.Is(err, gousb.ErrorTimeout):
		return ErrTimeout
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.ErrorIO), errors.Is(err, gousb.ErrorPipe):
		return ErrDisconnected
	case errors.Is(err, gousb.ErrorAccess):
		return ErrPermissionDenied
	case errors.Is(err, gousb.ErrorNotFound):
		return ErrDeviceNotFound
	default:
		return err
	}
}
