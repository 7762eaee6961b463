package adin2111

import (
	"fmt"
	"log/slog"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/wire"
)

//go:generate mockgen -source=bus.go -destination=mock_bus_test.go -package=adin2111

// Bus is a full duplex serial bus. Each call to Tx is one chip select framed
// transaction: w is clocked out while r is filled with the device response.
// len(r) is always equal to len(w).
type Bus interface {
	Tx(w, r []byte) error
}

// Notifier is an interrupt line. The registered function is called from the
// interrupt context and must not block. Disarm may be called more than once.
type Notifier interface {
	Arm(func()) error
	Disarm()
}

const streamBufLen = wire.HeaderLen + wire.FrameHeaderLen + wire.MaxFrameSize

func (d *Device) lock()   { d.busmu.Lock() }
func (d *Device) unlock() { d.busmu.Unlock() }

// ReadReg reads a register. Streaming FIFO registers can't be read this way.
func (d *Device) ReadReg(addr regs.Addr) (uint32, error) {
	d.lock()
	defer d.unlock()
	return d.readReg(addr)
}

// WriteReg writes a register.
func (d *Device) WriteReg(addr regs.Addr, v uint32) error {
	d.lock()
	defer d.unlock()
	return d.writeReg(addr, v)
}

// readReg performs a single register read. Must be called with the bus lock held.
func (d *Device) readReg(addr regs.Addr) (uint32, error) {
	if err := wire.CheckAddr(addr); err != nil {
		return 0, err
	}
	tx := wire.Transaction{Dir: wire.Read, Addr: addr}
	w := wire.AppendEncode(d.regw[:0], tx)
	r := d.regr[:len(w)]
	if err := d.tx(w, r); err != nil {
		return 0, err
	}
	v, err := wire.Decode(tx, r)
	if d.tracing() {
		d.trace("bus:read", slog.Uint64("addr", uint64(addr)), slog.Uint64("val", uint64(v)))
	}
	return v, err
}

// writeReg performs a single register write. Must be called with the bus lock held.
func (d *Device) writeReg(addr regs.Addr, v uint32) error {
	if err := wire.CheckAddr(addr); err != nil {
		return err
	}
	tx := wire.Transaction{Dir: wire.Write, Addr: addr, Value: v}
	w := wire.AppendEncode(d.regw[:0], tx)
	if d.tracing() {
		d.trace("bus:write", slog.Uint64("addr", uint64(addr)), slog.Uint64("val", uint64(v)))
	}
	return d.tx(w, d.regr[:len(w)])
}

func (d *Device) tx(w, r []byte) error {
	if d.bus == nil {
		return ErrBusUnavailable
	}
	err := d.bus.Tx(w, r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}
	return nil
}
