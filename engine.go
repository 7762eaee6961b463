package adin2111

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/wire"
)

// DeviceIdentity is read from the device identification registers.
type DeviceIdentity struct {
	ChipID       uint16
	PHYID        uint32
	Capabilities uint16
}

// ResetKind selects the reset issued by ResetDevice.
type ResetKind uint8

const (
	// ResetSoft resets the MAC and switch, preserving PHY state.
	ResetSoft ResetKind = iota
	// ResetHard pulses the reset pin, or resets MAC and PHYs if no pin is wired.
	ResetHard
)

func (k ResetKind) String() string {
	if k == ResetHard {
		return "hard"
	}
	return "soft"
}

const resetPulse = 10 * time.Millisecond

// requiredCaps are the capabilities the driver depends on.
const requiredCaps = regs.CAP_SWITCH | regs.CAP_2PORT

// Identify reads the device identity. It fails with an *IDMismatchError if
// the device is not an ADIN2111 or lacks switch or dual port capability.
func (d *Device) Identify() (id DeviceIdentity, err error) {
	d.lock()
	defer d.unlock()
	chip, err := d.readReg(regs.IDVER)
	if err != nil {
		return id, err
	}
	phy, err := d.readReg(regs.PHYID)
	if err != nil {
		return id, err
	}
	caps, err := d.readReg(regs.CAPABILITY)
	if err != nil {
		return id, err
	}
	id = DeviceIdentity{ChipID: uint16(chip), PHYID: phy, Capabilities: uint16(caps)}
	d.debug("identify", slog.Uint64("chip", uint64(id.ChipID)), slog.Uint64("phy", uint64(id.PHYID)), slog.Uint64("caps", uint64(id.Capabilities)))
	if id.ChipID != regs.ChipIDADIN2111 || id.PHYID != regs.PHYIDADIN2111 ||
		id.Capabilities&requiredCaps != requiredCaps {
		return id, &IDMismatchError{Got: id}
	}
	return id, nil
}

// ResetDevice issues a single reset and waits the settle time. No other
// bus access is possible until the device is ready or the reset times out.
func (d *Device) ResetDevice(kind ResetKind) error {
	d.lock()
	defer d.unlock()
	d.info("reset:start", slog.String("kind", kind.String()))
	switch {
	case kind == ResetHard && d.resetPin != nil:
		d.resetPin(false)
		time.Sleep(resetPulse)
		d.resetPin(true)
	case kind == ResetHard:
		if err := d.writeReg(regs.RESET, regs.RESET_SWRESET|regs.RESET_PHYRESET); err != nil {
			return err
		}
	default:
		if err := d.writeReg(regs.RESET, regs.RESET_SWRESET); err != nil {
			return err
		}
	}
	time.Sleep(d.settle)
	v, err := d.readReg(regs.STATUS0)
	if err != nil {
		return err
	}
	st := regs.Status0(v)
	if v == 0xffffffff || !st.ResetComplete() {
		d.warn("reset:timeout", slog.String("status0", st.String()))
		return ErrResetTimeout
	}
	return d.writeReg(regs.STATUS0, uint32(regs.STATUS0_RESETC))
}

// Reset resets the device, retrying on reset timeouts under the configured
// RetryPolicy. The device must be reconfigured afterwards.
func (d *Device) Reset(ctx context.Context, kind ResetKind) error {
	return d.retry.Do(ctx, func(err error) bool {
		return errors.Is(err, ErrResetTimeout)
	}, func(attempt int) error {
		err := d.ResetDevice(kind)
		if err != nil {
			d.warn("reset:attempt-failed", slog.Int("attempt", attempt), slog.String("err", err.Error()))
		}
		return err
	})
}

// Configure programs the device with opts. The first failed write aborts and
// leaves the device partially configured; it must be reset before retrying.
func (d *Device) Configure(opts Options) error {
	d.lock()
	defer d.unlock()
	var cfg2 uint32
	if opts.Forwarding == Switch {
		cfg2 |= regs.CONFIG2_P1_FWD_EN | regs.CONFIG2_P2_FWD_EN
	}
	if opts.CutThrough {
		cfg2 |= regs.CONFIG2_PORT_CUT_THRU_EN
	}
	if opts.CRCAppend {
		cfg2 |= regs.CONFIG2_CRC_APPEND
	}
	var cfg0 uint32
	if opts.CutThrough {
		cfg0 |= regs.CONFIG0_TXCTE | regs.CONFIG0_RXCTE
	}
	var funct uint32
	if opts.Port0Enable {
		funct |= regs.PORT_FUNCT_P1_EN
	}
	if opts.Port1Enable {
		funct |= regs.PORT_FUNCT_P2_EN
	}
	const (
		imask0 = ^uint32(regs.STATUS0_ERRORS)
		imask1 = ^uint32(regs.STATUS1_P1_LINK_CHANGE | regs.STATUS1_P2_LINK_CHANGE |
			regs.STATUS1_P1_RX_RDY | regs.STATUS1_P2_RX_RDY | regs.STATUS1_TX_RDY)
	)
	seq := []regWrite{
		{regs.CONFIG2, cfg2},
		{regs.CONFIG0, cfg0},
	}
	seq = appendFilter(seq, 0, opts.HardwareAddr)
	seq = appendFilter(seq, 1, [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	seq = append(seq, []regWrite{
		{regs.PORT_FUNCT, funct},
		{regs.IMASK0, imask0},
		{regs.IMASK1, imask1},
		{regs.STATUS0, 0xffffffff},
		{regs.STATUS1, 0xffffffff},
		{regs.FIFO_CLR, regs.FIFO_CLR_RX | regs.FIFO_CLR_TX},
		{regs.CONFIG0, cfg0 | regs.CONFIG0_SYNC},
	}...)
	for _, w := range seq {
		if err := d.writeReg(w.addr, w.v); err != nil {
			d.logerr("configure:write", slog.Uint64("addr", uint64(w.addr)), slog.String("err", err.Error()))
			return err
		}
	}
	d.stmu.Lock()
	d.opts = opts
	d.stmu.Unlock()
	d.info("configure:done", slog.String("mode", opts.Forwarding.String()), slog.Bool("p0", opts.Port0Enable), slog.Bool("p1", opts.Port1Enable))
	return nil
}

type regWrite struct {
	addr regs.Addr
	v    uint32
}

func appendFilter(seq []regWrite, slot int, mac [6]byte) []regWrite {
	upr, lwr := regs.AddrFilter(slot)
	uv, lv := filterValue(mac)
	return append(seq, regWrite{upr, uv}, regWrite{lwr, lv})
}

// filterValue packs mac into address filter register values that forward
// matching frames received on either port to the host.
func filterValue(mac [6]byte) (upr, lwr uint32) {
	upr = uint32(binary.BigEndian.Uint16(mac[:2])) |
		regs.ADDR_FILT_TO_HOST | regs.ADDR_FILT_APPLY2PORT1 | regs.ADDR_FILT_APPLY2PORT2
	return upr, binary.BigEndian.Uint32(mac[2:])
}

// SetHardwareAddr programs the host MAC address filter.
func (d *Device) SetHardwareAddr(mac [6]byte) error {
	upr, lwr := regs.AddrFilter(0)
	uv, lv := filterValue(mac)
	d.lock()
	err := d.writeReg(upr, uv)
	if err == nil {
		err = d.writeReg(lwr, lv)
	}
	d.unlock()
	if err != nil {
		return err
	}
	d.stmu.Lock()
	d.opts.HardwareAddr = mac
	d.stmu.Unlock()
	return nil
}

// EnqueueFrame writes frame to the TX FIFO for transmission out of port.
// Frames longer than wire.MaxFrameSize are rejected without bus access.
// ErrTxFull is returned if the FIFO lacks space for the frame.
func (d *Device) EnqueueFrame(port int, frame []byte) error {
	if len(frame) > wire.MaxFrameSize {
		return ErrFrameTooLarge
	}
	if port != 0 && port != 1 {
		return ErrBadPort
	}
	fsize := uint32(len(frame) + wire.FrameHeaderLen)
	d.lock()
	defer d.unlock()
	space, err := d.readReg(regs.TX_SPACE)
	if err != nil {
		return err
	}
	if space < fsize {
		return ErrTxFull
	}
	err = d.writeReg(regs.TX_FSIZE, fsize)
	if err != nil {
		return err
	}
	w := wire.AppendTxStream(d.streamw[:0], port, frame)
	err = d.tx(w, d.streamr[:len(w)])
	if err == nil && d.tracing() {
		d.trace("tx:frame", slog.Int("port", port), slog.Int("len", len(frame)))
	}
	return err
}

// DrainFrame reads the next frame received on port from its RX FIFO.
// It returns ErrNoFrame if the FIFO is empty. The returned buffer is
// freshly allocated and excludes the frame header.
func (d *Device) DrainFrame(port int) ([]byte, error) {
	if port != 0 && port != 1 {
		return nil, ErrBadPort
	}
	fsizeAddr, dataAddr := regs.RxFIFO(port)
	d.lock()
	defer d.unlock()
	fsize, err := d.readReg(fsizeAddr)
	if err != nil {
		return nil, err
	}
	if fsize == 0 {
		return nil, ErrNoFrame
	}
	if err = wire.CheckFrameSize(fsizeAddr, fsize); err != nil {
		return nil, err
	}
	w := wire.AppendStreamHeader(d.streamw[:0], wire.Read, dataAddr)
	w = w[:len(w)+int(fsize)]
	clear(w[wire.HeaderLen:])
	r := d.streamr[:len(w)]
	if err = d.tx(w, r); err != nil {
		return nil, err
	}
	frame := make([]byte, int(fsize)-wire.FrameHeaderLen)
	copy(frame, r[wire.HeaderLen+wire.FrameHeaderLen:])
	if d.tracing() {
		d.trace("rx:frame", slog.Int("port", port), slog.Int("len", len(frame)))
	}
	return frame, nil
}
