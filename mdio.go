package adin2111

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/soypat/adin2111/regs"
)

// PHYStatus is decoded from the internal PHY's basic mode status register.
type PHYStatus struct {
	BMSR       uint16
	LinkUp     bool
	ANComplete bool
}

// Counters are the per-port hardware MAC counters.
type Counters struct {
	RxFrames  uint32
	RxBytes   uint32
	TxFrames  uint32
	TxBytes   uint32
	RxDropped uint32
	TxErrors  uint32
}

// MDIORead reads Clause 22 register reg of the internal PHY at address prtad.
func (d *Device) MDIORead(prtad, reg uint8) (uint16, error) {
	d.lock()
	defer d.unlock()
	return d.mdio(regs.MDIO_OP_RD, prtad, reg, 0)
}

// MDIOWrite writes Clause 22 register reg of the internal PHY at address prtad.
func (d *Device) MDIOWrite(prtad, reg uint8, v uint16) error {
	d.lock()
	defer d.unlock()
	_, err := d.mdio(regs.MDIO_OP_WR, prtad, reg, v)
	return err
}

// mdio issues an MDIO frame and waits for completion. Must be called with the bus lock held.
func (d *Device) mdio(op uint32, prtad, reg uint8, data uint16) (uint16, error) {
	var cmd uint32
	cmd = regs.PutField(cmd, regs.MDIO_ST_SHIFT, 2, regs.MDIO_ST_CLAUSE22)
	cmd = regs.PutField(cmd, regs.MDIO_OP_SHIFT, 2, op)
	cmd = regs.PutField(cmd, regs.MDIO_PRTAD_SHIFT, 5, uint32(prtad))
	cmd = regs.PutField(cmd, regs.MDIO_DEVAD_SHIFT, 5, uint32(reg))
	cmd |= uint32(data)
	if err := d.writeReg(regs.MDIOACC, cmd); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(d.mdioTimeout)
	for {
		v, err := d.readReg(regs.MDIOACC)
		if err != nil {
			return 0, err
		}
		if v&regs.MDIO_TRDONE != 0 {
			return uint16(v & regs.MDIO_DATA_MASK), nil
		}
		if time.Since(deadline) >= 0 {
			d.warn("mdio:timeout", slog.Uint64("prtad", uint64(prtad)), slog.Uint64("reg", uint64(reg)))
			return 0, ErrMDIOTimeout
		}
		runtime.Gosched()
	}
}

func phyAddr(port int) (uint8, error) {
	switch port {
	case 0:
		return regs.PHYAddrPort1, nil
	case 1:
		return regs.PHYAddrPort2, nil
	}
	return 0, ErrBadPort
}

// PHYStatus reads the link status of port's internal PHY.
func (d *Device) PHYStatus(port int) (PHYStatus, error) {
	prtad, err := phyAddr(port)
	if err != nil {
		return PHYStatus{}, err
	}
	bmsr, err := d.MDIORead(prtad, regs.PHY_BMSR)
	if err != nil {
		return PHYStatus{}, err
	}
	return PHYStatus{
		BMSR:       bmsr,
		LinkUp:     bmsr&regs.BMSR_LINKSTATUS != 0,
		ANComplete: bmsr&regs.BMSR_ANCOMPLETE != 0,
	}, nil
}

// SetLoopback enables or disables PHY loopback on port. Looped back frames
// are received by the host on the same port.
func (d *Device) SetLoopback(port int, on bool) error {
	prtad, err := phyAddr(port)
	if err != nil {
		return err
	}
	d.lock()
	defer d.unlock()
	bmcr, err := d.mdio(regs.MDIO_OP_RD, prtad, regs.PHY_BMCR, 0)
	if err != nil {
		return err
	}
	if on {
		bmcr |= regs.BMCR_LOOPBACK
	} else {
		bmcr &^= regs.BMCR_LOOPBACK
	}
	_, err = d.mdio(regs.MDIO_OP_WR, prtad, regs.PHY_BMCR, bmcr)
	return err
}

// ReadCounters reads the hardware counters of port.
func (d *Device) ReadCounters(port int) (c Counters, err error) {
	if port != 0 && port != 1 {
		return c, ErrBadPort
	}
	dst := [...]*uint32{
		regs.CNT_RXFRM:   &c.RxFrames,
		regs.CNT_RXBYTES: &c.RxBytes,
		regs.CNT_TXFRM:   &c.TxFrames,
		regs.CNT_TXBYTES: &c.TxBytes,
		regs.CNT_RXDROP:  &c.RxDropped,
		regs.CNT_TXERR:   &c.TxErrors,
	}
	d.lock()
	defer d.unlock()
	for i, p := range dst {
		*p, err = d.readReg(regs.Counter(port, i))
		if err != nil {
			return c, err
		}
	}
	return c, nil
}
