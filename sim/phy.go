package sim

import (
	"log/slog"

	"github.com/soypat/adin2111/regs"
)

// phy is one internal Clause 22 PHY.
type phy struct {
	bmcr uint16
	bmsr uint16
	id1  uint16
	id2  uint16
}

func (p *phy) reset(phyid uint32) {
	link := p.bmsr & regs.BMSR_LINKSTATUS
	p.bmcr = regs.BMCR_ANENABLE
	p.bmsr = 0x7809 | link // 10/100 capable, AN capable, extended caps.
	if link != 0 {
		p.bmsr |= regs.BMSR_ANCOMPLETE
	}
	p.id1 = uint16(phyid >> 16)
	p.id2 = uint16(phyid)
}

func (p *phy) setLink(up bool) {
	if up {
		p.bmsr |= regs.BMSR_LINKSTATUS | regs.BMSR_ANCOMPLETE
	} else {
		p.bmsr &^= regs.BMSR_LINKSTATUS | regs.BMSR_ANCOMPLETE
	}
}

func (p *phy) loopback() bool { return p.bmcr&regs.BMCR_LOOPBACK != 0 }

func (p *phy) read(reg uint32) uint16 {
	switch reg {
	case regs.PHY_BMCR:
		return p.bmcr
	case regs.PHY_BMSR:
		return p.bmsr
	case regs.PHY_ID1:
		return p.id1
	case regs.PHY_ID2:
		return p.id2
	}
	return 0
}

func (p *phy) write(reg uint32, v uint16, phyid uint32) {
	if reg != regs.PHY_BMCR {
		return
	}
	if v&regs.BMCR_RESET != 0 {
		// Reset completes immediately and the bit self-clears.
		p.reset(phyid)
		return
	}
	p.bmcr = v
}

// mdio executes an MDIOACC command. Accesses complete immediately.
func (m *Model) mdio(v uint32) {
	st := regs.Field(v, regs.MDIO_ST_SHIFT, 2)
	op := regs.Field(v, regs.MDIO_OP_SHIFT, 2)
	prtad := regs.Field(v, regs.MDIO_PRTAD_SHIFT, 5)
	reg := regs.Field(v, regs.MDIO_DEVAD_SHIFT, 5)
	data := uint16(v & regs.MDIO_DATA_MASK)
	port := int(prtad) - regs.PHYAddrPort1
	if st != regs.MDIO_ST_CLAUSE22 || port < 0 || port >= m.variant.Ports() {
		// Nobody drives the line.
		data = 0xffff
	} else if op == regs.MDIO_OP_RD {
		data = m.phy[port].read(reg)
	} else if op == regs.MDIO_OP_WR {
		m.phy[port].write(reg, data, m.variant.PHYID())
	}
	m.debug("sim:mdio", slog.Uint64("prtad", uint64(prtad)), slog.Uint64("reg", uint64(reg)), slog.Uint64("data", uint64(data)))
	m.mdioacc = v&^(regs.MDIO_DATA_MASK|regs.MDIO_TRDONE) | uint32(data) | regs.MDIO_TRDONE
}
