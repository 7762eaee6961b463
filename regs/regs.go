// Package regs defines the ADIN2111 SPI register map: addresses, register
// widths and the bit fields of configuration and status registers.
package regs

import "golang.org/x/exp/constraints"

// Addr is a register address as carried in the SPI command header.
type Addr uint16

// MaxAddr is the highest address of the register space. The command header
// address field is wider, but addresses above MaxAddr are not decoded.
const MaxAddr Addr = 0xff

// Identification and control.
const (
	IDVER      Addr = 0x00
	PHYID      Addr = 0x01
	CAPABILITY Addr = 0x02
	RESET      Addr = 0x03
	CONFIG0    Addr = 0x04
	CONFIG2    Addr = 0x06
	STATUS0    Addr = 0x08
	STATUS1    Addr = 0x09
	PORT_FUNCT Addr = 0x0b
	IMASK0     Addr = 0x0c
	IMASK1     Addr = 0x0d
	MDIOACC    Addr = 0x20
)

// TX FIFO.
const (
	TX_FSIZE Addr = 0x30
	TX       Addr = 0x31
	TX_SPACE Addr = 0x32
	FIFO_CLR Addr = 0x36
)

// Per-port hardware counters. Counter c of port p lives at CNT_BASE+p*CNT_STRIDE+c.
const (
	CNT_BASE   Addr = 0x40
	CNT_STRIDE      = 8

	CNT_RXFRM   = 0
	CNT_RXBYTES = 1
	CNT_TXFRM   = 2
	CNT_TXBYTES = 3
	CNT_RXDROP  = 4
	CNT_TXERR   = 5
	numCounters = 6
)

// Host address filter table. Slot i occupies ADDR_FILT_UPR+2*i and ADDR_FILT_LWR+2*i.
const (
	ADDR_FILT_UPR   Addr = 0x50
	ADDR_FILT_LWR   Addr = 0x51
	ADDR_FILT_SLOTS      = 16
)

// RX FIFOs live in the extended address space above 0x7f.
const (
	RX_FSIZE    Addr = 0x90
	RX          Addr = 0x91
	RX_P2_FSIZE Addr = 0xc0
	RX_P2       Addr = 0xc1
)

// Expected identification values.
const (
	ChipIDADIN2111 = 0x2111
	ChipIDADIN1110 = 0x1110
	PHYIDADIN2111  = 0x0283bc91
)

// CAPABILITY bits.
const (
	CAP_SWITCH  = 1 << 0
	CAP_2PORT   = 1 << 1
	CAP_MACFILT = 1 << 2
	CAP_CUTTHRU = 1 << 3
)

// RESET bits. Both self-clear.
const (
	RESET_SWRESET  = 1 << 0
	RESET_PHYRESET = 1 << 1
)

// CONFIG0 bits.
const (
	CONFIG0_RXCTE   = 1 << 8
	CONFIG0_TXCTE   = 1 << 9
	CONFIG0_TXFCSVE = 1 << 14
	CONFIG0_SYNC    = 1 << 15
)

// CONFIG2 bits.
const (
	CONFIG2_P1_FWD_EN        = 1 << 0
	CONFIG2_P2_FWD_EN        = 1 << 1
	CONFIG2_P1_FWD_UNK2HOST  = 1 << 2
	CONFIG2_CRC_APPEND       = 1 << 5
	CONFIG2_PORT_CUT_THRU_EN = 1 << 11
	CONFIG2_P2_FWD_UNK2HOST  = 1 << 12
)

// PORT_FUNCT bits.
const (
	PORT_FUNCT_P1_EN = 1 << 0
	PORT_FUNCT_P2_EN = 1 << 8
)

// FIFO_CLR bits.
const (
	FIFO_CLR_RX = 1 << 0
	FIFO_CLR_TX = 1 << 1
)

// MDIOACC fields.
const (
	MDIO_TRDONE      = 1 << 31
	MDIO_ST_SHIFT    = 28
	MDIO_OP_SHIFT    = 26
	MDIO_PRTAD_SHIFT = 21
	MDIO_DEVAD_SHIFT = 16
	MDIO_DATA_MASK   = 0xffff

	MDIO_ST_CLAUSE22 = 0b01
	MDIO_OP_WR       = 0b01
	MDIO_OP_RD       = 0b10
)

// ADDR_FILT_UPR bits above the two MAC bytes.
const (
	ADDR_FILT_TO_HOST     = 1 << 16
	ADDR_FILT_APPLY2PORT1 = 1 << 30
	ADDR_FILT_APPLY2PORT2 = 1 << 31
)

// Internal PHY MDIO addresses.
const (
	PHYAddrPort1 = 1
	PHYAddrPort2 = 2
)

// Clause 22 PHY registers and bits used by the driver and model.
const (
	PHY_BMCR = 0x00
	PHY_BMSR = 0x01
	PHY_ID1  = 0x02
	PHY_ID2  = 0x03

	BMCR_LOOPBACK  = 0x4000
	BMCR_RESET     = 0x8000
	BMCR_POWERDOWN = 0x0800
	BMCR_ANENABLE  = 0x1000

	BMSR_LINKSTATUS = 0x0004
	BMSR_ANCOMPLETE = 0x0020
)

// Width returns the declared payload width of the register in bytes.
// FIFO data registers are streams and return 0. Undefined addresses
// are treated as 32-bit registers.
func Width(addr Addr) int {
	switch {
	case IsStream(addr):
		return 0
	case addr == RESET, addr == FIFO_CLR:
		return 1
	case addr == IDVER, addr == CAPABILITY, addr == PORT_FUNCT,
		addr == TX_FSIZE, addr == TX_SPACE, addr == RX_FSIZE, addr == RX_P2_FSIZE:
		return 2
	}
	return 4
}

// IsStream reports whether addr is a FIFO data register.
func IsStream(addr Addr) bool {
	return addr == TX || addr == RX || addr == RX_P2
}

// Defined reports whether addr is part of the register map.
func Defined(addr Addr) bool {
	switch addr {
	case IDVER, PHYID, CAPABILITY, RESET, CONFIG0, CONFIG2, STATUS0, STATUS1,
		PORT_FUNCT, IMASK0, IMASK1, MDIOACC, TX_FSIZE, TX, TX_SPACE, FIFO_CLR,
		RX_FSIZE, RX, RX_P2_FSIZE, RX_P2:
		return true
	}
	if addr >= CNT_BASE && addr < CNT_BASE+2*CNT_STRIDE {
		return (addr-CNT_BASE)%CNT_STRIDE < numCounters
	}
	return addr >= ADDR_FILT_UPR && addr < ADDR_FILT_UPR+2*ADDR_FILT_SLOTS
}

// ReadOnly reports whether writes to addr are ignored by the device.
func ReadOnly(addr Addr) bool {
	switch addr {
	case IDVER, PHYID, CAPABILITY, TX_SPACE, RX_FSIZE, RX, RX_P2_FSIZE, RX_P2:
		return true
	}
	return addr >= CNT_BASE && addr < CNT_BASE+2*CNT_STRIDE
}

// Counter returns the address of counter c for port (0 or 1).
func Counter(port, c int) Addr {
	return CNT_BASE + Addr(port*CNT_STRIDE+c)
}

// AddrFilter returns the upper and lower register addresses of filter slot i.
func AddrFilter(slot int) (upr, lwr Addr) {
	return ADDR_FILT_UPR + Addr(2*slot), ADDR_FILT_LWR + Addr(2*slot)
}

// RxFIFO returns the size and data registers of the RX FIFO of port (0 or 1).
func RxFIFO(port int) (fsize, data Addr) {
	if port == 1 {
		return RX_P2_FSIZE, RX_P2
	}
	return RX_FSIZE, RX
}

// Field extracts the field of width bits starting at shift.
func Field[T constraints.Unsigned](v T, shift, width uint) T {
	return (v >> shift) & (1<<width - 1)
}

// PutField returns v with the field of width bits at shift replaced by f.
func PutField[T constraints.Unsigned](v T, shift, width uint, f T) T {
	mask := T(1<<width-1) << shift
	return v&^mask | (f<<shift)&mask
}

// Mask truncates v to the declared width of addr.
func Mask(addr Addr, v uint32) uint32 {
	switch Width(addr) {
	case 1:
		return v & 0xff
	case 2:
		return v & 0xffff
	}
	return v
}
