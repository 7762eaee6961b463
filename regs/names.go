package regs

import "strconv"

var names = map[Addr]string{
	IDVER:       "IDVER",
	PHYID:       "PHYID",
	CAPABILITY:  "CAPABILITY",
	RESET:       "RESET",
	CONFIG0:     "CONFIG0",
	CONFIG2:     "CONFIG2",
	STATUS0:     "STATUS0",
	STATUS1:     "STATUS1",
	PORT_FUNCT:  "PORT_FUNCT",
	IMASK0:      "IMASK0",
	IMASK1:      "IMASK1",
	MDIOACC:     "MDIOACC",
	TX_FSIZE:    "TX_FSIZE",
	TX:          "TX",
	TX_SPACE:    "TX_SPACE",
	FIFO_CLR:    "FIFO_CLR",
	RX_FSIZE:    "RX_FSIZE",
	RX:          "RX",
	RX_P2_FSIZE: "RX_P2_FSIZE",
	RX_P2:       "RX_P2",
}

var counterNames = [numCounters]string{
	CNT_RXFRM:   "RXFRM",
	CNT_RXBYTES: "RXBYTES",
	CNT_TXFRM:   "TXFRM",
	CNT_TXBYTES: "TXBYTES",
	CNT_RXDROP:  "RXDROP",
	CNT_TXERR:   "TXERR",
}

// Name returns a mnemonic for addr, or its hexadecimal value if addr
// is not part of the register map.
func Name(addr Addr) string {
	if s, ok := names[addr]; ok {
		return s
	}
	if !Defined(addr) {
		return "0x" + strconv.FormatUint(uint64(addr), 16)
	}
	if addr >= CNT_BASE && addr < CNT_BASE+2*CNT_STRIDE {
		off := int(addr - CNT_BASE)
		return "P" + strconv.Itoa(off/CNT_STRIDE+1) + "_" + counterNames[off%CNT_STRIDE]
	}
	slot := int(addr-ADDR_FILT_UPR) / 2
	if (addr-ADDR_FILT_UPR)%2 == 0 {
		return "ADDR_FILT_UPR" + strconv.Itoa(slot)
	}
	return "ADDR_FILT_LWR" + strconv.Itoa(slot)
}
