package regs

// Status0 is the STATUS0 register. All bits are write-1-to-clear.
type Status0 uint32

const (
	STATUS0_TXPE   Status0 = 1 << 0 // TX protocol error.
	STATUS0_TXBOE  Status0 = 1 << 1 // TX buffer overflow.
	STATUS0_RXBOE  Status0 = 1 << 3 // RX buffer overflow.
	STATUS0_TXFCSE Status0 = 1 << 4 // TX frame check sequence error.
	STATUS0_RESETC Status0 = 1 << 6 // Reset complete.
	STATUS0_PHYINT Status0 = 1 << 7 // PHY interrupt.

	// STATUS0_ERRORS groups the error flags.
	STATUS0_ERRORS = STATUS0_TXPE | STATUS0_TXBOE | STATUS0_RXBOE | STATUS0_TXFCSE
)

// ResetComplete returns true if the device signalled the end of a reset.
func (s Status0) ResetComplete() bool { return s&STATUS0_RESETC != 0 }

// Errors returns the error flags set in s.
func (s Status0) Errors() Status0 { return s & STATUS0_ERRORS }

func (s Status0) String() (str string) {
	if s == 0 {
		return "no status"
	}
	if s&STATUS0_TXPE != 0 {
		str += "txpe "
	}
	if s&STATUS0_TXBOE != 0 {
		str += "txboe "
	}
	if s&STATUS0_RXBOE != 0 {
		str += "rxboe "
	}
	if s&STATUS0_TXFCSE != 0 {
		str += "txfcse "
	}
	if s&STATUS0_RESETC != 0 {
		str += "resetc "
	}
	if s&STATUS0_PHYINT != 0 {
		str += "phyint "
	}
	if str == "" {
		return "unknown"
	}
	return str[:len(str)-1]
}

// Status1 is the STATUS1 register. Link status bits reflect live state
// and are not affected by writes, the remaining bits are write-1-to-clear.
type Status1 uint32

const (
	STATUS1_P1_LINK_STATUS Status1 = 1 << 0
	STATUS1_P1_LINK_CHANGE Status1 = 1 << 1
	STATUS1_TX_RDY         Status1 = 1 << 3
	STATUS1_P1_RX_RDY      Status1 = 1 << 4
	STATUS1_P2_LINK_STATUS Status1 = 1 << 16
	STATUS1_P2_LINK_CHANGE Status1 = 1 << 17
	STATUS1_P2_RX_RDY      Status1 = 1 << 19

	// STATUS1_LIVE holds the bits not cleared by writes.
	STATUS1_LIVE = STATUS1_P1_LINK_STATUS | STATUS1_P2_LINK_STATUS
)

// LinkUp returns the link status bit of port (0 or 1).
func (s Status1) LinkUp(port int) bool {
	if port == 1 {
		return s&STATUS1_P2_LINK_STATUS != 0
	}
	return s&STATUS1_P1_LINK_STATUS != 0
}

// LinkChanged returns the link change bit of port (0 or 1).
func (s Status1) LinkChanged(port int) bool {
	if port == 1 {
		return s&STATUS1_P2_LINK_CHANGE != 0
	}
	return s&STATUS1_P1_LINK_CHANGE != 0
}

// RxReady returns true if the RX FIFO of port (0 or 1) holds a frame.
func (s Status1) RxReady(port int) bool {
	if port == 1 {
		return s&STATUS1_P2_RX_RDY != 0
	}
	return s&STATUS1_P1_RX_RDY != 0
}

// TxReady returns true if a frame transmission completed.
func (s Status1) TxReady() bool { return s&STATUS1_TX_RDY != 0 }

// LinkStatusBit returns the live link bit for port.
func LinkStatusBit(port int) Status1 {
	if port == 1 {
		return STATUS1_P2_LINK_STATUS
	}
	return STATUS1_P1_LINK_STATUS
}

// LinkChangeBit returns the link change bit for port.
func LinkChangeBit(port int) Status1 {
	if port == 1 {
		return STATUS1_P2_LINK_CHANGE
	}
	return STATUS1_P1_LINK_CHANGE
}

// RxReadyBit returns the RX ready bit for port.
func RxReadyBit(port int) Status1 {
	if port == 1 {
		return STATUS1_P2_RX_RDY
	}
	return STATUS1_P1_RX_RDY
}

func (s Status1) String() (str string) {
	if s == 0 {
		return "no status"
	}
	for port := 0; port < 2; port++ {
		p := string('1' + byte(port))
		if s.LinkUp(port) {
			str += "p" + p + "link "
		}
		if s.LinkChanged(port) {
			str += "p" + p + "linkchange "
		}
		if s.RxReady(port) {
			str += "p" + p + "rxrdy "
		}
	}
	if s.TxReady() {
		str += "txrdy "
	}
	if str == "" {
		return "unknown"
	}
	return str[:len(str)-1]
}
