package sim

import (
	"encoding/binary"
	"log/slog"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/wire"
	"github.com/soypat/lneto/ethernet"
)

const (
	switchTableSize = 16
	fcsLen          = 4
)

// switchTable is the hardware MAC table used when forwarding between ports.
// When full the oldest entry is replaced.
type switchTable struct {
	entries [switchTableSize]switchEntry
	next    int
}

type switchEntry struct {
	mac   [6]byte
	port  int
	valid bool
}

func (t *switchTable) learn(mac [6]byte, port int) {
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].mac == mac {
			t.entries[i].port = port
			return
		}
	}
	t.entries[t.next] = switchEntry{mac: mac, port: port, valid: true}
	t.next = (t.next + 1) % switchTableSize
}

func (t *switchTable) lookup(mac [6]byte) (port int, ok bool) {
	for i := range t.entries {
		if t.entries[i].valid && t.entries[i].mac == mac {
			return t.entries[i].port, true
		}
	}
	return -1, false
}

func (t *switchTable) invalidatePort(port int) {
	for i := range t.entries {
		if t.entries[i].port == port {
			t.entries[i].valid = false
		}
	}
}

func (t *switchTable) clear() { *t = switchTable{} }

// Inject hands frame to the device as if it arrived from the wire on port.
// frame excludes the FCS. Inject returns false if the device did not accept
// the frame at the port, which happens when the link is down, the port is
// disabled or the device is unconfigured or in reset.
func (m *Model) Inject(port int, frame []byte) bool {
	m.mu.Lock()
	irq, accepted := m.ingress(port, append([]byte(nil), frame...))
	notify := m.notify
	m.mu.Unlock()
	if irq && notify != nil {
		notify()
	}
	return accepted
}

func (m *Model) ingress(port int, frame []byte) (irq, accepted bool) {
	if port < 0 || port >= m.variant.Ports() || !m.link[port] || m.inReset() {
		return false, false
	}
	efrm, err := ethernet.NewFrame(frame)
	if err != nil || len(frame) > wire.MaxFrameSize || !m.synced() || !m.portEnabled(port) {
		m.cnt[port][regs.CNT_RXDROP]++
		return false, false
	}
	m.cnt[port][regs.CNT_RXFRM]++
	m.cnt[port][regs.CNT_RXBYTES] += uint32(len(frame))
	if !m.switching(port) {
		// Host routed ports hand every frame to the host.
		return m.deliver(port, frame), true
	}
	src := *efrm.SourceHardwareAddr()
	dst := *efrm.DestinationHardwareAddr()
	m.fdb.learn(src, port)
	other := 1 - port
	toHost := false
	dstPort, known := m.fdb.lookup(dst)
	switch {
	case dst[0]&1 != 0:
		// Broadcast and multicast flood.
		m.forward(other, frame)
		toHost = true
	case m.hostFilter(dst, port):
		toHost = true
	case known && dstPort == port:
		// Destination sits on the ingress segment.
	case known:
		m.forward(other, frame)
	default:
		m.forward(other, frame)
		toHost = m.unknownToHost(port)
	}
	if m.logger != nil {
		m.debug("sim:switch", slog.Int("port", port), slog.String("dst", string(ethernet.AppendAddr(nil, dst))), slog.Bool("host", toHost))
	}
	if toHost {
		irq = m.deliver(port, frame)
	}
	return irq, true
}

// deliver places frame in the host RX FIFO of port.
func (m *Model) deliver(port int, frame []byte) (irq bool) {
	if m.rx[port].bytes+len(frame)+wire.FrameHeaderLen > m.rxCap {
		m.cnt[port][regs.CNT_RXDROP]++
		return m.raise0(regs.STATUS0_RXBOE)
	}
	m.rx[port].push(frame)
	return m.raise1(regs.RxReadyBit(port))
}

// forward sends a switched frame out of port without host involvement.
func (m *Model) forward(port int, frame []byte) {
	if port < 0 || port >= m.variant.Ports() || !m.link[port] || !m.portEnabled(port) {
		return
	}
	m.wireOut(port, frame)
}

// transmit sends a host frame out of port and signals TX completion.
func (m *Model) transmit(port int, frame []byte) (irq bool) {
	if port >= m.variant.Ports() || !m.synced() {
		return m.raise0(regs.STATUS0_TXPE)
	}
	if m.regfile[regs.CONFIG0]&regs.CONFIG0_TXFCSVE != 0 {
		if !validFCS(frame) {
			m.cnt[port][regs.CNT_TXERR]++
			return m.raise0(regs.STATUS0_TXFCSE)
		}
		frame = frame[:len(frame)-fcsLen]
	}
	switch {
	case m.phy[port].loopback():
		irq = m.deliver(port, frame)
	case !m.link[port] || !m.portEnabled(port):
		m.cnt[port][regs.CNT_TXERR]++
	default:
		m.wireOut(port, frame)
	}
	if m.raise1(regs.STATUS1_TX_RDY) {
		irq = true
	}
	return irq
}

func (m *Model) wireOut(port int, frame []byte) {
	if m.regfile[regs.CONFIG2]&regs.CONFIG2_CRC_APPEND != 0 {
		frame = binary.LittleEndian.AppendUint32(frame[:len(frame):len(frame)], ethernet.CRC32(frame))
	}
	m.out[port] = append(m.out[port], frame)
	m.cnt[port][regs.CNT_TXFRM]++
	m.cnt[port][regs.CNT_TXBYTES] += uint32(len(frame))
}

func validFCS(frame []byte) bool {
	if len(frame) < fcsLen {
		return false
	}
	n := len(frame) - fcsLen
	return binary.LittleEndian.Uint32(frame[n:]) == ethernet.CRC32(frame[:n])
}

func (m *Model) synced() bool {
	return m.regfile[regs.CONFIG0]&regs.CONFIG0_SYNC != 0
}

func (m *Model) portEnabled(port int) bool {
	bit := uint32(regs.PORT_FUNCT_P1_EN)
	if port == 1 {
		bit = regs.PORT_FUNCT_P2_EN
	}
	return m.regfile[regs.PORT_FUNCT]&bit != 0
}

// switching reports whether hardware forwarding is enabled out of port.
func (m *Model) switching(port int) bool {
	if m.variant.Capabilities()&regs.CAP_SWITCH == 0 || m.variant.Ports() < 2 {
		return false
	}
	bit := uint32(regs.CONFIG2_P1_FWD_EN)
	if port == 1 {
		bit = regs.CONFIG2_P2_FWD_EN
	}
	return m.regfile[regs.CONFIG2]&bit != 0
}

func (m *Model) unknownToHost(port int) bool {
	bit := uint32(regs.CONFIG2_P1_FWD_UNK2HOST)
	if port == 1 {
		bit = regs.CONFIG2_P2_FWD_UNK2HOST
	}
	return m.regfile[regs.CONFIG2]&bit != 0
}

// hostFilter reports whether dst matches an address filter slot that
// forwards to the host for frames received on port.
func (m *Model) hostFilter(dst [6]byte, port int) bool {
	apply := uint32(regs.ADDR_FILT_APPLY2PORT1)
	if port == 1 {
		apply = regs.ADDR_FILT_APPLY2PORT2
	}
	for slot := 0; slot < regs.ADDR_FILT_SLOTS; slot++ {
		uprAddr, lwrAddr := regs.AddrFilter(slot)
		upr, lwr := m.regfile[uprAddr], m.regfile[lwrAddr]
		if upr&regs.ADDR_FILT_TO_HOST == 0 || upr&apply == 0 {
			continue
		}
		var mac [6]byte
		binary.BigEndian.PutUint16(mac[:2], uint16(upr))
		binary.BigEndian.PutUint32(mac[2:], lwr)
		if mac == dst {
			return true
		}
	}
	return false
}
