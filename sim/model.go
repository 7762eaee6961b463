// Package sim implements a register level model of the ADIN2111 that
// answers SPI transactions in the same wire format as the silicon. It is
// used to test the driver without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/wire"
)

const (
	defaultResetDuration = 50 * time.Millisecond
	defaultRxCapacity    = 16 * 1024
	defaultTxCapacity    = 2 * (wire.MaxFrameSize + wire.FrameHeaderLen)
	maxViolations        = 64
)

var errLengthMismatch = errors.New("sim: tx and rx buffers differ in length")

// Record describes one bus transaction seen by the model.
type Record struct {
	Seq  uint64
	Time time.Time
	Dir  wire.Direction
	Addr regs.Addr
	// Value is the register value written or returned. Zero for streams.
	Value uint32
	// Len is the total transaction length including the command header.
	Len     int
	Stream  bool
	InReset bool
}

// Tracer receives every transaction handled by the model.
type Tracer interface {
	Trace(Record)
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger of the model.
func WithLogger(l *slog.Logger) Option { return func(m *Model) { m.logger = l } }

// WithResetDuration sets how long the device stays unresponsive after a reset.
func WithResetDuration(d time.Duration) Option { return func(m *Model) { m.resetDuration = d } }

// WithRxCapacity sets the per-port RX FIFO capacity in bytes.
func WithRxCapacity(n int) Option { return func(m *Model) { m.rxCap = n } }

// WithTxCapacity sets the TX FIFO capacity in bytes.
func WithTxCapacity(n int) Option { return func(m *Model) { m.txCap = n } }

// WithTracer registers a transaction tracer.
func WithTracer(t Tracer) Option { return func(m *Model) { m.tracer = t } }

// WithArmError makes Arm fail with err, as when the interrupt line is not wired.
func WithArmError(err error) Option { return func(m *Model) { m.armErr = err } }

type expectKind uint8

const (
	expectNone expectKind = iota
	expectTxData
	expectRxData
)

// Model is a simulated ADIN2111. All methods are safe for concurrent use.
// Model implements the driver's Bus and Notifier interfaces.
type Model struct {
	mu            sync.Mutex
	variant       Variant
	logger        *slog.Logger
	tracer        Tracer
	resetDuration time.Duration
	rxCap         int
	txCap         int

	regfile map[regs.Addr]uint32
	status0 regs.Status0
	status1 regs.Status1
	mdioacc uint32
	link    [2]bool
	phy     [2]phy
	rx      [2]fifo
	txfifo  fifo
	txPort  []int
	txHold  bool
	out     [2][][]byte
	cnt     [2][regs.CNT_TXERR + 1]uint32
	fdb     switchTable

	resetUntil time.Time
	pinLow     bool
	txSize     uint32
	rxBadSize  [2]uint32
	expect     expectKind
	expectPort int
	afterSpace bool
	violations []string
	seq        uint64

	notify func()
	armErr error
}

// New returns a model of the given variant, freshly out of power-on reset
// and ready for access.
func New(v Variant, opts ...Option) *Model {
	m := &Model{
		variant:       v,
		resetDuration: defaultResetDuration,
		rxCap:         defaultRxCapacity,
		txCap:         defaultTxCapacity,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.reset(true)
	m.resetUntil = time.Time{}
	return m
}

// Variant returns the variant the model was created with.
func (m *Model) Variant() Variant { return m.variant }

// Tx handles one chip-select framed transaction. w is clocked out by the
// controller and r receives the device response. There is no bus level
// error signalling: malformed transactions set STATUS0.TXPE and are answered
// with zeros.
func (m *Model) Tx(w, r []byte) error {
	if len(w) != len(r) {
		return errLengthMismatch
	}
	for i := range r {
		r[i] = 0
	}
	m.mu.Lock()
	irq := m.tx(w, r)
	notify := m.notify
	m.mu.Unlock()
	if irq && notify != nil {
		notify()
	}
	return nil
}

func (m *Model) tx(w, r []byte) (irq bool) {
	m.seq++
	rec := Record{Seq: m.seq, Time: time.Now(), Len: len(w)}
	defer func() {
		if m.tracer != nil {
			m.tracer.Trace(rec)
		}
	}()
	dir, addr, err := wire.ParseHeader(w)
	if err != nil {
		m.debug("sim:bad-header", slog.String("err", err.Error()))
		return m.raise0(regs.STATUS0_TXPE)
	}
	rec.Dir, rec.Addr, rec.Stream = dir, addr, regs.IsStream(addr)
	if m.inReset() {
		rec.InReset = true
		if dir == wire.Read {
			for i := wire.HeaderLen; i < len(r); i++ {
				r[i] = 0xff
			}
		}
		return false
	}
	m.checkGroup(dir, addr)
	if rec.Stream {
		return m.stream(dir, addr, w[wire.HeaderLen:], r[wire.HeaderLen:])
	}
	width := regs.Width(addr)
	if len(w) != wire.HeaderLen+width {
		m.debug("sim:bad-width", slog.Uint64("addr", uint64(addr)), slog.Int("len", len(w)))
		return m.raise0(regs.STATUS0_TXPE)
	}
	if dir == wire.Read {
		v := regs.Mask(addr, m.read(addr))
		wire.PutValue(r[wire.HeaderLen:], v)
		rec.Value = v
		if (addr == regs.RX_FSIZE || addr == regs.RX_P2_FSIZE) && v != 0 && wire.CheckFrameSize(addr, v) == nil {
			m.expect, m.expectPort = expectRxData, portOfRx(addr)
		}
		m.afterSpace = addr == regs.TX_SPACE
		return false
	}
	tx, _ := wire.ParseTransaction(w)
	rec.Value = tx.Value
	return m.write(addr, tx.Value)
}

// checkGroup records transactions that split a transaction group: TX_SPACE
// read, TX_FSIZE write and TX stream, or RX size read and RX stream.
func (m *Model) checkGroup(dir wire.Direction, addr regs.Addr) {
	afterSpace := m.afterSpace
	m.afterSpace = false
	if dir == wire.Write && addr == regs.TX_FSIZE && !afterSpace {
		m.violation("TX_FSIZE write not preceded by TX_SPACE read")
	}
	switch m.expect {
	case expectTxData:
		if dir != wire.Write || addr != regs.TX {
			m.violation(fmt.Sprintf("TX_FSIZE write followed by %s 0x%x", dir, addr))
		}
	case expectRxData:
		_, data := regs.RxFIFO(m.expectPort)
		if dir != wire.Read || addr != data {
			m.violation(fmt.Sprintf("RX size read on port %d followed by %s 0x%x", m.expectPort, dir, addr))
		}
	}
	m.expect = expectNone
}

func (m *Model) violation(s string) {
	m.debug("sim:group-violation", slog.String("what", s))
	if len(m.violations) < maxViolations {
		m.violations = append(m.violations, s)
	}
}

func (m *Model) stream(dir wire.Direction, addr regs.Addr, w, r []byte) (irq bool) {
	switch {
	case addr == regs.TX && dir == wire.Write:
		return m.txStream(w)
	case (addr == regs.RX || addr == regs.RX_P2) && dir == wire.Read:
		port := portOfRx(addr)
		if port >= m.variant.Ports() {
			return false
		}
		frame, ok := m.rx[port].pop()
		if !ok {
			return m.raise0(regs.STATUS0_TXPE)
		}
		if len(frame)+wire.FrameHeaderLen != len(r) {
			// Partial reads discard the frame like the silicon does.
			m.debug("sim:rx-size-mismatch", slog.Int("want", len(frame)+wire.FrameHeaderLen), slog.Int("got", len(r)))
			irq = m.raise0(regs.STATUS0_TXPE)
		}
		if len(r) >= wire.FrameHeaderLen {
			wire.NewFrameHeader(port).Put(r)
			copy(r[wire.FrameHeaderLen:], frame)
		}
		return irq
	}
	// Wrong direction on a FIFO register.
	return m.raise0(regs.STATUS0_TXPE)
}

func (m *Model) txStream(data []byte) (irq bool) {
	if uint32(len(data)) != m.txSize || len(data) < wire.FrameHeaderLen {
		m.debug("sim:tx-size-mismatch", slog.Int("got", len(data)), slog.Uint64("fsize", uint64(m.txSize)))
		return m.raise0(regs.STATUS0_TXPE)
	}
	m.txSize = 0
	if len(data)+m.txfifo.bytes > m.txCap {
		return m.raise0(regs.STATUS0_TXBOE)
	}
	hdr, _ := wire.ParseFrameHeader(data)
	port := hdr.Port()
	frame := append([]byte(nil), data[wire.FrameHeaderLen:]...)
	if m.txHold {
		m.txfifo.push(frame)
		m.txPort = append(m.txPort, port)
		return false
	}
	return m.transmit(port, frame)
}

func (m *Model) read(addr regs.Addr) uint32 {
	nports := m.variant.Ports()
	switch addr {
	case regs.IDVER:
		return uint32(m.variant.ChipID())
	case regs.PHYID:
		return m.variant.PHYID()
	case regs.CAPABILITY:
		return uint32(m.variant.Capabilities())
	case regs.RESET, regs.FIFO_CLR:
		return 0
	case regs.STATUS0:
		return uint32(m.status0)
	case regs.STATUS1:
		return uint32(m.liveStatus1())
	case regs.MDIOACC:
		return m.mdioacc
	case regs.TX_FSIZE:
		return m.txSize
	case regs.TX_SPACE:
		return uint32(m.txCap - m.txfifo.bytes)
	case regs.RX_FSIZE, regs.RX_P2_FSIZE:
		port := portOfRx(addr)
		if port >= nports || m.rx[port].len() == 0 {
			return 0
		}
		if m.rxBadSize[port] != 0 {
			return m.rxBadSize[port]
		}
		return uint32(len(m.rx[port].peek()) + wire.FrameHeaderLen)
	}
	if addr >= regs.CNT_BASE && addr < regs.CNT_BASE+2*regs.CNT_STRIDE {
		port := int(addr-regs.CNT_BASE) / regs.CNT_STRIDE
		c := int(addr-regs.CNT_BASE) % regs.CNT_STRIDE
		if port >= nports || c >= len(m.cnt[port]) {
			return 0
		}
		return m.cnt[port][c]
	}
	if !regs.Defined(addr) {
		return 0
	}
	return m.regfile[addr]
}

func (m *Model) write(addr regs.Addr, v uint32) (irq bool) {
	if !regs.Defined(addr) || regs.ReadOnly(addr) {
		return false
	}
	switch addr {
	case regs.RESET:
		if v&(regs.RESET_SWRESET|regs.RESET_PHYRESET) != 0 {
			m.debug("sim:reset", slog.Bool("phy", v&regs.RESET_PHYRESET != 0))
			m.reset(v&regs.RESET_PHYRESET != 0)
		}
		return false
	case regs.STATUS0:
		m.status0 &^= regs.Status0(v)
		return false
	case regs.STATUS1:
		m.status1 &^= regs.Status1(v) &^ regs.STATUS1_LIVE
		return false
	case regs.FIFO_CLR:
		if v&regs.FIFO_CLR_RX != 0 {
			m.rx[0].clear()
			m.rx[1].clear()
			m.rxBadSize = [2]uint32{}
		}
		if v&regs.FIFO_CLR_TX != 0 {
			m.txfifo.clear()
			m.txPort = m.txPort[:0]
		}
		return false
	case regs.MDIOACC:
		m.mdio(v)
		return false
	case regs.TX_FSIZE:
		m.txSize = v
		m.expect = expectTxData
		return false
	}
	m.regfile[addr] = regs.Mask(addr, v)
	if addr == regs.IMASK0 || addr == regs.IMASK1 {
		// Unmasking a pending event asserts the line.
		return m.pending()
	}
	return false
}

// reset restores register defaults. PHY registers survive soft resets.
func (m *Model) reset(phyToo bool) {
	m.regfile = map[regs.Addr]uint32{
		regs.IMASK0: 0xffffffff,
		regs.IMASK1: 0xffffffff,
	}
	m.status0 = regs.STATUS0_RESETC
	m.status1 = 0
	m.mdioacc = 0
	m.rx[0].clear()
	m.rx[1].clear()
	m.txfifo.clear()
	m.txPort = m.txPort[:0]
	m.txSize = 0
	m.rxBadSize = [2]uint32{}
	m.expect = expectNone
	m.afterSpace = false
	m.cnt = [2][regs.CNT_TXERR + 1]uint32{}
	m.fdb.clear()
	if phyToo {
		for i := range m.phy {
			m.phy[i].reset(m.variant.PHYID())
		}
	}
	m.resetUntil = time.Now().Add(m.resetDuration)
}

func (m *Model) inReset() bool {
	return m.pinLow || time.Now().Before(m.resetUntil)
}

func (m *Model) liveStatus1() regs.Status1 {
	s := m.status1 &^ regs.STATUS1_LIVE
	for port := 0; port < m.variant.Ports(); port++ {
		if m.link[port] {
			s |= regs.LinkStatusBit(port)
		}
		if m.rx[port].len() > 0 {
			s |= regs.RxReadyBit(port)
		}
	}
	return s
}

// pending reports whether an unmasked event is asserted.
func (m *Model) pending() bool {
	s0 := m.status0 &^ regs.Status0(m.regfile[regs.IMASK0])
	s1 := (m.liveStatus1() &^ regs.STATUS1_LIVE) &^ regs.Status1(m.regfile[regs.IMASK1])
	return s0 != 0 || s1 != 0
}

func (m *Model) raise0(bits regs.Status0) bool {
	m.status0 |= bits
	return bits&^regs.Status0(m.regfile[regs.IMASK0]) != 0
}

func (m *Model) raise1(bits regs.Status1) bool {
	m.status1 |= bits
	return bits&^regs.Status1(m.regfile[regs.IMASK1]) != 0
}

func portOfRx(addr regs.Addr) int {
	if addr == regs.RX_P2 || addr == regs.RX_P2_FSIZE {
		return 1
	}
	return 0
}

// ResetPin drives the active-low hardware reset line. Releasing the line
// performs a full reset, PHYs included.
func (m *Model) ResetPin(level bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !level {
		m.pinLow = true
		return
	}
	if m.pinLow {
		m.pinLow = false
		m.debug("sim:hard-reset")
		m.reset(true)
	}
}

// Arm registers fn as the interrupt line handler. fn is called without
// model locks held each time an unmasked event is raised.
func (m *Model) Arm(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armErr != nil {
		return m.armErr
	}
	m.notify = fn
	return nil
}

// Disarm unregisters the interrupt handler.
func (m *Model) Disarm() {
	m.mu.Lock()
	m.notify = nil
	m.mu.Unlock()
}

// Armed returns true if an interrupt handler is registered.
func (m *Model) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify != nil
}

// SetLink sets the physical link state of port.
func (m *Model) SetLink(port int, up bool) {
	m.mu.Lock()
	if port < 0 || port >= m.variant.Ports() || m.link[port] == up {
		m.mu.Unlock()
		return
	}
	m.link[port] = up
	m.phy[port].setLink(up)
	if !up {
		m.fdb.invalidatePort(port)
	}
	irq := m.raise1(regs.LinkChangeBit(port))
	if m.raise0(regs.STATUS0_PHYINT) {
		irq = true
	}
	notify := m.notify
	m.mu.Unlock()
	if irq && notify != nil {
		notify()
	}
}

// Link returns the physical link state of port.
func (m *Model) Link(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return port >= 0 && port < 2 && m.link[port]
}

// HoldTx makes the model keep transmitted frames in the TX FIFO until
// ReleaseTx is called, so the FIFO can fill up.
func (m *Model) HoldTx(hold bool) {
	m.mu.Lock()
	m.txHold = hold
	m.mu.Unlock()
}

// ReleaseTx transmits every frame held in the TX FIFO.
func (m *Model) ReleaseTx() {
	m.mu.Lock()
	irq := false
	for m.txfifo.len() > 0 {
		frame, _ := m.txfifo.pop()
		port := m.txPort[0]
		m.txPort = m.txPort[1:]
		irq = m.transmit(port, frame) || irq
	}
	notify := m.notify
	m.mu.Unlock()
	if irq && notify != nil {
		notify()
	}
}

// Transmitted returns and forgets the frames the device sent out on port.
func (m *Model) Transmitted(port int) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if port < 0 || port >= 2 {
		return nil
	}
	out := m.out[port]
	m.out[port] = nil
	return out
}

// CorruptRxSize makes RX size reads of port return size while its RX FIFO
// holds frames, as after a FIFO pointer fault. Clearing the RX FIFOs or a
// reset repairs the fault.
func (m *Model) CorruptRxSize(port int, size uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if port >= 0 && port < 2 {
		m.rxBadSize[port] = size
	}
}

// RxPending returns the number of frames waiting in the host RX FIFO of port.
func (m *Model) RxPending(port int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if port < 0 || port >= 2 {
		return 0
	}
	return m.rx[port].len()
}

// TxCount returns the number of bus transactions handled so far.
func (m *Model) TxCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Violations returns transactions that split a FIFO transaction group.
func (m *Model) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.violations...)
}

// Peek returns the value a register read of addr would return, without
// performing a bus transaction.
func (m *Model) Peek(addr regs.Addr) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return regs.Mask(addr, m.read(addr))
}

func (m *Model) debug(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelDebug, msg, attrs...)
}

func (m *Model) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if m.logger == nil {
		return
	}
	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
