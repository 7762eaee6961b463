package adin2111

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/sim"
	"github.com/soypat/adin2111/wire"
	"github.com/soypat/lneto/ethernet"
	"go.uber.org/mock/gomock"
)

var (
	hostMAC = [6]byte{0x02, 0xad, 0x11, 0, 0, 1}
	peerA   = [6]byte{0x02, 0, 0, 0, 0, 0xa}
	peerB   = [6]byte{0x02, 0, 0, 0, 0, 0xb}
)

const testReset = 2 * time.Millisecond

func newModel(opts ...sim.Option) *sim.Model {
	return sim.New(sim.ADIN2111{}, append([]sim.Option{sim.WithResetDuration(testReset)}, opts...)...)
}

// testConfig returns a fast configuration. Without a notifier the caller
// drives the dispatcher with Poll.
func testConfig(m *sim.Model) Config {
	opts := DefaultOptions()
	opts.HardwareAddr = hostMAC
	return Config{
		Options:      &opts,
		ResetPin:     m.ResetPin,
		SettleTime:   3 * testReset,
		PollInterval: -1,
		Retry:        RetryPolicy{MaxAttempts: 2, Min: time.Millisecond, Max: 2 * time.Millisecond},
	}
}

func mustProbe(t *testing.T, d *Device, cfg Config) {
	t.Helper()
	if err := d.Probe(context.Background(), cfg); err != nil {
		t.Fatal("probe:", err)
	}
	t.Cleanup(func() { d.Remove() })
}

func ethFrame(dst, src [6]byte, payload string) []byte {
	b := make([]byte, 14, 14+len(payload))
	copy(b[0:6], dst[:])
	copy(b[6:12], src[:])
	binary.BigEndian.PutUint16(b[12:14], uint16(ethernet.TypeIPv4))
	return append(b, payload...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type linkRecorder struct {
	mu     sync.Mutex
	events []linkEvent
}

type linkEvent struct {
	port int
	up   bool
}

func (r *linkRecorder) OnLinkChange(port int, up bool) {
	r.mu.Lock()
	r.events = append(r.events, linkEvent{port, up})
	r.mu.Unlock()
}

func (r *linkRecorder) count(ev linkEvent) (n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == ev {
			n++
		}
	}
	return n
}

func TestIdentify(t *testing.T) {
	d := New(newModel())
	id, err := d.Identify()
	if err != nil {
		t.Fatal(err)
	}
	if id.ChipID != 0x2111 || id.PHYID != 0x0283bc91 {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestIdentifyMismatch(t *testing.T) {
	m := sim.New(sim.Custom{Label: "no-phy", Chip: regs.ChipIDADIN2111, PHY: 0, NumPorts: 2})
	d := New(m)
	_, err := d.Identify()
	if !errors.Is(err, ErrIDMismatch) {
		t.Fatal("expected identity mismatch, got", err)
	}
	var idErr *IDMismatchError
	if !errors.As(err, &idErr) || idErr.Got.PHYID != 0 || idErr.Got.ChipID != regs.ChipIDADIN2111 {
		t.Errorf("bad mismatch detail %v", err)
	}
	if errors.Is(err, ErrBusUnavailable) {
		t.Error("mismatch must be distinguishable from bus errors")
	}
	err = d.Probe(context.Background(), testConfig(m))
	if !errors.Is(err, ErrIDMismatch) {
		t.Fatal("probe:", err)
	}
	if d.State() != StateDetached {
		t.Error("failed probe left state", d.State())
	}
}

func TestIdentifyCapabilities(t *testing.T) {
	m := sim.New(sim.Custom{Label: "single", Chip: regs.ChipIDADIN2111, PHY: regs.PHYIDADIN2111, NumPorts: 1},
		sim.WithResetDuration(testReset))
	d := New(m)
	id, err := d.Identify()
	var idErr *IDMismatchError
	if !errors.As(err, &idErr) || !errors.Is(err, ErrIDMismatch) {
		t.Fatal("expected identity mismatch, got", err)
	}
	if id.Capabilities != 0 || idErr.Got.ChipID != regs.ChipIDADIN2111 {
		t.Errorf("bad identity %+v", idErr.Got)
	}
	cfg := testConfig(m)
	cfg.Notifier = m
	if err := d.Probe(context.Background(), cfg); !errors.Is(err, ErrIDMismatch) {
		t.Fatal("probe:", err)
	}
	if d.State() != StateDetached || m.Armed() {
		t.Error("probe without switch capability left state", d.State())
	}
}

func TestNilBus(t *testing.T) {
	d := New(nil)
	if err := d.Probe(context.Background(), Config{}); !errors.Is(err, ErrBusUnavailable) {
		t.Error("probe on nil bus:", err)
	}
	if _, err := d.Identify(); !errors.Is(err, ErrBusUnavailable) {
		t.Error("identify on nil bus:", err)
	}
	if err := d.Remove(); err != nil {
		t.Error(err)
	}
}

func TestRegisterRoundtrip(t *testing.T) {
	d := New(newModel())
	skip := map[regs.Addr]bool{
		regs.RESET: true, regs.FIFO_CLR: true, regs.STATUS0: true, regs.STATUS1: true,
		regs.MDIOACC: true, regs.TX_FSIZE: true,
	}
	n := 0
	for addr := regs.Addr(0); addr <= 0xff; addr++ {
		if !regs.Defined(addr) || regs.ReadOnly(addr) || regs.IsStream(addr) || skip[addr] {
			continue
		}
		want := regs.Mask(addr, 0xa5c30000|uint32(addr)<<4|1)
		if err := d.WriteReg(addr, want); err != nil {
			t.Fatal(err)
		}
		got, err := d.ReadReg(addr)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("register %#x: wrote %#x read %#x", addr, want, got)
		}
		n++
	}
	if n < 30 {
		t.Errorf("only %d registers round tripped", n)
	}
	// Undefined addresses read zero and ignore writes.
	if err := d.WriteReg(0x7e, 0xffffffff); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.ReadReg(0x7e); v != 0 {
		t.Errorf("undefined register read %#x", v)
	}
}

func TestRegisterOutOfRange(t *testing.T) {
	m := newModel()
	d := New(m)
	before, count := m.Peek(regs.STATUS0), m.TxCount()
	err := d.WriteReg(0x4000|regs.STATUS0, 0xffffffff)
	var perr *wire.ProtocolError
	if !errors.As(err, &perr) || perr.Addr != 0x4008 {
		t.Fatal("expected protocol error, got", err)
	}
	if _, err := d.ReadReg(regs.MaxAddr + 1); !errors.Is(err, wire.ErrMalformed) {
		t.Error("read beyond register space:", err)
	}
	if m.TxCount() != count {
		t.Error("out of range access reached the bus")
	}
	if after := m.Peek(regs.STATUS0); after != before {
		t.Errorf("STATUS0 changed from %#x to %#x", before, after)
	}
}

func TestSoftResetIdempotent(t *testing.T) {
	d := New(newModel())
	d.settle = 3 * testReset
	var ids [2]DeviceIdentity
	for i := range ids {
		if err := d.ResetDevice(ResetSoft); err != nil {
			t.Fatal(err)
		}
		id, err := d.Identify()
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}
	if ids[0] != ids[1] {
		t.Errorf("identity changed across resets %+v %+v", ids[0], ids[1])
	}
}

func TestResetTimeout(t *testing.T) {
	m := newModel(sim.WithResetDuration(time.Second))
	d := New(m)
	d.settle = time.Millisecond
	if err := d.ResetDevice(ResetSoft); !errors.Is(err, ErrResetTimeout) {
		t.Fatal("expected reset timeout, got", err)
	}
}

func TestFrameSizeBoundary(t *testing.T) {
	m := newModel()
	d := New(m)
	if err := d.Configure(DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	if err := d.EnqueueFrame(0, make([]byte, 2048)); err != nil {
		t.Fatal("max size frame:", err)
	}
	before := m.TxCount()
	if err := d.EnqueueFrame(0, make([]byte, 2049)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatal("expected frame too large, got", err)
	}
	if after := m.TxCount(); after != before {
		t.Errorf("oversize frame issued %d transactions", after-before)
	}
	if len(m.Violations()) != 0 {
		t.Error(m.Violations())
	}
}

func TestEnqueueDrain(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	m.SetLink(1, true)
	d := New(m)
	opts := DefaultOptions()
	opts.HardwareAddr = hostMAC
	if err := d.Configure(opts); err != nil {
		t.Fatal(err)
	}
	out := ethFrame(peerB, hostMAC, "egress")
	if err := d.EnqueueFrame(1, out); err != nil {
		t.Fatal(err)
	}
	sent := m.Transmitted(1)
	if len(sent) != 1 || string(sent[0][:len(out)]) != string(out) {
		t.Fatalf("unexpected transmit %x", sent)
	}
	if len(sent[0]) != len(out)+4 {
		t.Error("expected appended FCS")
	}
	if _, err := d.DrainFrame(0); !errors.Is(err, ErrNoFrame) {
		t.Fatal("expected no frame, got", err)
	}
	in := ethFrame(hostMAC, peerA, "ingress")
	if !m.Inject(0, in) {
		t.Fatal("frame not accepted")
	}
	got, err := d.DrainFrame(0)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(in) {
		t.Errorf("drained %x want %x", got, in)
	}
	if _, err := d.DrainFrame(2); !errors.Is(err, ErrBadPort) {
		t.Error("bad port:", err)
	}
}

func TestTxFull(t *testing.T) {
	m := newModel(sim.WithTxCapacity(100))
	m.HoldTx(true)
	d := New(m)
	if err := d.Configure(DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	frame := ethFrame(peerA, hostMAC, "0123456789012345678901234567890123456789")
	if err := d.EnqueueFrame(0, frame); err != nil {
		t.Fatal(err)
	}
	if err := d.EnqueueFrame(0, frame); !errors.Is(err, ErrTxFull) {
		t.Fatal("expected tx full, got", err)
	}
	m.ReleaseTx()
	if err := d.EnqueueFrame(0, frame); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentTransactionGroups(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	m.SetLink(1, true)
	d := New(m)
	opts := DefaultOptions()
	opts.HardwareAddr = hostMAC
	if err := d.Configure(opts); err != nil {
		t.Fatal(err)
	}
	const workers, iters = 4, 50
	var wg sync.WaitGroup
	var drained atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			// Single register accesses must not land inside a FIFO group.
			for i := 0; i < iters; i++ {
				if _, err := d.ReadReg(regs.STATUS1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				frame := ethFrame(peerA, hostMAC, "tx payload")
				err := d.EnqueueFrame(w%2, frame)
				if err != nil && !errors.Is(err, ErrTxFull) {
					t.Error(err)
					return
				}
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				m.Inject(w%2, ethFrame(hostMAC, peerB, "rx payload"))
				_, err := d.DrainFrame(w % 2)
				if err == nil {
					drained.Add(1)
				} else if !errors.Is(err, ErrNoFrame) {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	if v := m.Violations(); len(v) != 0 {
		t.Fatalf("%d transaction groups interleaved: %v", len(v), v)
	}
	if drained.Load() == 0 {
		t.Error("no frames drained")
	}
}

func TestProbeRemove(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	var links linkRecorder
	received := make(chan []byte, 4)
	d := New(m)
	cfg := testConfig(m)
	cfg.Notifier = m
	cfg.OnLinkChange = links.OnLinkChange
	cfg.OnFrameReceived = func(port int, frame []byte) { received <- frame }
	if err := d.Probe(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if !m.Armed() {
		t.Fatal("notifier not armed")
	}
	if d.State() != StateReady {
		t.Fatal("state", d.State())
	}
	if links.count(linkEvent{0, true}) != 1 {
		t.Fatal("initial link state not reported")
	}
	m.SetLink(1, true)
	waitFor(t, "port 1 link", func() bool { return links.count(linkEvent{1, true}) == 1 })

	frame := ethFrame(peerB, hostMAC, "submitted")
	if err := d.Submit(1, frame); err != nil {
		t.Fatal(err)
	}
	var sent [][]byte
	waitFor(t, "transmit", func() bool {
		sent = append(sent, m.Transmitted(1)...)
		return len(sent) == 1
	})
	m.Inject(1, ethFrame(hostMAC, peerB, "reply"))
	select {
	case got := <-received:
		if string(got[14:]) != "reply" {
			t.Errorf("received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	if err := d.Remove(); err != nil {
		t.Fatal(err)
	}
	if m.Armed() {
		t.Error("notifier still armed after remove")
	}
	if d.State() != StateDetached {
		t.Error("state after remove", d.State())
	}
	if err := d.Remove(); err != nil {
		t.Error("second remove:", err)
	}
	if err := d.Submit(0, frame); !errors.Is(err, ErrNotReady) {
		t.Error("submit after remove:", err)
	}
}

func TestRemoveNeverProbed(t *testing.T) {
	m := newModel()
	d := New(m)
	before := m.TxCount()
	if err := d.Remove(); err != nil {
		t.Fatal(err)
	}
	if m.TxCount() != before {
		t.Error("remove of unprobed device touched the bus")
	}
}

// Scenario: 3 frames queued on a port whose link drops are discarded and the
// link down callback fires once.
func TestLinkDownDiscardsQueue(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	var links linkRecorder
	d := New(m)
	cfg := testConfig(m)
	cfg.OnLinkChange = links.OnLinkChange
	mustProbe(t, d, cfg)

	for i := 0; i < 3; i++ {
		if err := d.Submit(0, ethFrame(peerA, hostMAC, "queued")); err != nil {
			t.Fatal(err)
		}
	}
	if ps, _ := d.Port(0); ps.Queued != 3 || !ps.LinkUp {
		t.Fatalf("unexpected port state %+v", ps)
	}
	m.SetLink(0, false)
	if err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if n := links.count(linkEvent{0, false}); n != 1 {
		t.Errorf("link down reported %d times", n)
	}
	if ps, _ := d.Port(0); ps.Queued != 0 || ps.LinkUp {
		t.Errorf("unexpected port state %+v", ps)
	}
	if sent := m.Transmitted(0); len(sent) != 0 {
		t.Errorf("%d discarded frames were transmitted", len(sent))
	}
	if st := d.Stats(); st.Ports[0].TxDropped != 3 {
		t.Errorf("dropped %d frames, want 3", st.Ports[0].TxDropped)
	}
	if err := d.Submit(0, ethFrame(peerA, hostMAC, "late")); !errors.Is(err, ErrLinkDown) {
		t.Error("submit on down link:", err)
	}
}

// Scenario: a burst of notifications while draining causes exactly one
// extra dispatch cycle.
func TestNotifyBurstCoalesces(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	m.SetLink(1, true)
	d := New(m)
	var (
		once     sync.Once
		received atomic.Int64
	)
	cfg := testConfig(m)
	cfg.Notifier = m
	cfg.OnFrameReceived = func(port int, frame []byte) {
		received.Add(1)
		once.Do(func() {
			if d.DispatchState() != Draining {
				t.Error("callback outside drain state:", d.DispatchState())
			}
			for i := 0; i < 5; i++ {
				d.Notify()
			}
		})
	}
	mustProbe(t, d, cfg)
	base := d.Stats().Cycles

	bcast := ethFrame(ethernet.BroadcastAddr(), peerA, "burst")
	if !m.Inject(0, bcast) {
		t.Fatal("frame not accepted")
	}
	settled := func() bool {
		return d.Stats().Cycles >= base+2 && d.DispatchState() == Idle && len(d.events) == 0
	}
	waitFor(t, "dispatch cycles", settled)
	time.Sleep(20 * time.Millisecond)
	if got := d.Stats().Cycles - base; got != 2 {
		t.Errorf("burst caused %d cycles, want 2", got)
	}
	if received.Load() != 1 {
		t.Errorf("received %d frames", received.Load())
	}
}

func TestPollFallback(t *testing.T) {
	m := newModel(sim.WithArmError(errors.New("no irq line")))
	var links linkRecorder
	d := New(m)
	cfg := testConfig(m)
	cfg.Notifier = m
	cfg.PollInterval = 2 * time.Millisecond
	cfg.OnLinkChange = links.OnLinkChange
	mustProbe(t, d, cfg)
	if m.Armed() {
		t.Fatal("arm should have failed")
	}
	m.SetLink(1, true)
	waitFor(t, "polled link change", func() bool { return links.count(linkEvent{1, true}) == 1 })
	start := time.Now()
	if err := d.Remove(); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Error("remove took too long")
	}
}

func TestProbeResetFailure(t *testing.T) {
	m := newModel(sim.WithResetDuration(time.Second))
	d := New(m)
	cfg := testConfig(m)
	cfg.ResetPin = nil
	cfg.Notifier = m
	err := d.Probe(context.Background(), cfg)
	if !errors.Is(err, ErrResetTimeout) {
		t.Fatal("expected reset timeout, got", err)
	}
	if m.Armed() || d.State() != StateDetached {
		t.Error("failed probe left resources behind")
	}
	if err := d.Remove(); err != nil {
		t.Error(err)
	}
}

func TestProbeFailureDisarms(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newModel()
	var broken atomic.Bool
	bus := NewMockBus(ctrl)
	bus.EXPECT().Tx(gomock.Any(), gomock.Any()).DoAndReturn(func(w, r []byte) error {
		if broken.Load() {
			return errors.New("spi: no response")
		}
		return m.Tx(w, r)
	}).AnyTimes()
	irq := NewMockNotifier(ctrl)
	gomock.InOrder(
		irq.EXPECT().Arm(gomock.Any()).DoAndReturn(func(func()) error {
			broken.Store(true)
			return nil
		}),
		irq.EXPECT().Disarm().Times(1),
	)
	d := New(bus)
	cfg := testConfig(m)
	cfg.Notifier = irq
	err := d.Probe(context.Background(), cfg)
	if !errors.Is(err, ErrBusUnavailable) {
		t.Fatal("expected bus error, got", err)
	}
	if d.State() != StateDetached {
		t.Error("state", d.State())
	}
}

func TestProbeMismatchNeverArms(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := sim.New(sim.ADIN1110{})
	bus := NewMockBus(ctrl)
	bus.EXPECT().Tx(gomock.Any(), gomock.Any()).DoAndReturn(m.Tx).MinTimes(1)
	irq := NewMockNotifier(ctrl) // Any call fails the test.
	d := New(bus)
	cfg := testConfig(m)
	cfg.Notifier = irq
	if err := d.Probe(context.Background(), cfg); !errors.Is(err, ErrIDMismatch) {
		t.Fatal(err)
	}
}

func TestSubmitAuto(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	m.SetLink(1, true)
	d := New(m)
	cfg := testConfig(m)
	cfg.Options.Forwarding = HostRouted
	mustProbe(t, d, cfg)

	// Learn peerB on port 1.
	m.Inject(1, ethFrame(hostMAC, peerB, "hello"))
	if err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(PortAuto, ethFrame(peerB, hostMAC, "unicast")); err != nil {
		t.Fatal(err)
	}
	if err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if n0, n1 := len(m.Transmitted(0)), len(m.Transmitted(1)); n0 != 0 || n1 != 1 {
		t.Errorf("known unicast sent to ports %d/%d", n0, n1)
	}
	if err := d.Submit(PortAuto, ethFrame(peerA, hostMAC, "unknown")); err != nil {
		t.Fatal(err)
	}
	if err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if n0, n1 := len(m.Transmitted(0)), len(m.Transmitted(1)); n0 != 1 || n1 != 1 {
		t.Errorf("unknown unicast flooded to ports %d/%d", n0, n1)
	}
	st := d.Stats()
	if st.Ports[1].RxPackets != 1 || st.Ports[1].TxPackets != 2 || st.Ports[0].TxPackets != 1 {
		t.Errorf("unexpected stats %+v", st.Ports)
	}
}

func TestTxQueueFull(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	d := New(m)
	cfg := testConfig(m)
	cfg.TxQueueLen = 2
	mustProbe(t, d, cfg)
	frame := ethFrame(peerA, hostMAC, "q")
	for i := 0; i < 2; i++ {
		if err := d.Submit(0, frame); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Submit(0, frame); !errors.Is(err, ErrTxFull) {
		t.Fatal("expected full queue, got", err)
	}
	if err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if n := len(m.Transmitted(0)); n != 2 {
		t.Errorf("transmitted %d frames", n)
	}
	if err := d.Submit(0, make([]byte, 2049)); !errors.Is(err, ErrFrameTooLarge) {
		t.Error(err)
	}
}

// breakableBus forwards to a model until broken.
type breakableBus struct {
	m      *sim.Model
	broken atomic.Bool
}

var errNoResponse = errors.New("spi: no response")

func (b *breakableBus) Tx(w, r []byte) error {
	if b.broken.Load() {
		return errNoResponse
	}
	return b.m.Tx(w, r)
}

func TestBusFailureStopsDevice(t *testing.T) {
	for _, irq := range []bool{false, true} {
		m := newModel()
		m.SetLink(0, true)
		bus := &breakableBus{m: m}
		d := New(bus)
		cfg := testConfig(m)
		cfg.PollInterval = 2 * time.Millisecond
		if irq {
			cfg.Notifier = m
		}
		mustProbe(t, d, cfg)

		bus.broken.Store(true)
		d.Notify()
		waitFor(t, "failed state", func() bool { return d.State() == StateFailed })
		if m.Armed() {
			t.Error("notifier armed after bus failure")
		}
		err := d.Submit(0, ethFrame(peerA, hostMAC, "lost"))
		if !errors.Is(err, ErrBusUnavailable) || !errors.Is(err, errNoResponse) {
			t.Error("submit after bus failure:", err)
		}
		if err := d.Poll(); !errors.Is(err, ErrBusUnavailable) {
			t.Error("poll after bus failure:", err)
		}
		if ps, _ := d.Port(0); ps.Queued != 0 {
			t.Error("frames queued on failed device", ps.Queued)
		}
		if err := d.Remove(); err != nil {
			t.Error("remove failed device:", err)
		}
		if err := d.Remove(); err != nil || d.State() != StateDetached {
			t.Error("second remove:", err, d.State())
		}
	}
}

func TestPollBusFailure(t *testing.T) {
	m := newModel()
	bus := &breakableBus{m: m}
	d := New(bus)
	mustProbe(t, d, testConfig(m))
	bus.broken.Store(true)
	if err := d.Poll(); !errors.Is(err, ErrBusUnavailable) {
		t.Fatal("expected bus error, got", err)
	}
	if d.State() != StateFailed {
		t.Fatal("state", d.State())
	}
	if err := d.Submit(0, ethFrame(peerA, hostMAC, "x")); !errors.Is(err, ErrBusUnavailable) {
		t.Error(err)
	}
}

func TestDrainBadFrameSize(t *testing.T) {
	m := newModel()
	m.SetLink(0, true)
	d := New(m)
	var received []string
	cfg := testConfig(m)
	cfg.OnFrameReceived = func(port int, frame []byte) { received = append(received, string(frame[14:])) }
	mustProbe(t, d, cfg)

	if !m.Inject(0, ethFrame(hostMAC, peerA, "corrupt")) {
		t.Fatal("frame not accepted")
	}
	m.CorruptRxSize(0, 0x1000)
	err := d.Poll()
	var perr *wire.ProtocolError
	if !errors.As(err, &perr) || perr.Kind != wire.KindFrameSize {
		t.Fatal("expected frame size error, got", err)
	}
	if m.RxPending(0) != 0 {
		t.Error("bad frame left in RX FIFO")
	}
	if st := d.Stats(); st.Ports[0].RxErrors != 1 {
		t.Error("rx errors", st.Ports[0].RxErrors)
	}
	if err := d.Poll(); err != nil {
		t.Fatal("cycle after FIFO clear:", err)
	}
	if d.State() != StateReady {
		t.Error("state", d.State())
	}

	m.Inject(0, ethFrame(hostMAC, peerA, "after"))
	if err := d.Poll(); err != nil {
		t.Fatal(err)
	}
	if len(received) != 1 || received[0] != "after" {
		t.Errorf("received %q", received)
	}
	if v := m.Violations(); len(v) != 0 {
		t.Error(v)
	}
}

func TestProbeOptions(t *testing.T) {
	for _, test := range []struct {
		opts      *Options
		funct     uint32
		crcAppend bool
	}{
		{opts: nil, funct: regs.PORT_FUNCT_P1_EN | regs.PORT_FUNCT_P2_EN, crcAppend: true},
		// Switch mode with both ports disabled is a valid explicit request.
		{opts: &Options{}, funct: 0, crcAppend: false},
	} {
		m := newModel()
		d := New(m)
		cfg := testConfig(m)
		cfg.Options = test.opts
		mustProbe(t, d, cfg)
		if got := m.Peek(regs.PORT_FUNCT); got != test.funct {
			t.Errorf("PORT_FUNCT=%#x, want %#x", got, test.funct)
		}
		if got := m.Peek(regs.CONFIG2)&regs.CONFIG2_CRC_APPEND != 0; got != test.crcAppend {
			t.Errorf("CRC append %v, want %v", got, test.crcAppend)
		}
		if ps, _ := d.Port(0); ps.Mode != Switch {
			t.Error("mode", ps.Mode)
		}
		d.Remove()
	}
}
