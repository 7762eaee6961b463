// Package adin2111 implements a driver for the Analog Devices ADIN2111
// dual port 10BASE-T1L Ethernet switch, attached over SPI.
//
// A Device is created with New over a Bus and brought up with Probe, which
// identifies, resets and configures the device and starts the dispatcher.
// Received frames and link changes are delivered through the callbacks in
// Config. Frames are transmitted with Submit.
package adin2111

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/adin2111/wire"
)

// State is the lifecycle state of a Device.
type State uint8

const (
	StateDetached State = iota
	StateProbing
	StateReady
	// StateFailed is entered when the bus fails while ready. The
	// dispatcher is stopped and the device must be removed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateProbing:
		return "probing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Options are consumed by Configure.
type Options struct {
	Forwarding  ForwardingMode
	Port0Enable bool
	Port1Enable bool
	// CutThrough enables cut-through forwarding between ports and to the host.
	CutThrough bool
	// CRCAppend makes the device append the FCS to transmitted frames.
	CRCAppend bool
	// HardwareAddr is the host MAC address. Frames addressed to it are
	// delivered to the host.
	HardwareAddr [6]byte
}

// DefaultOptions enables both ports in switch mode with CRC append.
func DefaultOptions() Options {
	return Options{Forwarding: Switch, Port0Enable: true, Port1Enable: true, CRCAppend: true}
}

// Config configures Probe. The zero value is valid.
type Config struct {
	// Options to configure the device with. nil selects DefaultOptions.
	Options *Options
	Logger  *slog.Logger
	// Notifier is the interrupt line. If nil or if arming fails the device
	// status is polled every PollInterval.
	Notifier Notifier
	// ResetPin drives the active-low hardware reset line. May be nil.
	ResetPin func(level bool)
	// SettleTime is the wait after a reset before the device is accessed.
	// Defaults to 50ms.
	SettleTime time.Duration
	// PollInterval is the status poll period used without interrupts.
	// Defaults to 10ms. A negative value disables the dispatcher goroutine
	// when polling, and the caller must call Poll.
	PollInterval time.Duration
	// TxQueueLen is the per-port software TX queue capacity. Defaults to 8.
	TxQueueLen int
	// Retry bounds the reset retries of Probe and Reset.
	Retry RetryPolicy
	// MDIOTimeout bounds MDIO accesses. Defaults to 10ms.
	MDIOTimeout time.Duration
	// TableSize and TableAging configure the learning table.
	TableSize  int
	TableAging time.Duration
	// OnFrameReceived is called from the dispatcher for every received
	// frame. frame is owned by the callee.
	OnFrameReceived func(port int, frame []byte)
	// OnLinkChange is called from the dispatcher on link transitions.
	OnLinkChange func(port int, up bool)
}

const (
	defaultSettleTime   = 50 * time.Millisecond
	defaultPollInterval = 10 * time.Millisecond
	defaultTxQueueLen   = 8
	defaultMDIOTimeout  = 10 * time.Millisecond
)

// Device is an ADIN2111 attached to a Bus. Its methods are safe for
// concurrent use.
type Device struct {
	// busmu serializes transaction groups.
	busmu   sync.Mutex
	bus     Bus
	regw    [wire.HeaderLen + 4]byte
	regr    [wire.HeaderLen + 4]byte
	streamw [streamBufLen]byte
	streamr [streamBufLen]byte

	// Set by Probe before any concurrent access.
	logger      *slog.Logger
	resetPin    func(bool)
	settle      time.Duration
	retry       RetryPolicy
	mdioTimeout time.Duration
	txQueueLen  int
	onFrame     func(int, []byte)
	onLink      func(int, bool)

	// stmu guards the fields below. Never held while acquiring busmu.
	stmu    sync.Mutex
	state   State
	failErr error
	opts    Options
	ports   [NumPorts]port
	fdb     *LearningTable
	dstats  DispatchStats

	lcmu       sync.Mutex // serializes Probe and Remove.
	dispatchmu sync.Mutex
	dstate     atomic.Uint32
	events     chan struct{}
	notifier   Notifier
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New returns a detached device on bus.
func New(bus Bus) *Device {
	d := &Device{
		bus:    bus,
		events: make(chan struct{}, 1),
		fdb:    NewLearningTable(0, 0),
	}
	d.applyConfig(Config{})
	return d
}

func (d *Device) applyConfig(cfg Config) {
	d.logger = cfg.Logger
	d.resetPin = cfg.ResetPin
	d.settle = cfg.SettleTime
	if d.settle <= 0 {
		d.settle = defaultSettleTime
	}
	d.retry = cfg.Retry.withDefaults()
	d.mdioTimeout = cfg.MDIOTimeout
	if d.mdioTimeout <= 0 {
		d.mdioTimeout = defaultMDIOTimeout
	}
	d.txQueueLen = cfg.TxQueueLen
	if d.txQueueLen <= 0 {
		d.txQueueLen = defaultTxQueueLen
	}
	d.onFrame = cfg.OnFrameReceived
	d.onLink = cfg.OnLinkChange
}

// State returns the lifecycle state.
func (d *Device) State() State {
	d.stmu.Lock()
	defer d.stmu.Unlock()
	return d.state
}

func (d *Device) setState(s State) {
	d.stmu.Lock()
	d.state = s
	d.stmu.Unlock()
}

// Probe brings up the device: identification, hard reset, configuration and
// dispatcher start. On failure every acquired resource is released and the
// device is left detached. ctx bounds reset retries only.
func (d *Device) Probe(ctx context.Context, cfg Config) (err error) {
	if d.bus == nil {
		return ErrBusUnavailable
	}
	d.lcmu.Lock()
	defer d.lcmu.Unlock()
	d.stmu.Lock()
	if d.state != StateDetached {
		d.stmu.Unlock()
		return errors.New("adin2111: already probed")
	}
	d.state = StateProbing
	d.stmu.Unlock()

	d.applyConfig(cfg)
	opts := DefaultOptions()
	if cfg.Options != nil {
		opts = *cfg.Options
	}
	d.fdb = NewLearningTable(cfg.TableSize, cfg.TableAging)
	d.info("probe:start")
	defer func() {
		if err != nil {
			d.logerr("probe:failed", slog.String("err", err.Error()))
			d.teardown()
		}
	}()

	id, err := d.Identify()
	if err != nil {
		return err
	}
	err = d.Reset(ctx, ResetHard)
	if err != nil {
		return err
	}
	err = d.Configure(opts)
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	armed := false
	if cfg.Notifier != nil {
		if err := cfg.Notifier.Arm(d.Notify); err != nil {
			d.warn("probe:arm-failed", slog.String("err", err.Error()))
		} else {
			d.notifier = cfg.Notifier
			armed = true
		}
	}
	// Pick up link state present before interrupts were armed.
	err = d.cycle()
	if err != nil {
		return err
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = defaultPollInterval
	}
	if armed || interval > 0 {
		var ticker *time.Ticker
		if !armed {
			ticker = time.NewTicker(interval)
			tick = ticker.C
		}
		runctx, cancel := context.WithCancel(context.Background())
		d.cancel = func() {
			cancel()
			if ticker != nil {
				ticker.Stop()
			}
		}
		d.wg.Add(1)
		go d.run(runctx, tick)
	}
	d.setState(StateReady)
	d.info("probe:ready", slog.Uint64("chip", uint64(id.ChipID)), slog.Bool("irq", armed))
	return nil
}

// fail moves a ready device to StateFailed after a bus error: the notifier
// is disarmed and queued frames are dropped. The dispatcher goroutine
// returns after calling fail. Remove is still required to detach.
func (d *Device) fail(err error) {
	d.stmu.Lock()
	if d.state != StateReady {
		d.stmu.Unlock()
		return
	}
	d.state = StateFailed
	d.failErr = err
	dropped := 0
	for i := range d.ports {
		p := &d.ports[i]
		dropped += len(p.txq)
		p.stats.TxDropped += uint64(len(p.txq))
		clear(p.txq)
		p.txq = p.txq[:0]
	}
	d.stmu.Unlock()
	d.logerr("device:failed", slog.String("err", err.Error()), slog.Int("dropped", dropped))
	if d.notifier != nil {
		d.notifier.Disarm()
	}
}

// readyErr returns nil if the device is ready, the bus error that failed
// it or ErrNotReady otherwise. Must be called with stmu held.
func (d *Device) readyErr() error {
	switch d.state {
	case StateReady:
		return nil
	case StateFailed:
		return d.failErr
	}
	return ErrNotReady
}

// teardown stops the dispatcher, disarms the notifier and clears software
// state. It is called with lcmu held.
func (d *Device) teardown() {
	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
		d.cancel = nil
	}
	if d.notifier != nil {
		d.notifier.Disarm()
		d.notifier = nil
	}
	// Drop a pending signal.
	select {
	case <-d.events:
	default:
	}
	d.stmu.Lock()
	for i := range d.ports {
		d.ports[i] = port{}
	}
	d.dstats = DispatchStats{}
	d.state = StateDetached
	d.failErr = nil
	d.stmu.Unlock()
	d.dstate.Store(uint32(Idle))
}

// Remove stops the dispatcher, soft resets the device and detaches it.
// Remove is idempotent and may be called on a device that was never probed,
// whose probe failed or that failed on a bus error. The reset is skipped
// in the last case.
func (d *Device) Remove() error {
	d.lcmu.Lock()
	defer d.lcmu.Unlock()
	st := d.State()
	if st == StateDetached {
		return nil
	}
	d.info("remove", slog.String("state", st.String()))
	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
		d.cancel = nil
	}
	if st == StateFailed {
		d.teardown()
		return nil
	}
	var errs []error
	err := d.ResetDevice(ResetSoft)
	if errors.Is(err, ErrResetTimeout) {
		d.warn("remove:reset", slog.String("err", err.Error()))
	} else if err != nil {
		errs = append(errs, err)
	}
	d.teardown()
	return errors.Join(errs...)
}
