package adin2111

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/adin2111/regs"
)

// DispatchState is the state of the interrupt/poll dispatcher.
type DispatchState uint32

const (
	Idle DispatchState = iota
	Dispatching
	Draining
)

func (s DispatchState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// DispatchStats counts dispatcher activity.
type DispatchStats struct {
	// Cycles is the number of completed dispatch cycles.
	Cycles uint64
	// Drained is the number of frames read from the RX FIFOs.
	Drained uint64
	// DeviceErrors counts STATUS0 error flags seen.
	DeviceErrors uint64
}

// Stats holds dispatcher and per-port software counters.
type Stats struct {
	DispatchStats
	Ports [NumPorts]PortStats
}

// Notify signals the dispatcher that device status may have changed.
// It never blocks and signals arriving while a cycle is pending coalesce.
// Notify is safe to call from interrupt context.
func (d *Device) Notify() {
	select {
	case d.events <- struct{}{}:
	default:
	}
}

// DispatchState returns the current dispatcher state.
func (d *Device) DispatchState() DispatchState {
	return DispatchState(d.dstate.Load())
}

// Stats returns a snapshot of the device software counters.
func (d *Device) Stats() Stats {
	d.stmu.Lock()
	defer d.stmu.Unlock()
	s := Stats{DispatchStats: d.dstats}
	for i := range d.ports {
		s.Ports[i] = d.ports[i].stats
	}
	return s
}

// Poll runs one dispatch cycle synchronously. A bus failure moves the
// device to StateFailed.
func (d *Device) Poll() error {
	d.stmu.Lock()
	err := d.readyErr()
	d.stmu.Unlock()
	if err != nil {
		return err
	}
	err = d.cycle()
	if errors.Is(err, ErrBusUnavailable) {
		d.fail(err)
	}
	return err
}

// run is the dispatcher goroutine. tick is nil when an interrupt line is armed.
func (d *Device) run(ctx context.Context, tick <-chan time.Time) {
	defer d.wg.Done()
	d.debug("dispatch:start", slog.Bool("polling", tick != nil))
	for {
		select {
		case <-ctx.Done():
			d.debug("dispatch:stop")
			return
		case <-d.events:
		case <-tick:
		}
		err := d.cycle()
		if errors.Is(err, ErrBusUnavailable) {
			d.fail(err)
			return
		} else if err != nil {
			d.logerr("dispatch:cycle", slog.String("err", err.Error()))
		}
	}
}

// cycle reads status, updates links, drains RX, flushes TX and acknowledges
// the handled status bits. Cycles never overlap.
func (d *Device) cycle() error {
	d.dispatchmu.Lock()
	defer d.dispatchmu.Unlock()
	defer d.dstate.Store(uint32(Idle))
	d.dstate.Store(uint32(Dispatching))

	d.lock()
	v0, err := d.readReg(regs.STATUS0)
	var v1 uint32
	if err == nil {
		v1, err = d.readReg(regs.STATUS1)
	}
	d.unlock()
	if err != nil {
		return err
	}
	s0, s1 := regs.Status0(v0), regs.Status1(v1)
	if d.tracing() {
		d.trace("dispatch:status", slog.String("s0", s0.String()), slog.String("s1", s1.String()))
	}
	if errs := s0.Errors(); errs != 0 {
		d.warn("dispatch:device-error", slog.String("status0", errs.String()))
		d.stmu.Lock()
		d.dstats.DeviceErrors++
		d.stmu.Unlock()
	}

	d.updateLinks(s1)

	// rxErr is reported once the cycle completes.
	var rxErr error
	for port := 0; port < NumPorts; port++ {
		if !s1.RxReady(port) {
			continue
		}
		d.dstate.Store(uint32(Draining))
		err = d.drain(port)
		if errors.Is(err, ErrBusUnavailable) {
			return err
		} else if err != nil && rxErr == nil {
			rxErr = err
		}
	}
	d.dstate.Store(uint32(Dispatching))

	if err = d.flushTx(); err != nil {
		return err
	}

	ack1 := s1 & (regs.STATUS1_P1_LINK_CHANGE | regs.STATUS1_P2_LINK_CHANGE |
		regs.STATUS1_P1_RX_RDY | regs.STATUS1_P2_RX_RDY | regs.STATUS1_TX_RDY)
	ack0 := s0 & (regs.STATUS0_ERRORS | regs.STATUS0_PHYINT)
	d.lock()
	if ack0 != 0 {
		err = d.writeReg(regs.STATUS0, uint32(ack0))
	}
	if err == nil && ack1 != 0 {
		err = d.writeReg(regs.STATUS1, uint32(ack1))
	}
	d.unlock()

	d.stmu.Lock()
	d.dstats.Cycles++
	d.fdb.Age(time.Now())
	d.stmu.Unlock()
	if err != nil {
		return err
	}
	return rxErr
}

// drain reads frames from port until the FIFO is empty and hands them to
// the receive callback. An invalid frame size clears the RX FIFOs, dropping
// their frames, and is returned.
func (d *Device) drain(port int) error {
	for {
		frame, err := d.DrainFrame(port)
		switch {
		case errors.Is(err, ErrNoFrame):
			return nil
		case errors.Is(err, ErrBusUnavailable):
			return err
		case err != nil:
			d.logerr("drain", slog.Int("port", port), slog.String("err", err.Error()))
			d.stmu.Lock()
			d.ports[port].stats.RxErrors++
			d.stmu.Unlock()
			if cerr := d.WriteReg(regs.FIFO_CLR, regs.FIFO_CLR_RX); cerr != nil {
				return cerr
			}
			return err
		}
		now := time.Now()
		d.stmu.Lock()
		d.fdb.LearnFrame(port, frame, now)
		d.dstats.Drained++
		st := &d.ports[port].stats
		st.RxPackets++
		st.RxBytes += uint64(len(frame))
		d.stmu.Unlock()
		if d.onFrame != nil {
			d.onFrame(port, frame)
		}
	}
}
