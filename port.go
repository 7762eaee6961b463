package adin2111

import (
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/wire"
)

// NumPorts is the number of physical ports of the ADIN2111.
const NumPorts = 2

// PortAuto lets Submit choose the egress port from the learning table.
const PortAuto = -1

// ForwardingMode selects how frames travel between the two ports.
type ForwardingMode uint8

const (
	// Switch forwards frames between ports in hardware. The host only
	// sees frames addressed to it, broadcasts and multicasts.
	Switch ForwardingMode = iota
	// HostRouted presents each port as an independent interface.
	HostRouted
)

func (m ForwardingMode) String() string {
	switch m {
	case Switch:
		return "switch"
	case HostRouted:
		return "host-routed"
	}
	return "unknown"
}

// PortState is a snapshot of a port as tracked by the dispatcher.
type PortState struct {
	Index  int
	LinkUp bool
	Mode   ForwardingMode
	// Queued is the number of frames waiting in the software TX queue.
	Queued int
}

// PortStats are software counters kept per port.
type PortStats struct {
	TxPackets uint64
	TxBytes   uint64
	TxDropped uint64
	RxPackets uint64
	RxBytes   uint64
	RxErrors  uint64
}

type port struct {
	up    bool
	txq   [][]byte
	stats PortStats
}

// Port returns the state of port i.
func (d *Device) Port(i int) (PortState, error) {
	if i < 0 || i >= NumPorts {
		return PortState{}, ErrBadPort
	}
	d.stmu.Lock()
	defer d.stmu.Unlock()
	p := &d.ports[i]
	return PortState{Index: i, LinkUp: p.up, Mode: d.opts.Forwarding, Queued: len(p.txq)}, nil
}

// Submit queues a copy of frame for transmission out of port. With PortAuto
// the port is chosen from the learning table and frames to unknown or group
// destinations are flooded to every port with link. Submit never blocks:
// ErrTxFull is returned when the queue is full and ErrLinkDown when the
// port has no link.
func (d *Device) Submit(port int, frame []byte) error {
	if len(frame) > wire.MaxFrameSize {
		return ErrFrameTooLarge
	}
	if port != PortAuto && (port < 0 || port >= NumPorts) {
		return ErrBadPort
	}
	d.stmu.Lock()
	if err := d.readyErr(); err != nil {
		d.stmu.Unlock()
		return err
	}
	var err error
	if port == PortAuto {
		err = d.submitAuto(frame)
	} else {
		err = d.enqueueLocked(port, frame)
	}
	d.stmu.Unlock()
	if err == nil {
		d.Notify()
	}
	return err
}

func (d *Device) submitAuto(frame []byte) error {
	port, flood := d.fdb.egressPort(frame, time.Now())
	if !flood {
		return d.enqueueLocked(port, frame)
	}
	accepted := false
	err := ErrLinkDown
	for i := range d.ports {
		if !d.ports[i].up {
			continue
		}
		if perr := d.enqueueLocked(i, frame); perr != nil {
			err = perr
		} else {
			accepted = true
		}
	}
	if accepted {
		return nil
	}
	return err
}

// enqueueLocked must be called with stmu held.
func (d *Device) enqueueLocked(port int, frame []byte) error {
	p := &d.ports[port]
	switch {
	case !p.up:
		return ErrLinkDown
	case len(p.txq) >= d.txQueueLen:
		p.stats.TxDropped++
		return ErrTxFull
	}
	p.txq = append(p.txq, append([]byte(nil), frame...))
	return nil
}

// updateLinks applies the link bits of s1 to the port state machines.
// Callbacks run after stmu is released.
func (d *Device) updateLinks(s1 regs.Status1) {
	type change struct {
		port      int
		up        bool
		discarded int
	}
	var changes [NumPorts]change
	n := 0
	d.stmu.Lock()
	for i := range d.ports {
		p := &d.ports[i]
		up := s1.LinkUp(i)
		if up == p.up {
			continue
		}
		p.up = up
		c := change{port: i, up: up}
		if !up {
			c.discarded = len(p.txq)
			p.stats.TxDropped += uint64(c.discarded)
			clear(p.txq)
			p.txq = p.txq[:0]
			d.fdb.InvalidatePort(i)
		}
		changes[n] = c
		n++
	}
	d.stmu.Unlock()
	for _, c := range changes[:n] {
		d.info("link", slog.Int("port", c.port), slog.Bool("up", c.up), slog.Int("discarded", c.discarded))
		if d.onLink != nil {
			d.onLink(c.port, c.up)
		}
	}
}

// flushTx moves queued frames into the TX FIFO until the queues are empty
// or the FIFO is full. Only the dispatcher removes frames from the queues.
func (d *Device) flushTx() error {
	for i := 0; i < NumPorts; i++ {
		for {
			d.stmu.Lock()
			p := &d.ports[i]
			if len(p.txq) == 0 {
				d.stmu.Unlock()
				break
			}
			frame := p.txq[0]
			d.stmu.Unlock()

			err := d.EnqueueFrame(i, frame)
			if errors.Is(err, ErrTxFull) {
				// Retried when the device signals TX_RDY.
				break
			} else if errors.Is(err, ErrBusUnavailable) {
				return err
			}
			d.stmu.Lock()
			if len(p.txq) > 0 {
				p.txq[0] = nil
				p.txq = p.txq[1:]
				if err != nil {
					p.stats.TxDropped++
				} else {
					p.stats.TxPackets++
					p.stats.TxBytes += uint64(len(frame))
				}
			}
			d.stmu.Unlock()
			if err != nil {
				d.logerr("flush:enqueue", slog.Int("port", i), slog.String("err", err.Error()))
			}
		}
	}
	return nil
}
