// Package telemetry publishes device link events to external brokers.
//
// Link change callbacks run on the driver dispatcher and must not block,
// so they are handed to a Forwarder which publishes from its own goroutine.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

// LinkEvent is a port link transition.
type LinkEvent struct {
	Time   time.Time
	Device string
	Port   int
	Up     bool
}

// State returns "up" or "down".
func (e LinkEvent) State() string {
	if e.Up {
		return "up"
	}
	return "down"
}

// Field is the per-port field name under which the link state is stored.
func (e LinkEvent) Field() string { return "port" + strconv.Itoa(e.Port) }

// AppendPayload appends the text form of the event published to brokers:
//
//	<device> port<n> <up|down> <unix nanoseconds>
func (e LinkEvent) AppendPayload(dst []byte) []byte {
	dst = append(dst, e.Device...)
	dst = append(dst, ' ')
	dst = append(dst, e.Field()...)
	dst = append(dst, ' ')
	dst = append(dst, e.State()...)
	dst = append(dst, ' ')
	return strconv.AppendInt(dst, e.Time.UnixNano(), 10)
}

// Publisher sends link events to a broker.
type Publisher interface {
	PublishLink(LinkEvent) error
	Close() error
}

// Multi publishes to every publisher and joins the errors.
type Multi []Publisher

func (m Multi) PublishLink(ev LinkEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishLink(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Forwarder queues link events from driver callbacks and publishes them
// from Run.
type Forwarder struct {
	pub     Publisher
	device  string
	logger  *slog.Logger
	events  chan LinkEvent
	dropped atomic.Uint64
	now     func() time.Time
}

// NewForwarder returns a Forwarder that buffers up to queue events for pub.
func NewForwarder(pub Publisher, device string, queue int, logger *slog.Logger) *Forwarder {
	if queue <= 0 {
		queue = 16
	}
	return &Forwarder{
		pub:    pub,
		device: device,
		logger: logger,
		events: make(chan LinkEvent, queue),
		now:    time.Now,
	}
}

// OnLinkChange matches the driver's link change callback. It never blocks;
// events are dropped when the queue is full.
func (f *Forwarder) OnLinkChange(port int, up bool) {
	ev := LinkEvent{Time: f.now(), Device: f.device, Port: port, Up: up}
	select {
	case f.events <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full queue.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Run publishes queued events until ctx is done. Events still queued
// when ctx is canceled are published before Run returns.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-f.events:
			f.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-f.events:
					f.publish(ev)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (f *Forwarder) publish(ev LinkEvent) {
	err := f.pub.PublishLink(ev)
	if f.logger == nil {
		return
	}
	if err != nil {
		f.logger.Error("telemetry:publish", slog.Int("port", ev.Port), slog.String("err", err.Error()))
	} else {
		f.logger.Debug("telemetry:published", slog.Int("port", ev.Port), slog.String("state", ev.State()))
	}
}
