package adin2111

import (
	"time"

	"github.com/soypat/lneto/ethernet"
)

const (
	defaultTableSize  = 256
	defaultTableAging = 5 * time.Minute
)

// LearningTable maps MAC addresses to the port they were last seen on.
// It is used to pick an egress port for frames submitted with PortAuto.
// LearningTable is not safe for concurrent use.
type LearningTable struct {
	entries map[[6]byte]tableEntry
	size    int
	aging   time.Duration
}

type tableEntry struct {
	port int
	seen time.Time
}

// NewLearningTable returns a table holding at most size entries that
// expire after aging. Non-positive arguments select the defaults of
// 256 entries and 5 minutes.
func NewLearningTable(size int, aging time.Duration) *LearningTable {
	if size <= 0 {
		size = defaultTableSize
	}
	if aging <= 0 {
		aging = defaultTableAging
	}
	return &LearningTable{entries: make(map[[6]byte]tableEntry), size: size, aging: aging}
}

// LearnFrame records the source address of the ethernet frame as reachable
// through port. Multicast sources and runt frames are ignored.
func (t *LearningTable) LearnFrame(port int, frame []byte, now time.Time) {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		return
	}
	t.Learn(*efrm.SourceHardwareAddr(), port, now)
}

// Learn records mac as reachable through port. When the table is full the
// oldest entry is evicted.
func (t *LearningTable) Learn(mac [6]byte, port int, now time.Time) {
	if mac[0]&1 != 0 {
		return
	}
	if _, ok := t.entries[mac]; !ok && len(t.entries) >= t.size {
		var oldest [6]byte
		var oldestSeen time.Time
		first := true
		for k, e := range t.entries {
			if first || e.seen.Before(oldestSeen) {
				oldest, oldestSeen, first = k, e.seen, false
			}
		}
		delete(t.entries, oldest)
	}
	t.entries[mac] = tableEntry{port: port, seen: now}
}

// Lookup returns the port mac was last seen on. Expired entries miss.
func (t *LearningTable) Lookup(mac [6]byte, now time.Time) (port int, ok bool) {
	e, ok := t.entries[mac]
	if !ok || now.Sub(e.seen) > t.aging {
		return -1, false
	}
	return e.port, true
}

// InvalidatePort removes all entries pointing at port and returns how many
// were removed.
func (t *LearningTable) InvalidatePort(port int) (n int) {
	for k, e := range t.entries {
		if e.port == port {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Age removes expired entries and returns how many were removed.
func (t *LearningTable) Age(now time.Time) (n int) {
	for k, e := range t.entries {
		if now.Sub(e.seen) > t.aging {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired ones included.
func (t *LearningTable) Len() int { return len(t.entries) }

// egressPort returns the port for a frame submitted with PortAuto. flood is
// true for broadcast, multicast and unknown destinations.
func (t *LearningTable) egressPort(frame []byte, now time.Time) (port int, flood bool) {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil || efrm.IsBroadcast() {
		return -1, true
	}
	dst := *efrm.DestinationHardwareAddr()
	if dst[0]&1 != 0 {
		return -1, true
	}
	port, ok := t.Lookup(dst, now)
	return port, !ok
}
