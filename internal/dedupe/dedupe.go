// Package dedupe holds the bounded, time-windowed record of packet
// instances a node has already handled. While a (origin, seq) key is
// present, the router treats any frame carrying it as already-seen: it is
// neither re-delivered nor re-relayed, which caps each node's relay of a
// packet to once per suppression window under flood relay.
package dedupe

import (
	"time"

	"must-hop/internal/packet"
)

const (
	DefaultCapacity = 64
	DefaultWindow   = 2 * time.Minute
)

type entry struct {
	key    packet.Key
	seenAt time.Time
	used   bool
}

// Store is a fixed-capacity slot arena with ring-cursor eviction. When
// full, the oldest-recorded entry is overwritten; losing suppression
// history under sustained overload is preferred over unbounded growth.
type Store struct {
	window time.Duration
	slots  []entry
	cursor int
}

func New(capacity int, window time.Duration) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{window: window, slots: make([]entry, capacity)}
}

// Seen reports whether the key is currently recorded. It never mutates.
func (s *Store) Seen(origin, seq uint32) bool {
	k := packet.Key{Origin: origin, Seq: seq}
	for i := range s.slots {
		if s.slots[i].used && s.slots[i].key == k {
			return true
		}
	}
	return false
}

// Record inserts the key or refreshes its timestamp if already present.
func (s *Store) Record(origin, seq uint32, now time.Time) {
	k := packet.Key{Origin: origin, Seq: seq}
	for i := range s.slots {
		if s.slots[i].used && s.slots[i].key == k {
			s.slots[i].seenAt = now
			return
		}
	}
	s.slots[s.cursor] = entry{key: k, seenAt: now, used: true}
	s.cursor = (s.cursor + 1) % len(s.slots)
}

// Expire drops entries older than the suppression window.
func (s *Store) Expire(now time.Time) {
	for i := range s.slots {
		if s.slots[i].used && now.Sub(s.slots[i].seenAt) > s.window {
			s.slots[i] = entry{}
		}
	}
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].used {
			n++
		}
	}
	return n
}
