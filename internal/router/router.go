// Package router implements the radio-agnostic forwarding core. Every
// frame handed in moves through one state machine:
//
//	Received -> [Suppressed | LocalDeliver | Relay | Expired]
//	Relay    -> Pending -> [Sent | RetryExhausted]
//
// The router owns the suppression store and the pending set; it is
// single-threaded by design and mutates state only inside HandleFrame,
// EnqueueLocal and Tick.
package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"must-hop/internal/dedupe"
	"must-hop/internal/eventBus"
	"must-hop/internal/metrics"
	"must-hop/internal/packet"
	"must-hop/internal/radio"
)

const (
	defaultMaxHops         = 5 // safety cap to avoid routing loops
	defaultPendingCapacity = 16
	defaultInboundCapacity = 16
	defaultMaxRetries      = 3
	defaultInitialBackoff  = 500 * time.Millisecond
	defaultMaxBackoff      = 8 * time.Second
)

// ErrQueueFull is returned when a locally originated packet cannot be
// admitted because the pending set is at capacity.
var ErrQueueFull = errors.New("router: pending queue full")

// Strategy is the pluggable next-hop decision point. Flood relay is the
// only shipped policy; a future path-selection algorithm replaces it
// without touching the state machine.
type Strategy interface {
	// ShouldRelay reports whether this node takes part in carrying the
	// packet further.
	ShouldRelay(own uint32, pkt packet.Packet) bool
}

// Flood re-broadcasts every accepted-for-relay packet to all reachable
// neighbors.
type Flood struct{}

func (Flood) ShouldRelay(uint32, packet.Packet) bool { return true }

type Config struct {
	// MaxHops is the hop budget given to locally originated packets
	// (including acks emitted by a gateway).
	MaxHops uint8

	PendingCapacity int
	InboundCapacity int

	// MaxRetries bounds retransmissions per pending entry beyond the
	// first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	SuppressionCapacity int
	SuppressionWindow   time.Duration

	// Gateway nodes accept toward-gateway traffic, reply with acks and
	// never relay.
	Gateway bool

	// SeqSource allocates sequence numbers for packets this router
	// originates (gateway acks). The network manager supplies its own
	// allocator so one sequence space covers everything a node emits.
	SeqSource func() uint32
}

func (c Config) withDefaults() Config {
	if c.MaxHops == 0 {
		c.MaxHops = defaultMaxHops
	}
	if c.PendingCapacity <= 0 {
		c.PendingCapacity = defaultPendingCapacity
	}
	if c.InboundCapacity <= 0 {
		c.InboundCapacity = defaultInboundCapacity
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// Delivery is one application payload accepted for this node.
type Delivery struct {
	Origin  uint32
	Payload []byte
}

type pendingEntry struct {
	frame       []byte
	key         packet.Key
	awaitAck    bool
	attempts    int
	backoff     time.Duration
	nextAttempt time.Time
	enqueued    time.Time
}

type Router struct {
	radio    radio.Radio
	cfg      Config
	strategy Strategy
	seen     *dedupe.Store
	seq      func() uint32

	pending []pendingEntry
	inbound []Delivery

	coll *metrics.Collector
	bus  *eventBus.EventBus
	log  *log.Entry
}

func New(r radio.Radio, cfg Config, coll *metrics.Collector, bus *eventBus.EventBus) *Router {
	cfg = cfg.withDefaults()
	rt := &Router{
		radio:    r,
		cfg:      cfg,
		strategy: Flood{},
		seen:     dedupe.New(cfg.SuppressionCapacity, cfg.SuppressionWindow),
		seq:      cfg.SeqSource,
		pending:  make([]pendingEntry, 0, cfg.PendingCapacity),
		coll:     coll,
		bus:      bus,
		log:      log.WithField("node", r.OwnAddress()),
	}
	if rt.seq == nil {
		var n uint32
		rt.seq = func() uint32 { n++; return n }
	}
	return rt
}

// SetStrategy swaps the relay participation policy.
func (rt *Router) SetStrategy(s Strategy) {
	if s != nil {
		rt.strategy = s
	}
}

// HandleFrame processes one raw frame from the radio.
func (rt *Router) HandleFrame(buf []byte, now time.Time) {
	pkt, err := packet.Decode(buf)
	if err != nil {
		// malformed frames from radio noise are expected, not fatal
		rt.coll.AddDecodeError()
		rt.log.WithError(err).Debug("dropping undecodable frame")
		return
	}

	own := rt.radio.OwnAddress()

	if pkt.Kind == packet.KindAck {
		if acked, err := packet.DecodeAckBody(pkt.Payload); err == nil {
			if rt.clearPending(acked) {
				rt.coll.AddAckReceived()
				rt.publish(eventBus.EventAckReceived, acked, now)
			}
		}
	}

	key := pkt.Key()
	if rt.seen.Seen(key.Origin, key.Seq) {
		rt.coll.AddSuppressed()
		rt.publish(eventBus.EventPacketSuppressed, key, now)
		return
	}
	rt.seen.Record(key.Origin, key.Seq, now)

	toUs := pkt.Dest == own || (rt.cfg.Gateway && pkt.Dest == packet.GatewayAddr)
	broadcast := pkt.Dest == packet.BroadcastAddr

	if toUs || broadcast {
		if pkt.Kind == packet.KindData {
			// an ack promises the payload reached the uplink queue, so a
			// delivery lost to inbound overflow must not be acked
			if rt.deliver(pkt, now) && rt.cfg.Gateway {
				rt.enqueueAck(pkt, now)
			}
		}
		if toUs {
			return
		}
	}

	// a gateway terminates relay: everything it hears either ends here
	// or is not its business
	if rt.cfg.Gateway {
		return
	}

	if pkt.HopLimit == 0 {
		rt.coll.AddExpired()
		rt.publish(eventBus.EventPacketExpired, key, now)
		return
	}
	if !rt.strategy.ShouldRelay(own, pkt) {
		return
	}

	pkt.HopLimit--
	frame, err := packet.Encode(pkt.Header, pkt.Payload)
	if err != nil {
		// cannot happen for a frame that just decoded
		rt.coll.AddDecodeError()
		return
	}
	rt.addPending(pendingEntry{
		frame:    frame,
		key:      key,
		backoff:  rt.cfg.InitialBackoff,
		enqueued: now,
	})
	rt.coll.AddRelayed()
	rt.publish(eventBus.EventPacketRelayed, key, now)
}

// EnqueueLocal builds a packet for a locally originated payload and admits
// it into the pending path with a full hop budget.
func (rt *Router) EnqueueLocal(dest uint32, payload []byte, flags uint8, now time.Time) error {
	if len(rt.pending) >= rt.cfg.PendingCapacity {
		return ErrQueueFull
	}
	h := packet.Header{
		Dest:     dest,
		Origin:   rt.radio.OwnAddress(),
		Seq:      rt.seq(),
		Kind:     packet.KindData,
		Flags:    flags,
		HopLimit: rt.cfg.MaxHops,
	}
	frame, err := packet.Encode(h, payload)
	if err != nil {
		return err
	}
	// remember our own key so relayed echoes are neither delivered back
	// nor re-relayed by us
	rt.seen.Record(h.Origin, h.Seq, now)
	rt.addPending(pendingEntry{
		frame:    frame,
		key:      packet.Key{Origin: h.Origin, Seq: h.Seq},
		awaitAck: flags&packet.FlagAckRequested != 0,
		backoff:  rt.cfg.InitialBackoff,
		enqueued: now,
	})
	rt.coll.AddLocalSent()
	return nil
}

// Tick drives suppression expiry and the pending retry schedule. It is the
// single point where time enters the router.
func (rt *Router) Tick(now time.Time) {
	rt.seen.Expire(now)

	kept := rt.pending[:0]
	for _, e := range rt.pending {
		if now.Before(e.nextAttempt) {
			kept = append(kept, e)
			continue
		}

		err := rt.radio.Send(e.frame)
		e.attempts++
		if err == nil {
			// the frame is on the air now; refresh our record of its key
			// so relayed echoes stay suppressed even when the entry was
			// enqueued long before this tick
			rt.seen.Record(e.key.Origin, e.key.Seq, now)
			if !e.awaitAck {
				// fire-and-forget relay: Sent is terminal
				continue
			}
		} else {
			rt.coll.AddSendFailure()
		}

		if e.attempts > rt.cfg.MaxRetries {
			rt.coll.AddRetryExhausted()
			rt.publish(eventBus.EventRetryExhausted, e.key, now)
			continue
		}
		if e.attempts > 1 {
			rt.coll.AddRetry()
		}
		e.nextAttempt = now.Add(e.backoff)
		e.backoff = rt.nextBackoff(e.backoff)
		kept = append(kept, e)
	}
	rt.pending = kept
}

// PollDelivery drains one accepted payload, oldest first.
func (rt *Router) PollDelivery() (Delivery, bool) {
	if len(rt.inbound) == 0 {
		return Delivery{}, false
	}
	d := rt.inbound[0]
	rt.inbound = rt.inbound[1:]
	return d, true
}

// PendingLen reports the number of packets awaiting transmission or ack.
func (rt *Router) PendingLen() int { return len(rt.pending) }

func (rt *Router) nextBackoff(cur time.Duration) time.Duration {
	nxt := cur * 2
	if nxt > rt.cfg.MaxBackoff {
		return rt.cfg.MaxBackoff
	}
	return nxt
}

// deliver reports whether the payload was actually enqueued for the
// application; a full inbound queue drops it.
func (rt *Router) deliver(pkt packet.Packet, now time.Time) bool {
	if len(rt.inbound) >= rt.cfg.InboundCapacity {
		rt.coll.AddInboundDropped()
		return false
	}
	rt.inbound = append(rt.inbound, Delivery{Origin: pkt.Origin, Payload: pkt.Payload})
	rt.coll.AddDelivered()
	rt.publishPayload(eventBus.EventPacketDelivered, pkt, now)
	return true
}

func (rt *Router) enqueueAck(pkt packet.Packet, now time.Time) {
	h := packet.Header{
		Dest:     pkt.Origin,
		Origin:   rt.radio.OwnAddress(),
		Seq:      rt.seq(),
		Kind:     packet.KindAck,
		HopLimit: rt.cfg.MaxHops,
	}
	frame, err := packet.Encode(h, packet.EncodeAckBody(pkt.Key()))
	if err != nil {
		return
	}
	rt.seen.Record(h.Origin, h.Seq, now)
	rt.addPending(pendingEntry{
		frame:    frame,
		key:      packet.Key{Origin: h.Origin, Seq: h.Seq},
		backoff:  rt.cfg.InitialBackoff,
		enqueued: now,
	})
	rt.coll.AddAckSent()
	rt.publish(eventBus.EventAckSent, pkt.Key(), now)
}

// addPending inserts an entry, evicting the oldest one when at capacity.
// Losing a relay under overload is a policy degradation, not an error.
func (rt *Router) addPending(e pendingEntry) {
	if len(rt.pending) >= rt.cfg.PendingCapacity {
		oldest := 0
		for i := range rt.pending {
			if rt.pending[i].enqueued.Before(rt.pending[oldest].enqueued) {
				oldest = i
			}
		}
		rt.pending = append(rt.pending[:oldest], rt.pending[oldest+1:]...)
		rt.coll.AddPendingEvicted()
	}
	rt.pending = append(rt.pending, e)
}

func (rt *Router) clearPending(key packet.Key) bool {
	for i := range rt.pending {
		if rt.pending[i].key == key {
			rt.pending = append(rt.pending[:i], rt.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (rt *Router) publish(t eventBus.EventType, key packet.Key, now time.Time) {
	rt.bus.Publish(eventBus.Event{
		Type:      t,
		NodeID:    rt.radio.OwnAddress(),
		Origin:    key.Origin,
		Seq:       key.Seq,
		Timestamp: now,
	})
}

func (rt *Router) publishPayload(t eventBus.EventType, pkt packet.Packet, now time.Time) {
	rt.bus.Publish(eventBus.Event{
		Type:      t,
		NodeID:    rt.radio.OwnAddress(),
		Origin:    pkt.Origin,
		Seq:       pkt.Seq,
		Payload:   fmt.Sprintf("%q", pkt.Payload),
		Timestamp: now,
	})
}
