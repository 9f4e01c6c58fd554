// Package netmgr is the node-facing orchestration layer. It owns the
// node's identity and sequence-number state and exposes the three
// operations embedding firmware drives the mesh with: submit a payload,
// poll for received payloads, and tick.
package netmgr

import (
	"time"

	"github.com/apex/log"

	"must-hop/internal/eventBus"
	"must-hop/internal/metrics"
	"must-hop/internal/packet"
	"must-hop/internal/radio"
	"must-hop/internal/router"
)

type Role uint8

const (
	// RoleNode relays toward others and originates readings.
	RoleNode Role = iota
	// RoleGateway terminates relay, acks accepted data and bridges
	// payloads to an external uplink.
	RoleGateway
)

type Config struct {
	Role   Role
	Router router.Config
}

// Manager wires a radio to a mesh router and owns everything the router
// must not reach into: the node address and the sequence counter.
type Manager struct {
	radio   radio.Radio
	router  *router.Router
	role    Role
	nextSeq uint32

	// now is the time of the last Tick; locally originated packets are
	// stamped with it so that time enters the system only through Tick.
	now time.Time

	log *log.Entry
}

func New(r radio.Radio, cfg Config, coll *metrics.Collector, bus *eventBus.EventBus) *Manager {
	m := &Manager{
		radio: r,
		role:  cfg.Role,
		log:   log.WithField("node", r.OwnAddress()),
	}
	rcfg := cfg.Router
	rcfg.Gateway = cfg.Role == RoleGateway
	rcfg.SeqSource = m.allocSeq
	m.router = router.New(r, rcfg, coll, bus)
	m.log.WithField("gateway", rcfg.Gateway).Debug("network manager ready")
	return m
}

func (m *Manager) allocSeq() uint32 {
	m.nextSeq++
	return m.nextSeq
}

// Address returns this node's mesh address.
func (m *Manager) Address() uint32 { return m.radio.OwnAddress() }

// Router exposes the mesh router, mainly so callers can install a relay
// strategy.
func (m *Manager) Router() *router.Router { return m.router }

// SendPayload submits an application payload for dest. Best effort: a nil
// return means accepted for transmission, not delivered.
func (m *Manager) SendPayload(dest uint32, payload []byte) error {
	return m.router.EnqueueLocal(dest, payload, 0, m.now)
}

// SendPayloadAcked is SendPayload with end-to-end retransmission until the
// gateway acknowledges the packet or the retry budget runs out.
func (m *Manager) SendPayloadAcked(dest uint32, payload []byte) error {
	return m.router.EnqueueLocal(dest, payload, packet.FlagAckRequested, m.now)
}

// PollReceived drains one received application payload, non-blocking.
func (m *Manager) PollReceived() (origin uint32, payload []byte, ok bool) {
	d, ok := m.router.PollDelivery()
	if !ok {
		return 0, nil, false
	}
	return d.Origin, d.Payload, true
}

// Tick drains the radio, expires suppression state and drives pending
// retransmissions. The embedding loop must call it at a roughly regular
// interval; it is the single point where time enters the core.
func (m *Manager) Tick(now time.Time) {
	m.now = now
	for {
		frame, ok := m.radio.TryReceive()
		if !ok {
			break
		}
		m.router.HandleFrame(frame, now)
	}
	m.router.Tick(now)
}

// PendingCount reports in-flight local sends and queued relays.
func (m *Manager) PendingCount() int { return m.router.PendingLen() }
