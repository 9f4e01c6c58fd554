package radio

import (
	"fmt"
	"math"
	"sync"
)

const defaultInboxDepth = 64

// Medium is an in-process shared-air transport used by the simulator and
// the integration tests. Every attached port hears every broadcast from a
// port within radio range; out-of-range ports simply miss the frame, the
// sender is never told.
type Medium struct {
	mu    sync.Mutex
	ports map[uint32]*Port

	// Range is the maximum distance over which a frame is heard.
	// Zero or negative means every port hears every frame.
	Range float64

	// Drop, when set, is consulted per receiver and lets a test or
	// scenario inject loss. Returning true discards the frame.
	Drop func(from, to uint32) bool
}

// Port is one node's attachment to the medium. It implements Radio.
type Port struct {
	medium *Medium
	addr   uint32
	x, y   float64
	inbox  [][]byte
}

func NewMedium(rang float64) *Medium {
	return &Medium{ports: make(map[uint32]*Port), Range: rang}
}

// Attach joins a node to the medium at the given position.
func (m *Medium) Attach(addr uint32, x, y float64) (*Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ports[addr]; ok {
		return nil, fmt.Errorf("medium: address %d already attached", addr)
	}
	p := &Port{medium: m, addr: addr, x: x, y: y}
	m.ports[addr] = p
	return p, nil
}

// Detach removes a node from the medium.
func (m *Medium) Detach(addr uint32) {
	m.mu.Lock()
	delete(m.ports, addr)
	m.mu.Unlock()
}

func (m *Medium) inRange(a, b *Port) bool {
	if m.Range <= 0 {
		return true
	}
	return math.Hypot(a.x-b.x, a.y-b.y) <= m.Range
}

func (p *Port) OwnAddress() uint32 { return p.addr }

// Send broadcasts the frame to every in-range port except the sender.
func (p *Port) Send(frame []byte) error {
	m := p.medium
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, other := range m.ports {
		if addr == p.addr {
			continue
		}
		if !m.inRange(p, other) {
			continue
		}
		if m.Drop != nil && m.Drop(p.addr, addr) {
			continue
		}
		if len(other.inbox) >= defaultInboxDepth {
			// receiver's radio buffer is full, the frame is lost on air
			continue
		}
		cp := make([]byte, len(frame))
		copy(cp, frame)
		other.inbox = append(other.inbox, cp)
	}
	return nil
}

func (p *Port) TryReceive() ([]byte, bool) {
	m := p.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(p.inbox) == 0 {
		return nil, false
	}
	frame := p.inbox[0]
	p.inbox = p.inbox[1:]
	return frame, true
}
