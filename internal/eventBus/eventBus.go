package eventBus

import (
	"sync"
	"time"

	"github.com/apex/log"
)

type EventType string

const (
	EventPacketDelivered  EventType = "PACKET_DELIVERED"
	EventPacketRelayed    EventType = "PACKET_RELAYED"
	EventPacketSuppressed EventType = "PACKET_SUPPRESSED"
	EventPacketExpired    EventType = "PACKET_EXPIRED"
	EventAckSent          EventType = "ACK_SENT"
	EventAckReceived      EventType = "ACK_RECEIVED"
	EventRetryExhausted   EventType = "RETRY_EXHAUSTED"
	EventUplinkForwarded  EventType = "UPLINK_FORWARDED"
	EventNodeJoined       EventType = "NODE_JOINED"
)

// Event holds the details a telemetry front end might need.
type Event struct {
	Type      EventType `json:"type"`
	NodeID    uint32    `json:"node_id"`
	Origin    uint32    `json:"origin,omitempty"`
	Seq       uint32    `json:"seq,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus manages a set of subscribers and publishes events to them.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make([]chan Event, 0)}
}

// Publish sends an event to all subscribers. Nil-safe so the core can run
// without a bus; a busy subscriber drops rather than blocks the mesh.
func (eb *EventBus) Publish(e Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, sub := range eb.subscribers {
		select {
		case sub <- e:
		default:
			log.Debug("dropping event: subscriber channel is full")
		}
	}
}

// Subscribe returns a new channel that will receive published events.
func (eb *EventBus) Subscribe() chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	ch := make(chan Event, 100)
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}
