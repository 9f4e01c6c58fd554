package metrics

import (
	"encoding/json"
	"os"
	"sync"
)

// Counters are the diagnostic totals the mesh core exposes. Relay-path
// failures never propagate to callers, so these counters are the only
// place they become visible.
type Counters struct {
	DecodeErrors   uint64 `json:"decode_errors"`
	Suppressed     uint64 `json:"suppressed"`
	Delivered      uint64 `json:"delivered"`
	Relayed        uint64 `json:"relayed"`
	Expired        uint64 `json:"expired"`
	LocalSent      uint64 `json:"local_sent"`
	Retries        uint64 `json:"retries"`
	RetryExhausted uint64 `json:"retry_exhausted"`
	PendingEvicted uint64 `json:"pending_evicted"`
	SendFailures   uint64 `json:"send_failures"`
	AcksSent       uint64 `json:"acks_sent"`
	AcksReceived   uint64 `json:"acks_received"`
	InboundDropped uint64 `json:"inbound_dropped"`
}

type Collector struct {
	mu sync.Mutex
	Counters
}

func NewCollector() *Collector {
	return &Collector{}
}

// All Add methods are nil-safe so the core can run without a collector.

func (c *Collector) add(f func(*Counters)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	f(&c.Counters)
	c.mu.Unlock()
}

func (c *Collector) AddDecodeError()    { c.add(func(n *Counters) { n.DecodeErrors++ }) }
func (c *Collector) AddSuppressed()     { c.add(func(n *Counters) { n.Suppressed++ }) }
func (c *Collector) AddDelivered()      { c.add(func(n *Counters) { n.Delivered++ }) }
func (c *Collector) AddRelayed()        { c.add(func(n *Counters) { n.Relayed++ }) }
func (c *Collector) AddExpired()        { c.add(func(n *Counters) { n.Expired++ }) }
func (c *Collector) AddLocalSent()      { c.add(func(n *Counters) { n.LocalSent++ }) }
func (c *Collector) AddRetry()          { c.add(func(n *Counters) { n.Retries++ }) }
func (c *Collector) AddRetryExhausted() { c.add(func(n *Counters) { n.RetryExhausted++ }) }
func (c *Collector) AddPendingEvicted() { c.add(func(n *Counters) { n.PendingEvicted++ }) }
func (c *Collector) AddSendFailure()    { c.add(func(n *Counters) { n.SendFailures++ }) }
func (c *Collector) AddAckSent()        { c.add(func(n *Counters) { n.AcksSent++ }) }
func (c *Collector) AddAckReceived()    { c.add(func(n *Counters) { n.AcksReceived++ }) }
func (c *Collector) AddInboundDropped() { c.add(func(n *Counters) { n.InboundDropped++ }) }

// Snapshot returns a copy of the current totals.
func (c *Collector) Snapshot() Counters {
	if c == nil {
		return Counters{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Counters
}

// Flush writes the totals as indented JSON to file.
func (n Counters) Flush(file string) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(n)
}

func (c *Collector) Flush(file string) error {
	return c.Snapshot().Flush(file)
}
