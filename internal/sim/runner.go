package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/apex/log"

	"must-hop/internal/eventBus"
	"must-hop/internal/metrics"
	"must-hop/internal/netmgr"
	"must-hop/internal/packet"
	"must-hop/internal/radio"
	"must-hop/internal/router"
	"must-hop/internal/sensor"
	"must-hop/internal/uplink"
)

// Result summarises a completed run.
type Result struct {
	Ticks     int
	Delivered int // readings the gateway handed to the uplink
	Gateway   metrics.Counters
	Nodes     metrics.Counters // summed across sensor nodes
}

// Runner places a gateway plus a square grid of sensor nodes on a shared
// medium and drives the whole network with virtual time.
type Runner struct {
	sc      *Scenario
	bus     *eventBus.EventBus
	fwd     uplink.Forwarder
	gateway *netmgr.Manager
	gwColl  *metrics.Collector
	nodes   []*netmgr.Manager
	colls   []*metrics.Collector
}

func NewRunner(sc *Scenario, bus *eventBus.EventBus, fwd uplink.Forwarder) (*Runner, error) {
	rng := rand.New(rand.NewSource(sc.Seed))
	medium := radio.NewMedium(sc.Range)
	if sc.Loss > 0 {
		p := sc.Loss
		medium.Drop = func(from, to uint32) bool { return rng.Float64() < p }
	}

	r := &Runner{sc: sc, bus: bus, fwd: fwd}

	rcfg := router.Config{
		MaxHops:        sc.Mesh.MaxHops,
		MaxRetries:     sc.Mesh.MaxRetries,
		InitialBackoff: sc.Mesh.InitialBackoff.Std(),
		MaxBackoff:     sc.Mesh.MaxBackoff.Std(),
	}

	gwPort, err := medium.Attach(packet.GatewayAddr, 0, 0)
	if err != nil {
		return nil, err
	}
	r.gwColl = metrics.NewCollector()
	r.gateway = netmgr.New(gwPort, netmgr.Config{
		Role:   netmgr.RoleGateway,
		Router: rcfg,
	}, r.gwColl, bus)

	// Sensor nodes on a square grid around the gateway, addresses 1..N.
	side := int(math.Ceil(math.Sqrt(float64(sc.Nodes.Count))))
	for i := 0; i < sc.Nodes.Count; i++ {
		addr := uint32(i + 1)
		x := float64(i%side+1) * sc.Nodes.Spacing
		y := float64(i/side) * sc.Nodes.Spacing
		port, err := medium.Attach(addr, x, y)
		if err != nil {
			return nil, fmt.Errorf("attach node %d: %w", addr, err)
		}
		coll := metrics.NewCollector()
		r.colls = append(r.colls, coll)
		r.nodes = append(r.nodes, netmgr.New(port, netmgr.Config{
			Role:   netmgr.RoleNode,
			Router: rcfg,
		}, coll, bus))
		bus.Publish(eventBus.Event{Type: eventBus.EventNodeJoined, NodeID: addr})
	}
	return r, nil
}

// GatewayCollector exposes the gateway's live counters, mainly for a
// telemetry server running alongside a simulation.
func (r *Runner) GatewayCollector() *metrics.Collector { return r.gwColl }

// Run drives every manager through sc.Ticks rounds of virtual time and
// drains the gateway's deliveries into the forwarder each round.
func (r *Runner) Run() (*Result, error) {
	res := &Result{Ticks: r.sc.Ticks}
	now := time.Unix(0, 0)

	for tick := 0; tick < r.sc.Ticks; tick++ {
		now = now.Add(r.sc.TickStep.Std())

		// tick everyone before generating traffic so tick-0 submissions
		// already carry this round's timestamp
		for _, n := range r.nodes {
			n.Tick(now)
		}
		r.gateway.Tick(now)

		if r.sc.Traffic.SendEveryTicks > 0 && tick%r.sc.Traffic.SendEveryTicks == 0 {
			r.generateTraffic()
		}

		for {
			origin, payload, ok := r.gateway.PollReceived()
			if !ok {
				break
			}
			res.Delivered++
			if r.fwd != nil {
				if err := r.fwd.Forward(origin, payload); err != nil {
					log.WithError(err).WithField("origin", origin).Warn("uplink forward failed")
				} else {
					r.bus.Publish(eventBus.Event{
						Type:      eventBus.EventUplinkForwarded,
						NodeID:    packet.GatewayAddr,
						Origin:    origin,
						Timestamp: now,
					})
				}
			}
		}
	}

	res.Gateway = r.gwColl.Snapshot()
	for _, c := range r.colls {
		s := c.Snapshot()
		res.Nodes.Delivered += s.Delivered
		res.Nodes.Relayed += s.Relayed
		res.Nodes.Suppressed += s.Suppressed
		res.Nodes.Expired += s.Expired
		res.Nodes.Retries += s.Retries
		res.Nodes.RetryExhausted += s.RetryExhausted
		res.Nodes.LocalSent += s.LocalSent
		res.Nodes.AcksReceived += s.AcksReceived
	}
	return res, nil
}

func (r *Runner) generateTraffic() {
	for i, n := range r.nodes {
		reading := sensor.Reading{
			DeviceID:    uint8(i + 1),
			Temperature: 20 + float32(i),
			Voltage:     3.3,
		}
		body, err := reading.Marshal()
		if err != nil {
			log.WithError(err).Error("marshal reading")
			continue
		}
		send := n.SendPayload
		if r.sc.Traffic.RequestAcks {
			send = n.SendPayloadAcked
		}
		if err := send(packet.GatewayAddr, body); err != nil {
			log.WithError(err).WithField("node", n.Address()).Debug("send skipped")
		}
	}
}
