package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"golang.org/x/sync/errgroup"

	"must-hop/internal/config"
	"must-hop/internal/eventBus"
	"must-hop/internal/metrics"
	"must-hop/internal/netmgr"
	"must-hop/internal/radio"
	"must-hop/internal/telemetry"
	"must-hop/internal/uplink"
)

func main() {
	cfgFile := flag.String("config", "gateway.yaml", "gateway configuration file")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log.SetHandler(text.New(os.Stderr))
	if lvl, err := log.ParseLevel(*level); err == nil {
		log.SetLevel(lvl)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	cfg.Node.Gateway = true

	rdo, err := radio.NewUDP(radio.UDPConfig{
		Address: cfg.Node.Address,
		Listen:  cfg.Radio.Listen,
		Peers:   cfg.Radio.Peers,
	})
	if err != nil {
		log.WithError(err).Fatal("open radio")
	}
	defer rdo.Close()

	var fwd uplink.Forwarder
	if cfg.Uplink.Broker != "" {
		mq, err := uplink.NewMQTT(cfg.Uplink.Broker, cfg.Uplink.Topic, cfg.Uplink.QoS)
		if err != nil {
			log.WithError(err).Fatal("connect uplink")
		}
		defer mq.Close()
		fwd = mq
	}

	bus := eventBus.NewEventBus()
	coll := metrics.NewCollector()
	mgr := netmgr.New(rdo, cfg.ManagerConfig(), coll, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Telemetry.Listen != "" {
		g.Go(func() error {
			return telemetry.Serve(ctx, cfg.Telemetry.Listen, bus, coll)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Node.TickInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				mgr.Tick(now)
				drainUplink(mgr, fwd, bus, now)
			}
		}
	})

	log.WithFields(log.Fields{
		"address": cfg.Node.Address,
		"listen":  cfg.Radio.Listen,
		"uplink":  cfg.Uplink.Broker,
	}).Info("gateway up")

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("gateway")
	}
	log.Info("shutting down")
}

func drainUplink(mgr *netmgr.Manager, fwd uplink.Forwarder, bus *eventBus.EventBus, now time.Time) {
	for {
		origin, payload, ok := mgr.PollReceived()
		if !ok {
			return
		}
		if fwd == nil {
			log.WithField("origin", origin).Info("payload accepted, no uplink configured")
			continue
		}
		if err := fwd.Forward(origin, payload); err != nil {
			log.WithError(err).WithField("origin", origin).Warn("uplink forward failed")
			continue
		}
		bus.Publish(eventBus.Event{
			Type:      eventBus.EventUplinkForwarded,
			NodeID:    mgr.Address(),
			Origin:    origin,
			Timestamp: now,
		})
	}
}
