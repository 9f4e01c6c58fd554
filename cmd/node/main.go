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

	"must-hop/internal/config"
	"must-hop/internal/eventBus"
	"must-hop/internal/metrics"
	"must-hop/internal/netmgr"
	"must-hop/internal/packet"
	"must-hop/internal/radio"
	"must-hop/internal/sensor"
)

func main() {
	cfgFile := flag.String("config", "node.yaml", "node configuration file")
	readEvery := flag.Duration("read-every", 30*time.Second, "sensor sampling interval")
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

	rdo, err := radio.NewUDP(radio.UDPConfig{
		Address: cfg.Node.Address,
		Listen:  cfg.Radio.Listen,
		Peers:   cfg.Radio.Peers,
	})
	if err != nil {
		log.WithError(err).Fatal("open radio")
	}
	defer rdo.Close()

	coll := metrics.NewCollector()
	mgr := netmgr.New(rdo, cfg.ManagerConfig(), coll, eventBus.NewEventBus())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"address": cfg.Node.Address,
		"listen":  cfg.Radio.Listen,
		"peers":   len(cfg.Radio.Peers),
	}).Info("node up")

	ticker := time.NewTicker(cfg.Node.TickInterval.Std())
	defer ticker.Stop()
	reader := time.NewTicker(*readEvery)
	defer reader.Stop()

	deviceID := uint8(cfg.Node.Address)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case now := <-ticker.C:
			mgr.Tick(now)
			for {
				origin, payload, ok := mgr.PollReceived()
				if !ok {
					break
				}
				log.WithFields(log.Fields{
					"origin": origin,
					"bytes":  len(payload),
				}).Info("payload received")
			}
		case <-reader.C:
			body, err := sensor.Reading{
				DeviceID:    deviceID,
				Temperature: readTemperature(),
				Voltage:     readVoltage(),
			}.Marshal()
			if err != nil {
				log.WithError(err).Error("marshal reading")
				continue
			}
			if err := mgr.SendPayloadAcked(packet.GatewayAddr, body); err != nil {
				log.WithError(err).Warn("reading not queued")
			}
		}
	}
}

// Stand-in sampling until a hardware sensor driver is wired up.
func readTemperature() float32 { return 21.0 }
func readVoltage() float32     { return 3.3 }
