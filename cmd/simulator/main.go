package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"golang.org/x/sync/errgroup"

	"must-hop/internal/eventBus"
	"must-hop/internal/sim"
	"must-hop/internal/telemetry"
)

func main() {
	scenarioFile := flag.String("scenario", "scenario.yaml", "YAML or JSON scenario description")
	telemetryAddr := flag.String("telemetry", "", "optional listen address for the live telemetry server, e.g. :8080")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log.SetHandler(text.New(os.Stderr))
	if lvl, err := log.ParseLevel(*level); err == nil {
		log.SetLevel(lvl)
	}

	sc, err := sim.LoadScenario(*scenarioFile)
	if err != nil {
		log.WithError(err).Fatal("load scenario")
	}

	bus := eventBus.NewEventBus()

	runner, err := sim.NewRunner(sc, bus, nil)
	if err != nil {
		log.WithError(err).Fatal("build runner")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if *telemetryAddr != "" {
		g.Go(func() error {
			log.WithField("addr", *telemetryAddr).Info("telemetry server listening")
			return telemetry.Serve(ctx, *telemetryAddr, bus, runner.GatewayCollector())
		})
	}

	g.Go(func() error {
		defer stop()
		res, err := runner.Run()
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"ticks":     res.Ticks,
			"delivered": res.Delivered,
			"relayed":   res.Nodes.Relayed,
			"retries":   res.Nodes.Retries,
		}).Info("run complete")
		if sc.Logging.MetricsFile != "" {
			if err := res.Gateway.Flush(sc.Logging.MetricsFile); err != nil {
				log.WithError(err).Warn("flush metrics")
			} else {
				log.WithField("file", sc.Logging.MetricsFile).Info("gateway stats written")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("simulator")
	}
}
