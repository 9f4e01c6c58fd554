// Package telemetry exposes the diagnostic event stream and counters over
// HTTP so a front end can watch the mesh live.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"must-hop/internal/eventBus"
	"must-hop/internal/metrics"
)

var upgrader = websocket.Upgrader{
	// telemetry is a diagnostics surface, any origin may watch
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler upgrades the connection and pushes events from the bus.
func wsHandler(bus *eventBus.EventBus, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for event := range bus.Subscribe() {
		if err := conn.WriteJSON(event); err != nil {
			log.WithError(err).Debug("websocket write failed, dropping client")
			return
		}
	}
}

func metricsHandler(coll *metrics.Collector, w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(coll.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Handler builds the telemetry mux: /ws streams events, /metrics returns
// the counter snapshot.
func Handler(bus *eventBus.EventBus, coll *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		wsHandler(bus, w, r)
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metricsHandler(coll, w, r)
	})
	return mux
}

// Serve blocks on the telemetry HTTP server until ctx is cancelled.
func Serve(ctx context.Context, addr string, bus *eventBus.EventBus, coll *metrics.Collector) error {
	srv := &http.Server{Addr: addr, Handler: Handler(bus, coll)}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.WithField("addr", addr).Info("telemetry server started")
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
