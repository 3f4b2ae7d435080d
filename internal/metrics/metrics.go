// Package metrics exposes the process counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/meshroom/internal/util"
)

const namespace = "meshroom"

// RelayStats is implemented by *relay.Server.
type RelayStats interface {
	Rooms() int
	Members() int
}

// NewRegistry returns a registry exporting the mesh counters of util.Stats.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	s := util.Stats

	reg.MustRegister(
		counter("links_opened_total", "Peer links created.", s.LinksOpened.Load),
		counter("links_closed_total", "Peer links torn down.", s.LinksClosed.Load),
		counter("signaling_frames_sent_total", "Signaling frames written to the relay.", s.FramesSent.Load),
		counter("signaling_frames_received_total", "Valid signaling frames read from the relay.", s.FramesRecv.Load),
		counter("signaling_frames_dropped_total", "Inbound frames rejected by parsing or routing.", s.FramesDropped.Load),
		counter("signaling_frames_queued_total", "Outbound frames queued before the relay connection opened.", s.FramesQueued.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "links_active",
			Help:      "Peer links currently alive.",
		}, func() float64 { return float64(s.ActiveLinks()) }),
	)
	return reg
}

// RegisterRelay adds room and member gauges for a relay.
func RegisterRelay(reg prometheus.Registerer, r RelayStats) error {
	return errors.Join(
		reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}, func() float64 { return float64(r.Rooms()) })),
		reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "members",
			Help:      "Participants joined across all rooms.",
		}, func() float64 { return float64(r.Members()) })),
	)
}

func counter(name, help string, load func() int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(load()) })
}

// Handler serves reg on any path.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Serve exposes reg on addr under /metrics until ctx is cancelled. The
// listener is opened before Serve returns; serving errors are logged.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("Metrics server stopped: %v", err)
		}
	}()

	return listener.Addr().String(), nil
}
