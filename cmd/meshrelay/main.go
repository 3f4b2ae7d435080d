// Command meshrelay runs the development signaling relay.
//
// It tracks room membership and forwards offers, answers and candidates
// between participants. It is meant for local runs; it has no
// authentication and carries no media.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"

	"github.com/1ureka/meshroom/internal/metrics"
	"github.com/1ureka/meshroom/internal/relay"
	"github.com/1ureka/meshroom/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		util.LogWarning("failed to read .env: %v", err)
	}

	// CLI flags.
	addr := flag.String("addr", envOr("MESHRELAY_ADDR", ":8090"), "Listen address")
	metricsAddr := flag.String("metrics", envOr("MESHRELAY_METRICS_ADDR", ""), "Listen address for Prometheus /metrics")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Printfln("Meshrelay v%s", version)
	pterm.Println()

	srv := relay.NewServer()
	bound, err := srv.Start(*addr)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogSuccess("relay listening on ws://%s/ws", bound)

	if *metricsAddr != "" {
		reg := metrics.NewRegistry()
		if err := metrics.RegisterRelay(reg, srv); err != nil {
			util.LogError("failed to register relay metrics: %v", err)
			os.Exit(1)
		}
		maddr, err := metrics.Serve(ctx, *metricsAddr, reg)
		if err != nil {
			util.LogError("failed to start metrics server: %v", err)
			os.Exit(1)
		}
		util.LogInfo("metrics available at http://%s/metrics", maddr)
	}

	<-ctx.Done()
	if err := srv.Close(); err != nil {
		util.LogWarning("relay shutdown: %v", err)
	}
	util.LogInfo("relay stopped")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
