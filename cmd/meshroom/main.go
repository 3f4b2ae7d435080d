// Command meshroom joins or hosts a full-mesh audio/video room.
//
// A participant either hosts a new room or joins an existing one. Every pair
// of participants negotiates a direct WebRTC connection through the relay;
// media never passes through it.
//
// It can be launched interactively (no -user flag) or non-interactively via
// CLI flags and MESHROOM_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/meshroom/internal/config"
	"github.com/1ureka/meshroom/internal/metrics"
	"github.com/1ureka/meshroom/internal/room"
	"github.com/1ureka/meshroom/internal/session"
	"github.com/1ureka/meshroom/internal/util"
)

var version = "dev"

const statsInterval = 5 * time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Printfln("Meshroom v%s", version)
	pterm.Println()

	if !cfg.HasUserID {
		cfg = runInteractive(cfg)
	}

	sess := session.New(cfg)
	announceRoom(sess)
	watchRegistry(sess)

	if cfg.MetricsAddr != "" {
		addr, err := metrics.Serve(ctx, cfg.MetricsAddr, metrics.NewRegistry())
		if err != nil {
			util.LogError("failed to start metrics server: %v", err)
			os.Exit(1)
		}
		util.LogInfo("metrics available at http://%s/metrics", addr)
	}

	util.StartStatsReporter(ctx, statsInterval)

	if err := sess.Run(ctx); err != nil {
		util.LogError("session ended: %v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully left room %s", sess.RoomID())
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive asks for the participant id and whether to host or join.
func runInteractive(cfg config.Config) config.Config {
	cfg.UserID = askUserID()
	cfg.HasUserID = true

	if cfg.RoomID != "" {
		return cfg
	}

	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host: create a new room", "Join: enter an existing room"}).
		WithDefaultText("What would you like to do").
		Show()
	pterm.Println()

	if strings.HasPrefix(choice, "Join") {
		cfg.RoomID = askRoomID()
	}
	return cfg
}

// askUserID prompts until a numeric participant id is entered.
func askUserID() room.ParticipantID {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Your participant id (number)").
			Show()

		id, err := room.ParseParticipantID(strings.TrimSpace(raw))
		if err == nil {
			pterm.Println()
			return id
		}

		util.LogWarning("invalid participant id: must be a whole number")
		pterm.Println()
	}
}

// askRoomID prompts until a non-empty room id is entered.
func askRoomID() room.ID {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room id to join").
			Show()

		if id := strings.TrimSpace(raw); id != "" {
			pterm.Println()
			return room.ID(id)
		}

		util.LogWarning("room id must not be empty")
		pterm.Println()
	}
}
