// Package config gathers the parameters of one room session from CLI flags,
// environment variables and an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/meshroom/internal/room"
)

const (
	envRelayURL       = "MESHROOM_RELAY_URL"
	envRoomID         = "MESHROOM_ROOM_ID"
	envUserID         = "MESHROOM_USER_ID"
	envICEServers     = "MESHROOM_ICE_SERVERS"
	envICEServersJSON = "MESHROOM_ICE_SERVERS_JSON"
	envMetricsAddr    = "MESHROOM_METRICS_ADDR"
	envDebug          = "MESHROOM_DEBUG"
	envPingInterval   = "MESHROOM_PING_INTERVAL"

	defaultRelayURL     = "ws://127.0.0.1:8090/ws"
	defaultPingInterval = 30 * time.Second
)

// DefaultSTUNServers are used when no ICE servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores everything a participant needs to enter a room.
type Config struct {
	RelayURL     string             // WebSocket URL of the signaling relay
	RoomID       room.ID            // empty means "host a new room"
	UserID       room.ParticipantID // supplied by the identity provider
	HasUserID    bool               // false when no user id was given (interactive mode asks)
	ICEServers   []webrtc.ICEServer
	PingInterval time.Duration // relay keepalive period; 0 disables pings
	MetricsAddr  string        // listen address for /metrics; empty disables it
	Debug        bool
}

// Hosting reports whether this participant creates the room.
func (c Config) Hosting() bool {
	return c.RoomID == ""
}

// Load parses args (without the program name) on top of the environment.
// A .env file in the working directory is applied first when present;
// variables already set in the process environment win over it.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Config{
		RelayURL:     envOrDefault(lookup, envRelayURL, defaultRelayURL),
		RoomID:       room.ID(envOrDefault(lookup, envRoomID, "")),
		MetricsAddr:  envOrDefault(lookup, envMetricsAddr, ""),
		PingInterval: defaultPingInterval,
	}

	if raw, ok := lookup(envPingInterval); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envPingInterval, err)
		}
		cfg.PingInterval = d
	}

	if raw, ok := lookup(envDebug); ok && strings.TrimSpace(raw) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", envDebug, err)
		}
		cfg.Debug = b
	}

	userID := envOrDefault(lookup, envUserID, "")
	iceURLs := envOrDefault(lookup, envICEServers, "")
	iceJSON := envOrDefault(lookup, envICEServersJSON, "")
	roomID := string(cfg.RoomID)

	fs := flag.NewFlagSet("meshroom", flag.ContinueOnError)
	fs.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "WebSocket URL of the signaling relay ("+envRelayURL+")")
	fs.StringVar(&roomID, "room", roomID, "Room to join; empty hosts a new room ("+envRoomID+")")
	fs.StringVar(&userID, "user", userID, "Numeric participant id ("+envUserID+")")
	fs.StringVar(&iceURLs, "ice", iceURLs, "Comma-separated STUN/TURN URLs ("+envICEServers+")")
	fs.StringVar(&iceJSON, "ice-json", iceJSON, "ICE server JSON list ("+envICEServersJSON+")")
	fs.DurationVar(&cfg.PingInterval, "ping", cfg.PingInterval, "Relay keepalive interval, 0 disables ("+envPingInterval+")")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Listen address for Prometheus /metrics ("+envMetricsAddr+")")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging ("+envDebug+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.RoomID = room.ID(strings.TrimSpace(roomID))

	if s := strings.TrimSpace(userID); s != "" {
		id, err := room.ParseParticipantID(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid user id %q: %w", s, err)
		}
		cfg.UserID = id
		cfg.HasUserID = true
	}

	relayURL, err := NormalizeRelayURL(cfg.RelayURL)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayURL = relayURL

	if cfg.PingInterval < 0 {
		return Config{}, fmt.Errorf("ping interval must not be negative: %v", cfg.PingInterval)
	}

	servers, err := parseICEServersFromValues(iceJSON, iceURLs)
	if err != nil {
		return Config{}, err
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: DefaultSTUNServers}}
	}
	cfg.ICEServers = servers

	return cfg, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
