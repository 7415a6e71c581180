// Package config parses hexwar-agent's flags and environment variables:
// flags set defaults, HEXWAR_* environment variables override them.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// Config is the full set of knobs one hexwar-agent process needs.
type Config struct {
	RaftID    string
	RaftPeers []string

	HTTPPort int
	UDPPort  int

	GameID          string
	ControlEndpoint string

	SpawnerURL  string
	RegistryURL string

	CapturePoolSize  int
	FinisherPoolSize int

	LogLevel  string
	LogFormat string
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// Parse builds a Config from command-line flags, then lets any HEXWAR_*
// environment variable present override the flag value.
func Parse(args []string) *Config {
	fs := flag.NewFlagSet("hexwar-agent", flag.ExitOnError)

	raftID := fs.String("raft-id", "", "This node's raft identity: the TCP address its raft RPC listener binds and peers dial (e.g. 127.0.0.1:7001)")
	raftPeers := fs.String("peers", "", "Comma-separated initial voting peer addresses, including raft-id")
	httpPort := fs.Int("http-port", 8080, "Command-surface HTTP port (/join, /attack, /state, /updates, /finisher, /metrics)")
	udpPort := fs.Int("udp-port", 9000, "Combat UDP receiver port")
	gameID := fs.String("game-id", "default", "Game instance this agent belongs to")
	controlEndpoint := fs.String("control-endpoint", "", "This process's own dialable HTTP address, advertised to peers as its control endpoint")
	spawnerURL := fs.String("spawner-url", "", "Base URL of the external task spawner; empty disables lazy provisioning")
	registryURL := fs.String("registry-url", "", "Base URL of the peer-discovery registry; empty skips startup registration")
	capturePool := fs.Int("capture-pool-size", 8, "Concurrent overload-evaluation goroutines in the capture controller")
	finisherPool := fs.Int("finisher-pool-size", 8, "Concurrent finishing-attack streams the finisher coordinator may run at once")
	logLevel := fs.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	logFormat := fs.String("log-format", "json", "Log format: json or text")

	fs.Parse(args)

	cfg := &Config{
		RaftID:           *raftID,
		RaftPeers:        splitPeers(*raftPeers),
		HTTPPort:         *httpPort,
		UDPPort:          *udpPort,
		GameID:           *gameID,
		ControlEndpoint:  *controlEndpoint,
		SpawnerURL:       *spawnerURL,
		RegistryURL:      *registryURL,
		CapturePoolSize:  *capturePool,
		FinisherPoolSize: *finisherPool,
		LogLevel:         *logLevel,
		LogFormat:        *logFormat,
	}

	cfg.RaftID = envString("HEXWAR_RAFT_ID", cfg.RaftID)
	if v := os.Getenv("HEXWAR_PEERS"); v != "" {
		cfg.RaftPeers = splitPeers(v)
	}
	cfg.HTTPPort = envInt("HEXWAR_HTTP_PORT", cfg.HTTPPort)
	cfg.UDPPort = envInt("HEXWAR_UDP_PORT", cfg.UDPPort)
	cfg.GameID = envString("HEXWAR_GAME_ID", cfg.GameID)
	cfg.ControlEndpoint = envString("HEXWAR_CONTROL_ENDPOINT", cfg.ControlEndpoint)
	cfg.SpawnerURL = envString("HEXWAR_SPAWNER_URL", cfg.SpawnerURL)
	cfg.RegistryURL = envString("HEXWAR_REGISTRY_URL", cfg.RegistryURL)
	cfg.CapturePoolSize = envInt("HEXWAR_CAPTURE_POOL_SIZE", cfg.CapturePoolSize)
	cfg.FinisherPoolSize = envInt("HEXWAR_FINISHER_POOL_SIZE", cfg.FinisherPoolSize)
	cfg.LogLevel = envString("HEXWAR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("HEXWAR_LOG_FORMAT", cfg.LogFormat)

	return cfg
}

func splitPeers(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
