package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "PARLEY_HUB_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarMode            = "PARLEY_HUB_MODE"
	envVarLogFormat       = "PARLEY_HUB_LOG_FORMAT"
	envVarLogLevel        = "PARLEY_HUB_LOG_LEVEL"
	envVarShutdownTimeout = "PARLEY_HUB_SHUTDOWN_TIMEOUT"

	// Signaling / WebSocket auth + hardening.
	envVarAuthMode                      = "AUTH_MODE"
	envVarJWTSecret                     = "JWT_SECRET"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Presence / liveness knobs.
	envVarHeartbeatInterval      = "HEARTBEAT_INTERVAL"
	envVarHeartbeatTimeout       = "HEARTBEAT_TIMEOUT"
	envVarPeerListBroadcastDelay = "PEER_LIST_BROADCAST_DELAY"

	// Client-side negotiation knobs.
	envVarMaxPendingCandidates = "MAX_PENDING_CANDIDATES"
	envVarICEServersJSON       = "ICE_SERVERS_JSON"
	envVarSTUNURLs             = "STUN_URLS"
)

const (
	DefaultListenAddr = "127.0.0.1:8080"
	DefaultShutdown   = 15 * time.Second

	DefaultHeartbeatInterval = 20 * time.Second
	// DefaultHeartbeatTimeout is how long the hub waits for a pong before a
	// channel is considered dead and evicted. Must exceed the ping interval.
	DefaultHeartbeatTimeout = 30 * time.Second

	// DefaultPeerListBroadcastDelay postpones the peer_list broadcast after a
	// successful registration so the registering client finishes its own
	// handshake before it is advertised. Zero broadcasts synchronously.
	DefaultPeerListBroadcastDelay = 150 * time.Millisecond

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	// DefaultMaxPendingCandidates bounds the per-session buffer of ICE
	// candidates received before the remote description.
	DefaultMaxPendingCandidates = 64

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone AuthMode = "none"
	AuthModeJWT  AuthMode = "jwt"
)

type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	Mode           Mode
	LogFormat      LogFormat
	LogLevel       slog.Level

	ShutdownTimeout time.Duration

	// AuthMode controls where a registering client's identity comes from:
	// "none" trusts the client-supplied userId, "jwt" requires a token whose
	// subject claim names the identity.
	AuthMode  AuthMode
	JWTSecret string

	HeartbeatInterval      time.Duration
	HeartbeatTimeout       time.Duration
	PeerListBroadcastDelay time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	MaxPendingCandidates int

	// ICEServers configures the STUN/TURN servers handed to the connection
	// primitive. Populated from ICE_SERVERS_JSON or STUN_URLS.
	ICEServers []webrtc.ICEServer
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	fs := flag.NewFlagSet("parley-hub", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "address to listen on")
	modeStr := fs.String("mode", modeDefault, "dev or prod")
	logFormatStr := fs.String("log-format", logFormatDefault, "text or json")
	logLevelStr := fs.String("log-level", logLevelDefault, "debug, info, warn, or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(envOrDefault(lookup, envVarAllowedOrigins, ""))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	authMode, err := parseAuthMode(envOrDefault(lookup, envVarAuthMode, string(AuthModeNone)))
	if err != nil {
		return Config{}, err
	}
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	if authMode == AuthModeJWT && jwtSecret == "" {
		return Config{}, fmt.Errorf("%s=jwt requires %s", envVarAuthMode, envVarJWTSecret)
	}

	heartbeatInterval, err := envDurationOrDefault(lookup, envVarHeartbeatInterval, DefaultHeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	heartbeatTimeout, err := envDurationOrDefault(lookup, envVarHeartbeatTimeout, DefaultHeartbeatTimeout)
	if err != nil {
		return Config{}, err
	}
	if heartbeatTimeout <= heartbeatInterval {
		return Config{}, fmt.Errorf("%s (%s) must exceed %s (%s)",
			envVarHeartbeatTimeout, heartbeatTimeout, envVarHeartbeatInterval, heartbeatInterval)
	}

	peerListDelay, err := envDurationOrDefault(lookup, envVarPeerListBroadcastDelay, DefaultPeerListBroadcastDelay)
	if err != nil {
		return Config{}, err
	}
	if peerListDelay < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", envVarPeerListBroadcastDelay)
	}

	maxMsgBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxMsgBytes = n
	}
	maxMsgPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxPendingCandidates, err := envIntOrDefault(lookup, envVarMaxPendingCandidates, DefaultMaxPendingCandidates)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServers(
		envOrDefault(lookup, envVarICEServersJSON, ""),
		envOrDefault(lookup, envVarSTUNURLs, ""),
	)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:     *listenAddr,
		AllowedOrigins: allowedOrigins,
		Mode:           mode,
		LogFormat:      logFormat,
		LogLevel:       logLevel,

		ShutdownTimeout: shutdownTimeout,

		AuthMode:  authMode,
		JWTSecret: jwtSecret,

		HeartbeatInterval:      heartbeatInterval,
		HeartbeatTimeout:       heartbeatTimeout,
		PeerListBroadcastDelay: peerListDelay,

		MaxSignalingMessageBytes:      maxMsgBytes,
		MaxSignalingMessagesPerSecond: maxMsgPerSecond,

		MaxPendingCandidates: maxPendingCandidates,

		ICEServers: iceServers,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeJWT)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			return nil, fmt.Errorf("invalid origin %q (expected http:// or https:// prefix)", p)
		}
		out = append(out, strings.TrimSuffix(strings.ToLower(p), "/"))
	}
	return out, nil
}

// parseICEServers accepts either a full JSON ICE server list or a comma
// separated list of STUN URLs; the JSON form wins when both are set.
func parseICEServers(iceServersJSON, stunURLs string) ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(iceServersJSON) != "" {
		var servers []webrtc.ICEServer
		if err := json.Unmarshal([]byte(iceServersJSON), &servers); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envVarICEServersJSON, err)
		}
		return servers, nil
	}
	if strings.TrimSpace(stunURLs) == "" {
		return nil, nil
	}
	var urls []string
	for _, u := range strings.Split(stunURLs, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			return nil, fmt.Errorf("invalid %s entry %q (expected stun: or stuns: URL)", envVarSTUNURLs, u)
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, nil
	}
	return []webrtc.ICEServer{{URLs: urls}}, nil
}
