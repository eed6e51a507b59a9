package config

import (
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFromMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listen addr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev || cfg.LogFormat != LogFormatText {
		t.Fatalf("unexpected mode/log format: %v %v", cfg.Mode, cfg.LogFormat)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("auth mode=%q, want none", cfg.AuthMode)
	}
	if cfg.HeartbeatInterval != DefaultHeartbeatInterval || cfg.HeartbeatTimeout != DefaultHeartbeatTimeout {
		t.Fatalf("unexpected heartbeat config: %v %v", cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	}
	if cfg.PeerListBroadcastDelay != DefaultPeerListBroadcastDelay {
		t.Fatalf("peer list delay=%v", cfg.PeerListBroadcastDelay)
	}
	if cfg.MaxPendingCandidates != DefaultMaxPendingCandidates {
		t.Fatalf("max pending candidates=%d", cfg.MaxPendingCandidates)
	}
}

func TestLoad_ProdModeDefaultsToJSONLogs(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"PARLEY_HUB_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("log format=%q, want json", cfg.LogFormat)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"PARLEY_HUB_LISTEN_ADDR": "127.0.0.1:9999",
	}), []string{"-listen-addr", "127.0.0.1:7777"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Fatalf("listen addr=%q, want flag value", cfg.ListenAddr)
	}
}

func TestLoad_JWTModeRequiresSecret(t *testing.T) {
	if _, err := load(lookupFromMap(map[string]string{"AUTH_MODE": "jwt"}), nil); err == nil {
		t.Fatalf("expected error for jwt mode without secret")
	}

	cfg, err := load(lookupFromMap(map[string]string{
		"AUTH_MODE":  "jwt",
		"JWT_SECRET": "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeJWT || cfg.JWTSecret != "s3cret" {
		t.Fatalf("unexpected auth config: %#v", cfg)
	}
}

func TestLoad_HeartbeatTimeoutMustExceedInterval(t *testing.T) {
	_, err := load(lookupFromMap(map[string]string{
		"HEARTBEAT_INTERVAL": "30s",
		"HEARTBEAT_TIMEOUT":  "10s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_PeerListBroadcastDelay(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"PEER_LIST_BROADCAST_DELAY": "0s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PeerListBroadcastDelay != 0 {
		t.Fatalf("delay=%v, want 0", cfg.PeerListBroadcastDelay)
	}

	if _, err := load(lookupFromMap(map[string]string{
		"PEER_LIST_BROADCAST_DELAY": "-1s",
	}), nil); err == nil {
		t.Fatalf("expected error for negative delay")
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"ALLOWED_ORIGINS": "https://app.example.com/, http://localhost:3000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:3000"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("origins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("origins[%d]=%q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}

	if _, err := load(lookupFromMap(map[string]string{
		"ALLOWED_ORIGINS": "app.example.com",
	}), nil); err == nil {
		t.Fatalf("expected error for origin without scheme")
	}
}

func TestLoad_ICEServers(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"STUN_URLS": "stun:stun.l.google.com:19302",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != 1 {
		t.Fatalf("unexpected ice servers: %#v", cfg.ICEServers)
	}

	cfg, err = load(lookupFromMap(map[string]string{
		"ICE_SERVERS_JSON": `[{"urls":["stun:stun.example.com"]},{"urls":["turn:turn.example.com"],"username":"u","credential":"p"}]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("unexpected ice servers: %#v", cfg.ICEServers)
	}

	if _, err := load(lookupFromMap(map[string]string{
		"STUN_URLS": "http://not-stun",
	}), nil); err == nil {
		t.Fatalf("expected error for non-stun URL")
	}
}

func TestLoad_InvalidDurations(t *testing.T) {
	for _, key := range []string{"HEARTBEAT_INTERVAL", "HEARTBEAT_TIMEOUT", "PARLEY_HUB_SHUTDOWN_TIMEOUT"} {
		if _, err := load(lookupFromMap(map[string]string{key: "soon"}), nil); err == nil {
			t.Fatalf("expected error for invalid %s", key)
		}
	}
}

func TestLoad_ShutdownTimeout(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"PARLEY_HUB_SHUTDOWN_TIMEOUT": "3s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("shutdown timeout=%v", cfg.ShutdownTimeout)
	}
}
