// Command parley-peer is a headless signaling client: it registers an
// identity with a hub, dials the requested peers, and logs session state
// transitions. Useful for soak testing a hub and as a reference for embedding
// the peer manager.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/peer"
	"github.com/parley-app/parley/internal/protocol"
	"github.com/parley-app/parley/internal/rtc"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("parley-peer", flag.ContinueOnError)
	hubURL := fs.String("hub", "ws://127.0.0.1:8080/signal", "hub signaling endpoint")
	identity := fs.String("identity", "", "identity to register (required)")
	token := fs.String("token", "", "bearer token for hubs running with jwt auth")
	connect := fs.String("connect", "", "comma-separated identities to dial after registering")
	stun := fs.String("stun", "", "comma-separated STUN server URLs")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *identity == "" {
		return errors.New("missing -identity")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid -log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg config.Config
	if *stun != "" {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: strings.Split(*stun, ",")}}
	}
	factory := rtc.NewPionFactory(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	m, err := peer.Dial(ctx, *hubURL, *identity, factory, peer.Options{
		Token:                *token,
		MaxPendingCandidates: config.DefaultMaxPendingCandidates,
		Logger:               logger,
		OnStateChange: func(remote string, status peer.Status) {
			logger.Info("session state", "remote", remote, "status", status)
		},
		OnPeerList: func(peers []string) {
			logger.Info("peer list", "peers", peers)
		},
		OnMedia: func(from string, msg protocol.Message) {
			logger.Info("media update", "from", from, "type", msg.Type)
		},
	})
	cancel()
	if err != nil {
		return err
	}

	for _, target := range splitList(*connect) {
		if err := m.Connect(target); err != nil {
			logger.Warn("connect failed", "target", target, "err", err)
		}
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")
	return m.Close()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
