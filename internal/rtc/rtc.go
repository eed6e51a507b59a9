// Package rtc adapts an external STUN/TURN-capable negotiation library as the
// connection primitive driven by the peer connection manager.
//
// The manager treats a Transport as an opaque capability: it feeds remote
// descriptions and candidates in, and receives asynchronous callbacks out.
// Callbacks are translated into session events by the caller; nothing in this
// package mutates session state.
package rtc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/protocol"
)

// Callbacks are fired by a Transport from library goroutines; they may
// interleave with application-driven calls at any time.
type Callbacks struct {
	// Candidate reports a locally discovered ICE candidate to trickle to the
	// remote peer.
	Candidate func(protocol.Candidate)

	// GatheringComplete fires once local candidate gathering finishes.
	GatheringComplete func()

	// Open fires when the data channel to the remote peer opens; this is the
	// single signal that the session is established.
	Open func()

	// Track fires when a remote media track arrives.
	Track func(kind string)

	// Failed fires when the underlying connection is lost or closed by the
	// library.
	Failed func()
}

// Transport is the negotiation primitive for one peer session.
type Transport interface {
	// CreateOffer generates and stores the local session description,
	// starting candidate gathering.
	CreateOffer(ctx context.Context) (protocol.SDP, error)

	// CreateAnswer generates and stores the local answer to a previously set
	// remote offer.
	CreateAnswer(ctx context.Context) (protocol.SDP, error)

	SetRemoteDescription(protocol.SDP) error
	AddCandidate(protocol.Candidate) error

	Close() error
}

// Factory creates one Transport per peer session.
type Factory interface {
	NewTransport(cb Callbacks) (Transport, error)
}

// NewAPI configures the pion API shared by all transports of one manager.
func NewAPI(cfg config.Config, logger *slog.Logger) *webrtc.API {
	se := webrtc.SettingEngine{}
	if logger != nil {
		se.LoggerFactory = &slogLoggerFactory{log: logger}
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

// slogLoggerFactory routes pion's internal logs through the application
// logger.
type slogLoggerFactory struct {
	log *slog.Logger
}

func (f *slogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLeveledLogger{log: f.log.With("pion_scope", scope)}
}

type slogLeveledLogger struct {
	log *slog.Logger
}

func (l *slogLeveledLogger) Trace(msg string)                          { l.log.Debug(msg) }
func (l *slogLeveledLogger) Tracef(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args) }
func (l *slogLeveledLogger) Debug(msg string)                          { l.log.Debug(msg) }
func (l *slogLeveledLogger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args) }
func (l *slogLeveledLogger) Info(msg string)                           { l.log.Info(msg) }
func (l *slogLeveledLogger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args) }
func (l *slogLeveledLogger) Warn(msg string)                           { l.log.Warn(msg) }
func (l *slogLeveledLogger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args) }
func (l *slogLeveledLogger) Error(msg string)                          { l.log.Error(msg) }
func (l *slogLeveledLogger) Errorf(format string, args ...interface{}) { l.logf(slog.LevelError, format, args) }

func (l *slogLeveledLogger) logf(level slog.Level, format string, args []interface{}) {
	if !l.log.Enabled(context.Background(), level) {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
