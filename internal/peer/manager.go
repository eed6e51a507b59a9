package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-app/parley/internal/protocol"
	"github.com/parley-app/parley/internal/rtc"
)

const (
	wsWriteWait      = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

var (
	ErrClosed        = errors.New("peer: manager closed")
	ErrSessionExists = errors.New("peer: session already exists")
	ErrSelfDial      = errors.New("peer: cannot connect to own identity")
)

// Options configure a Manager. All callbacks are optional and are invoked
// from manager-owned goroutines; they must not block.
type Options struct {
	// Token is presented to the hub as a bearer credential when the hub runs
	// with token auth.
	Token string

	// OnStateChange fires on every session status transition worth acting on:
	// once when a session connects and once when it closes.
	OnStateChange func(remote string, status Status)

	// OnPeerList fires with each registry announcement from the hub.
	OnPeerList func(peers []string)

	// OnMedia fires for stream-status and media-state messages addressed to
	// this identity.
	OnMedia func(from string, msg protocol.Message)

	// MaxPendingCandidates caps the per-session buffer of candidates that
	// arrive before the remote description. Zero means unlimited.
	MaxPendingCandidates int

	Logger *slog.Logger
}

// Manager owns the hub link for one identity and the negotiation sessions it
// carries. One Manager per registered identity.
type Manager struct {
	identity string
	opts     Options
	log      *slog.Logger
	factory  rtc.Factory

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	sessions  map[string]*session
	connected map[string]struct{}
	peers     []string

	closing  atomic.Bool
	readDone chan struct{}
}

// Dial connects to the hub's signaling endpoint, registers identity, and
// waits for the hub's confirmation before returning.
func Dial(ctx context.Context, hubURL, identity string, factory rtc.Factory, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, hubURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial hub: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	m := &Manager{
		identity:  identity,
		opts:      opts,
		log:       opts.Logger.With("component", "peer", "identity", identity),
		factory:   factory,
		conn:      conn,
		sessions:  make(map[string]*session),
		connected: make(map[string]struct{}),
		readDone:  make(chan struct{}),
	}

	if err := m.register(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go m.readLoop()
	return m, nil
}

// register performs the handshake synchronously so Dial either returns a
// fully registered manager or an error.
func (m *Manager) register(ctx context.Context) error {
	if err := m.send(protocol.Message{
		Type:   protocol.TypeRegister,
		UserID: m.identity,
	}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = m.conn.SetReadDeadline(deadline)
	defer m.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await registration: %w", err)
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			return fmt.Errorf("registration reply: %w", err)
		}
		switch msg.Type {
		case protocol.TypeRegistered:
			m.log.Info("registered with hub")
			return nil
		case protocol.TypeError:
			return fmt.Errorf("registration rejected: %s", msg.Message)
		case protocol.TypePeerList:
			// Broadcasts can race the handshake; record them and keep waiting.
			m.dispatch(msg)
		default:
		}
	}
}

// Identity returns the registered identity.
func (m *Manager) Identity() string {
	return m.identity
}

// Peers returns the most recent registry announcement.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.peers...)
}

// Connected returns the identities with an established session, sorted.
func (m *Manager) Connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.connected))
	for id := range m.connected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connect starts negotiation with remote as initiator. At most one session
// per remote may exist at a time.
func (m *Manager) Connect(remote string) error {
	if m.closing.Load() {
		return ErrClosed
	}
	if remote == m.identity {
		return ErrSelfDial
	}

	m.mu.Lock()
	if _, ok := m.sessions[remote]; ok {
		m.mu.Unlock()
		return ErrSessionExists
	}
	s := m.newSession(remote, RoleInitiator)
	m.sessions[remote] = s
	m.mu.Unlock()

	go s.run()
	s.post(event{kind: evInitiate})
	return nil
}

// Disconnect tears down the session with remote, notifying it. No-op when no
// session exists.
func (m *Manager) Disconnect(remote string) {
	m.mu.Lock()
	s := m.sessions[remote]
	m.mu.Unlock()
	if s != nil {
		s.post(event{kind: evTeardown, notify: true})
	}
}

// SendStreamStatus shares free-form stream metadata with a remote peer.
func (m *Manager) SendStreamStatus(remote string, data json.RawMessage) error {
	if m.closing.Load() {
		return ErrClosed
	}
	return m.send(protocol.Message{
		Type: protocol.TypeStreamStatus,
		From: m.identity,
		To:   remote,
		Data: data,
	})
}

// SendMediaState reports local track availability to a remote peer.
func (m *Manager) SendMediaState(remote string, hasVideo, hasAudio bool) error {
	if m.closing.Load() {
		return ErrClosed
	}
	return m.send(protocol.Message{
		Type:     protocol.TypeMediaState,
		From:     m.identity,
		To:       remote,
		HasVideo: &hasVideo,
		HasAudio: &hasAudio,
	})
}

// Close shuts the manager down: connected peers get one disconnect notice
// each, the hub gets a logout, and every session releases its transport.
// Idempotent; concurrent and repeated calls after the first are no-ops.
func (m *Manager) Close() error {
	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}
	m.log.Info("shutting down")

	m.mu.Lock()
	connected := make([]string, 0, len(m.connected))
	for id := range m.connected {
		connected = append(connected, id)
	}
	sort.Strings(connected)
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, remote := range connected {
		if err := m.send(protocol.Message{
			Type: protocol.TypeDisconnect,
			From: m.identity,
			To:   remote,
		}); err != nil {
			m.log.Warn("disconnect notice failed", "remote", remote, "err", err)
		}
	}

	if err := m.send(protocol.Message{
		Type:   protocol.TypeLogout,
		UserID: m.identity,
	}); err != nil {
		m.log.Warn("logout failed", "err", err)
	}

	// Notices already sent above; sessions only release primitives.
	for _, s := range sessions {
		s.post(event{kind: evTeardown, notify: false})
	}
	for _, s := range sessions {
		<-s.done
	}

	err := m.conn.Close()
	<-m.readDone
	return err
}

// send marshals and writes one frame to the hub. Serialized; safe from any
// goroutine.
func (m *Manager) send(msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = m.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) readLoop() {
	defer close(m.readDone)
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if !m.closing.Load() {
				m.log.Warn("hub link lost", "err", err)
			}
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			m.log.Warn("unparseable hub message", "err", err)
			continue
		}
		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePeerList:
		m.mu.Lock()
		m.peers = append([]string(nil), msg.Peers...)
		m.mu.Unlock()
		if m.opts.OnPeerList != nil {
			m.opts.OnPeerList(append([]string(nil), msg.Peers...))
		}

	case protocol.TypeOffer:
		m.routeOffer(msg)

	case protocol.TypeAnswer:
		m.route(msg.From, event{kind: evRemoteAnswer, sdp: *msg.SDP})

	case protocol.TypeICECandidate:
		m.route(msg.From, event{kind: evRemoteCandidate, cand: *msg.Candidate})

	case protocol.TypeDisconnect:
		m.route(msg.From, event{kind: evRemoteGone})

	case protocol.TypePeerDisconnected:
		m.route(msg.UserID, event{kind: evRemoteGone})

	case protocol.TypeStreamStatus, protocol.TypeMediaState:
		if m.opts.OnMedia != nil {
			m.opts.OnMedia(msg.From, msg)
		}

	case protocol.TypeError:
		// A hub error naming a peer means our message never reached it; the
		// session closes without attempting a farewell of its own.
		if msg.UserID != "" {
			m.route(msg.UserID, event{kind: evHubError})
		}
		m.log.Warn("hub error", "peer", msg.UserID, "message", msg.Message)

	case protocol.TypeRegistered:
		// Already confirmed during Dial.

	default:
		m.log.Warn("unexpected hub message", "type", msg.Type)
	}
}

// routeOffer delivers an inbound offer, creating a responder session when
// none exists yet.
func (m *Manager) routeOffer(msg protocol.Message) {
	if m.closing.Load() {
		return
	}

	m.mu.Lock()
	s, ok := m.sessions[msg.From]
	if !ok {
		s = m.newSession(msg.From, RoleResponder)
		m.sessions[msg.From] = s
		go s.run()
	}
	m.mu.Unlock()

	s.post(event{kind: evRemoteOffer, sdp: *msg.SDP})
}

// route posts ev to the session for remote, dropping it when none exists.
func (m *Manager) route(remote string, ev event) {
	m.mu.Lock()
	s := m.sessions[remote]
	m.mu.Unlock()
	if s == nil {
		m.log.Debug("no session for message", "remote", remote)
		return
	}
	s.post(ev)
}

func (m *Manager) newSession(remote string, role Role) *session {
	return newSession(
		m.identity, remote, role,
		managerSignaler{m},
		m.factory,
		m.opts.MaxPendingCandidates,
		m.log,
		m.sessionState,
		m.sessionClosed,
	)
}

// sessionState tracks the connected set and forwards the transition to the
// application. Runs on the session's loop goroutine.
func (m *Manager) sessionState(remote string, status Status) {
	m.mu.Lock()
	switch status {
	case StatusConnected:
		m.connected[remote] = struct{}{}
	case StatusClosed:
		delete(m.connected, remote)
	}
	m.mu.Unlock()

	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(remote, status)
	}
}

func (m *Manager) sessionClosed(remote string) {
	m.mu.Lock()
	delete(m.sessions, remote)
	m.mu.Unlock()
}

// managerSignaler adapts the manager's hub link to the session's signaler.
type managerSignaler struct {
	m *Manager
}

func (s managerSignaler) send(msg protocol.Message) error {
	return s.m.send(msg)
}
