// Package peer implements the client side of the signaling protocol: a
// Manager holding the hub link plus one negotiation session per remote peer.
//
// Each session runs a single event-loop goroutine that owns all of its state.
// Hub messages, transport callbacks, and application calls are all delivered
// as events; nothing touches session fields from outside the loop.
package peer

import (
	"context"
	"log/slog"

	"github.com/parley-app/parley/internal/protocol"
	"github.com/parley-app/parley/internal/rtc"
)

// Status is the lifecycle of one peer session. Sessions only move forward;
// renegotiation replaces the transport but never re-enters idle.
type Status string

const (
	StatusNegotiating Status = "negotiating"
	StatusConnected   Status = "connected"
	StatusClosing     Status = "closing"
	StatusClosed      Status = "closed"
)

// Role records which side generated the offer for the current negotiation.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// signaler delivers one message to the hub, best-effort.
type signaler interface {
	send(protocol.Message) error
}

type eventKind int

const (
	evInitiate eventKind = iota
	evRemoteOffer
	evRemoteAnswer
	evRemoteCandidate
	evLocalCandidate
	evChannelOpen
	evRemoteGone
	evHubError
	evTransportFailed
	evTeardown
)

type event struct {
	kind   eventKind
	sdp    protocol.SDP
	cand   protocol.Candidate
	notify bool
}

type session struct {
	self    string
	remote  string
	role    Role
	log     *slog.Logger
	sig     signaler
	factory rtc.Factory

	maxPending int

	events chan event
	done   chan struct{}

	// Loop-owned state. Never read or written outside run.
	status         Status
	transport      rtc.Transport
	localDescSent  bool
	remoteDescSet  bool
	awaitingAnswer bool
	pending        []protocol.Candidate

	onState  func(remote string, status Status)
	onClosed func(remote string)
}

func newSession(self, remote string, role Role, sig signaler, factory rtc.Factory, maxPending int, logger *slog.Logger, onState func(string, Status), onClosed func(string)) *session {
	return &session{
		self:       self,
		remote:     remote,
		role:       role,
		log:        logger.With("component", "session", "remote", remote),
		sig:        sig,
		factory:    factory,
		maxPending: maxPending,
		events:     make(chan event, 32),
		done:       make(chan struct{}),
		status:     StatusNegotiating,
		onState:    onState,
		onClosed:   onClosed,
	}
}

// post delivers an event to the loop, dropping it if the session has already
// closed. Safe from any goroutine, including transport callbacks.
func (s *session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *session) run() {
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
			if s.status == StatusClosed {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) handle(ev event) {
	switch ev.kind {
	case evInitiate:
		s.initiate()
	case evRemoteOffer:
		s.remoteOffer(ev.sdp)
	case evRemoteAnswer:
		s.remoteAnswer(ev.sdp)
	case evRemoteCandidate:
		s.remoteCandidate(ev.cand)
	case evLocalCandidate:
		s.localCandidate(ev.cand)
	case evChannelOpen:
		s.channelOpen()
	case evRemoteGone:
		s.teardown(false)
	case evHubError:
		// The hub already knows the peer is gone; a disconnect notice would
		// only come straight back as another error.
		s.teardown(false)
	case evTransportFailed:
		s.log.Warn("transport failed")
		s.teardown(false)
	case evTeardown:
		s.teardown(ev.notify)
	}
}

func (s *session) openTransport() error {
	t, err := s.factory.NewTransport(rtc.Callbacks{
		Candidate: func(c protocol.Candidate) {
			s.post(event{kind: evLocalCandidate, cand: c})
		},
		Open: func() {
			s.post(event{kind: evChannelOpen})
		},
		Failed: func() {
			s.post(event{kind: evTransportFailed})
		},
	})
	if err != nil {
		return err
	}
	s.transport = t
	return nil
}

func (s *session) initiate() {
	if err := s.openTransport(); err != nil {
		s.log.Error("open transport", "err", err)
		s.teardown(false)
		return
	}
	offer, err := s.transport.CreateOffer(context.Background())
	if err != nil {
		s.log.Error("create offer", "err", err)
		s.teardown(false)
		return
	}
	s.localDescSent = true
	s.awaitingAnswer = true
	if err := s.sig.send(protocol.Message{
		Type: protocol.TypeOffer,
		From: s.self,
		To:   s.remote,
		SDP:  &offer,
	}); err != nil {
		s.log.Error("send offer", "err", err)
		s.teardown(false)
	}
}

func (s *session) remoteOffer(sdp protocol.SDP) {
	switch s.status {
	case StatusConnected:
		// Established sessions refuse renegotiation attempts; the remote must
		// disconnect first.
		s.log.Warn("dropping offer for established session")
		return
	case StatusClosing, StatusClosed:
		return
	}

	// Offer glare: both sides initiated at once. The incoming offer wins and
	// this side restarts as responder.
	if s.role == RoleInitiator && s.transport != nil {
		s.log.Info("offer glare, restarting as responder")
		_ = s.transport.Close()
		s.transport = nil
		s.localDescSent = false
		s.remoteDescSet = false
		s.awaitingAnswer = false
		s.pending = nil
	}
	s.role = RoleResponder

	if s.transport == nil {
		if err := s.openTransport(); err != nil {
			s.log.Error("open transport", "err", err)
			s.teardown(false)
			return
		}
	}

	if err := s.transport.SetRemoteDescription(sdp); err != nil {
		s.log.Error("apply remote offer", "err", err)
		s.teardown(false)
		return
	}
	s.remoteDescSet = true
	s.flushPending()

	answer, err := s.transport.CreateAnswer(context.Background())
	if err != nil {
		s.log.Error("create answer", "err", err)
		s.teardown(false)
		return
	}
	s.localDescSent = true
	if err := s.sig.send(protocol.Message{
		Type: protocol.TypeAnswer,
		From: s.self,
		To:   s.remote,
		SDP:  &answer,
	}); err != nil {
		s.log.Error("send answer", "err", err)
		s.teardown(false)
	}
}

func (s *session) remoteAnswer(sdp protocol.SDP) {
	// An answer is only meaningful to an initiator that has sent an offer and
	// has not yet applied a remote description. Everything else is stale or
	// duplicated and gets dropped.
	if s.status != StatusNegotiating || s.role != RoleInitiator || !s.awaitingAnswer || s.remoteDescSet {
		s.log.Warn("dropping out-of-order answer", "status", s.status, "role", s.role)
		return
	}
	if err := s.transport.SetRemoteDescription(sdp); err != nil {
		s.log.Error("apply remote answer", "err", err)
		s.teardown(false)
		return
	}
	s.remoteDescSet = true
	s.awaitingAnswer = false
	s.flushPending()
}

func (s *session) remoteCandidate(cand protocol.Candidate) {
	switch s.status {
	case StatusClosing, StatusClosed:
		return
	}
	if s.transport == nil {
		s.log.Warn("dropping candidate with no negotiation in progress")
		return
	}
	if !s.remoteDescSet {
		if s.maxPending > 0 && len(s.pending) >= s.maxPending {
			s.log.Warn("pending candidate buffer full, dropping", "buffered", len(s.pending))
			return
		}
		s.pending = append(s.pending, cand)
		return
	}
	if err := s.transport.AddCandidate(cand); err != nil {
		s.log.Warn("add candidate", "err", err)
	}
}

// flushPending applies candidates buffered before the remote description, in
// arrival order.
func (s *session) flushPending() {
	for _, cand := range s.pending {
		if err := s.transport.AddCandidate(cand); err != nil {
			s.log.Warn("add buffered candidate", "err", err)
		}
	}
	s.pending = nil
}

func (s *session) localCandidate(cand protocol.Candidate) {
	if s.status == StatusClosing || s.status == StatusClosed {
		return
	}
	// Candidates are only meaningful to a remote that has (or will get) our
	// description; gathering races the offer/answer send, so guard on it.
	if !s.localDescSent {
		return
	}
	if err := s.sig.send(protocol.Message{
		Type:      protocol.TypeICECandidate,
		From:      s.self,
		To:        s.remote,
		Candidate: &cand,
	}); err != nil {
		s.log.Warn("send candidate", "err", err)
	}
}

func (s *session) channelOpen() {
	if s.status != StatusNegotiating {
		return
	}
	s.status = StatusConnected
	s.log.Info("session established", "role", s.role)
	if s.onState != nil {
		s.onState(s.remote, StatusConnected)
	}
}

// teardown is idempotent: the first call wins, later calls and queued events
// are no-ops. Any action gated on a remote acknowledgment is canceled, never
// awaited.
func (s *session) teardown(notify bool) {
	if s.status == StatusClosing || s.status == StatusClosed {
		return
	}
	s.status = StatusClosing
	s.awaitingAnswer = false
	s.pending = nil

	if notify {
		if err := s.sig.send(protocol.Message{
			Type: protocol.TypeDisconnect,
			From: s.self,
			To:   s.remote,
		}); err != nil {
			s.log.Warn("send disconnect notice", "err", err)
		}
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Warn("close transport", "err", err)
		}
		s.transport = nil
	}

	s.status = StatusClosed
	close(s.done)
	s.log.Info("session closed")
	if s.onState != nil {
		s.onState(s.remote, StatusClosed)
	}
	if s.onClosed != nil {
		s.onClosed(s.remote)
	}
}
