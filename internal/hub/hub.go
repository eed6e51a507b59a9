// Package hub implements the signaling rendezvous service: a process-wide
// registry of online identities and a best-effort relay of negotiation
// messages between a named sender and target.
//
// The hub has no knowledge of negotiation semantics. It routes on
// type/from/to and forwards sdp/candidate/data payloads untouched.
package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/metrics"
	"github.com/parley-app/parley/internal/protocol"
)

// errClientDone tells the read loop to close the channel after the current
// message (logout).
var errClientDone = errors.New("hub: client done")

type Hub struct {
	cfg config.Config
	log *slog.Logger
	m   *metrics.Metrics
	reg *registry
}

func New(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		cfg: cfg,
		log: logger.With("component", "hub"),
		m:   m,
		reg: newRegistry(),
	}
}

// ChannelCount implements the health probe's channel counter.
func (h *Hub) ChannelCount() int {
	return h.reg.count()
}

// Peers returns the current registry key set, sorted.
func (h *Hub) Peers() []string {
	return h.reg.identities()
}

func (h *Hub) Metrics() *metrics.Metrics {
	return h.m
}

// register binds identity to c. On a duplicate the new channel gets an
// explicit rejection and ErrAlreadyRegistered; the existing mapping is
// untouched and the caller closes the new channel.
func (h *Hub) register(c *client, identity string) error {
	// Set before publishing to the registry so goroutines that discover c via
	// a registry snapshot always observe the identity.
	c.identity = identity
	if err := h.reg.add(identity, c); err != nil {
		c.identity = ""
		h.m.Inc(metrics.EventRegisterDuplicate)
		h.log.Warn("duplicate registration rejected", "identity", identity, "conn_id", c.connID)
		_ = c.trySend(protocol.Message{
			Type:    protocol.TypeError,
			UserID:  identity,
			Message: fmt.Sprintf("identity %q is already registered", identity),
		})
		return err
	}

	h.m.Inc(metrics.EventRegistered)
	h.log.Info("registered", "identity", identity, "conn_id", c.connID)

	if err := c.trySend(protocol.Message{
		Type:      protocol.TypeRegistered,
		UserID:    identity,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		h.log.Warn("registered reply not delivered", "identity", identity, "err", err)
	}

	// The peer_list announcement is deliberately delayed so the registering
	// client finishes its own handshake before being advertised.
	h.schedulePeerListBroadcast()
	return nil
}

func (h *Hub) schedulePeerListBroadcast() {
	if h.cfg.PeerListBroadcastDelay <= 0 {
		h.broadcastPeerList()
		return
	}
	time.AfterFunc(h.cfg.PeerListBroadcastDelay, h.broadcastPeerList)
}

func (h *Hub) broadcastPeerList() {
	h.broadcast(protocol.Message{
		Type:      protocol.TypePeerList,
		Peers:     h.reg.identities(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// broadcast sends to a snapshot of all open channels. A failure to reach one
// client is logged and counted, never propagated to the others.
func (h *Hub) broadcast(msg protocol.Message) {
	for _, c := range h.reg.snapshot() {
		if err := c.trySend(msg); err != nil {
			h.m.Inc(metrics.EventBroadcastSendFailed)
			h.log.Warn("broadcast send failed",
				"type", msg.Type, "identity", c.identity, "err", err)
		}
	}
}

// relay forwards a negotiation message to the named target, or reports an
// unreachable peer back to the sender. Best-effort, no retry, no queuing.
func (h *Hub) relay(sender *client, msg protocol.Message) {
	target, ok := h.reg.lookup(msg.To)
	if !ok {
		h.m.Inc(metrics.EventRelayUnreachable)
		_ = sender.trySend(peerUnreachable(msg.To))
		return
	}

	fwd := msg
	fwd.Timestamp = time.Now().UnixMilli()
	if err := target.trySend(fwd); err != nil {
		h.m.Inc(metrics.EventRelayUnreachable)
		h.log.Warn("relay send failed", "type", msg.Type, "to", msg.To, "err", err)
		_ = sender.trySend(peerUnreachable(msg.To))
		return
	}
	h.m.Inc(metrics.EventRelayForwarded)
}

func peerUnreachable(identity string) protocol.Message {
	return protocol.Message{
		Type:    protocol.TypeError,
		UserID:  identity,
		Message: fmt.Sprintf("peer %q is not online", identity),
	}
}

// evict removes c's registration if c still owns it, then announces the
// departure. Safe to call for never-registered or already-evicted channels.
func (h *Hub) evict(c *client, event string) {
	if c.identity == "" {
		return
	}
	if !h.reg.remove(c.identity, c.connID) {
		return
	}

	h.m.Inc(event)
	h.log.Info("evicted", "identity", c.identity, "reason", event)

	h.broadcast(protocol.Message{
		Type:      protocol.TypePeerDisconnected,
		UserID:    c.identity,
		Timestamp: time.Now().UnixMilli(),
	})
	// Departures broadcast synchronously: there is no handshake to race with.
	h.broadcastPeerList()
}

// handle processes one frame from a registered client. Register frames are
// resolved by the server before this point.
func (h *Hub) handle(c *client, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate,
		protocol.TypeStreamStatus, protocol.TypeMediaState, protocol.TypeDisconnect:
		// The from field is trusted as supplied; the hub does not re-derive
		// it from the sending channel.
		h.relay(c, msg)
		return nil
	case protocol.TypeLogout:
		h.evict(c, metrics.EventLogout)
		return errClientDone
	case protocol.TypeRegister:
		h.m.Inc(metrics.EventMessageRejected)
		_ = c.trySend(protocol.Message{
			Type:    protocol.TypeError,
			UserID:  c.identity,
			Message: "already registered",
		})
		return nil
	case protocol.TypeRegistered, protocol.TypePeerList, protocol.TypePeerDisconnected, protocol.TypeError:
		// Hub-emitted types have no meaning inbound; drop with a diagnostic.
		h.m.Inc(metrics.EventMessageRejected)
		h.log.Warn("dropping hub-emitted type from client", "type", msg.Type, "identity", c.identity)
		return nil
	default:
		h.m.Inc(metrics.EventMessageRejected)
		h.log.Warn("dropping unsupported message type", "type", msg.Type, "identity", c.identity)
		return nil
	}
}
