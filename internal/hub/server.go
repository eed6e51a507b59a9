package hub

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-app/parley/internal/auth"
	"github.com/parley-app/parley/internal/config"
	"github.com/parley-app/parley/internal/metrics"
	"github.com/parley-app/parley/internal/protocol"
	"github.com/parley-app/parley/internal/ratelimit"
)

// Server exposes the hub's websocket signaling endpoint.
type Server struct {
	hub  *Hub
	auth *auth.Authenticator
	cfg  config.Config
	log  *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(h *Hub, authn *auth.Authenticator, cfg config.Config, logger *slog.Logger) *Server {
	s := &Server{
		hub:  h,
		auth: authn,
		cfg:  cfg,
		log:  logger.With("component", "signal"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleSignal)
}

// checkOrigin admits requests without an Origin header (non-browser clients)
// and, when ALLOWED_ORIGINS is configured, browser requests from those
// origins only.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	normalized := strings.TrimSuffix(strings.ToLower(origin), "/")
	for _, allowed := range s.cfg.AllowedOrigins {
		if normalized == allowed {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := newClient(uuid.NewString(), conn, s.log)
	go c.writePump(s.cfg.HeartbeatInterval)

	evictEvent := metrics.EventChannelClosed
	defer func() {
		c.shutdown()
		s.hub.evict(c, evictEvent)
	}()

	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	resetDeadline := func() {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	}
	resetDeadline()
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	rate := int64(s.cfg.MaxSignalingMessagesPerSecond)
	limiter := ratelimit.NewBucket(nil, rate, rate)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				evictEvent = metrics.EventHeartbeatEviction
				s.log.Info("heartbeat timeout", "identity", c.identity, "conn_id", c.connID)
			}
			return
		}
		resetDeadline()

		if msgType != websocket.TextMessage {
			_ = c.trySend(protocol.Message{
				Type:    protocol.TypeError,
				Message: "expected text frames",
			})
			return
		}

		if !limiter.Allow() {
			s.hub.Metrics().Inc(metrics.EventRateLimited)
			s.log.Warn("signaling rate limit exceeded", "identity", c.identity, "conn_id", c.connID)
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			s.hub.Metrics().Inc(metrics.EventMessageRejected)
			_ = c.trySend(protocol.Message{
				Type:    protocol.TypeError,
				Message: "invalid message: " + err.Error(),
			})
			continue
		}

		if c.identity == "" {
			if msg.Type != protocol.TypeRegister {
				s.hub.Metrics().Inc(metrics.EventMessageRejected)
				_ = c.trySend(protocol.Message{
					Type:    protocol.TypeError,
					Message: "must register first",
				})
				continue
			}

			identity, err := s.auth.Identity(msg.UserID, token)
			if err != nil {
				s.log.Warn("registration auth failed", "claimed", msg.UserID, "err", err)
				_ = c.trySend(protocol.Message{
					Type:    protocol.TypeError,
					Message: "unauthorized",
				})
				return
			}
			if err := s.hub.register(c, identity); err != nil {
				// Rejection notice is queued; writePump drains it before the
				// connection closes.
				return
			}
			continue
		}

		if err := s.hub.handle(c, msg); errors.Is(err, errClientDone) {
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
