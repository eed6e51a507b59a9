package metrics

import "sync"

// Event names incremented by the hub. Exposed so tests can assert on them.
const (
	EventRegistered          = "registered"
	EventRegisterDuplicate   = "register_duplicate"
	EventLogout              = "logout"
	EventHeartbeatEviction   = "heartbeat_eviction"
	EventChannelClosed       = "channel_closed"
	EventRelayForwarded      = "relay_forwarded"
	EventRelayUnreachable    = "relay_unreachable"
	EventBroadcastSendFailed = "broadcast_send_failed"
	EventMessageRejected     = "message_rejected"
	EventRateLimited         = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A larger deployment would plug into a real metrics backend; this type keeps
// hub behavior observable and testable without one.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
