package channels

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultMessagesPerMinute bounds inbound messages per websocket client.
const DefaultMessagesPerMinute = 30

// wsClient is one connected websocket client. Writes are serialised by mu.
type wsClient struct {
	ID          string
	Conn        *websocket.Conn
	IPAddress   string
	ConnectedAt time.Time
	Limiter     *rateLimiter

	mu           sync.Mutex
	lastActivity time.Time
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *wsClient) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// ClientInfo describes a connected websocket client.
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
}

// clientRegistry manages connected clients
type clientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[string]*wsClient)}
}

func (r *clientRegistry) add(client *wsClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
}

func (r *clientRegistry) remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

func (r *clientRegistry) get(clientID string) (*wsClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	return client, ok
}

func (r *clientRegistry) all() []*wsClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*wsClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

func (r *clientRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *clientRegistry) infos() []ClientInfo {
	clients := r.all()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		c.mu.Lock()
		last := c.lastActivity
		c.mu.Unlock()
		infos = append(infos, ClientInfo{
			ID:           c.ID,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: last,
			IPAddress:    c.IPAddress,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// rateLimiter is a one-minute sliding window.
type rateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests []time.Time
	now      func() time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultMessagesPerMinute
	}
	return &rateLimiter{limit: perMinute, window: time.Minute, now: time.Now}
}

// allow records a request and reports whether it fits in the window.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	valid := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.requests = valid

	if len(r.requests) >= r.limit {
		return false
	}
	r.requests = append(r.requests, now)
	return true
}
