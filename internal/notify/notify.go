// Package notify implements the per-process notification bus of spec.md
// §4.9: a bounded history buffer, conjunctive filter matching, and a
// persistent bidirectional channel per client over golang.org/x/net/websocket
// -- the only websocket-capable library anywhere in the example pack (a real
// indirect dependency of the OpenTelemetry HTTP exporter stack), promoted
// here to a direct one. The hub never imports the client-connection layer;
// components that emit events hold a *Hub (the api.Server) or a callback
// that publishes to one (the budget guard's alert function, wired in
// cmd/orchestrator), never the reverse.
package notify

import (
	"container/ring"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Event type enum (spec.md §4.9's closed set).
const (
	EventTaskCreated      = "task-created"
	EventTaskAssigned     = "task-assigned"
	EventTaskStarted      = "task-started"
	EventTaskProgress     = "task-progress"
	EventTaskCompleted    = "task-completed"
	EventTaskFailed       = "task-failed"
	EventAgentSpawned     = "agent-spawned"
	EventAgentIdle        = "agent-idle"
	EventAgentTerminated  = "agent-terminated"
	EventConflictPotential = "conflict-potential"
	EventConflictDetected = "conflict-detected"
	EventConflictResolved = "conflict-resolved"
	EventBudgetWarning    = "budget-warning"
	EventBudgetPaused     = "budget-paused"
	EventSystemHealth     = "system-health"
)

const (
	historySize       = 100
	perClientWelcome  = 10
	pingInterval      = 30 * time.Second
	clientSendBuffer  = 32
)

// Event is one notification. Data carries event-specific fields; taskId/
// agentId are surfaced at the top level too so filter matching doesn't need
// to reach into Data.
type Event struct {
	Type    string    `json:"type"`
	TaskID  string    `json:"task_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

// Filter is the conjunctive subscribe filter (spec.md §4.9).
type Filter struct {
	Types    []string `json:"types,omitempty"`
	TaskIDs  []string `json:"taskIds,omitempty"`
	AgentIDs []string `json:"agentIds,omitempty"`
}

// Matches reports whether event satisfies the filter's conjunctive rules.
func (f Filter) Matches(e Event) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.TaskIDs) > 0 && e.TaskID != "" && !contains(f.TaskIDs, e.TaskID) {
		return false
	}
	if len(f.AgentIDs) > 0 && e.AgentID != "" && !contains(f.AgentIDs, e.AgentID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// subscribeMessage is the client-sent {action, filter} envelope.
type subscribeMessage struct {
	Action string `json:"action"`
	Filter Filter `json:"filter"`
}

// client is one connected websocket with its own send buffer and filter.
type client struct {
	conn   *websocket.Conn
	send   chan Event
	mu     sync.Mutex
	filter Filter
}

// Hub fans events out to subscribed clients and keeps a bounded history.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	history *ring.Ring
	logger  *slog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		history: ring.New(historySize),
		logger:  logger,
	}
}

// Publish appends event to history and fans it out to every client whose
// filter matches. Never blocks the caller on a slow client: delivery to a
// full send buffer is dropped (spec.md §5's "never surfaces backpressure"
// policy) and that client is evicted.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.Lock()
	h.history.Value = e
	h.history = h.history.Next()
	stale := make([]*client, 0)
	for c := range h.clients {
		c.mu.Lock()
		matches := c.filter.Matches(e)
		c.mu.Unlock()
		if !matches {
			continue
		}
		select {
		case c.send <- e:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.evict(c)
	}
}

// recentHistory returns up to n of the most recent buffered events, oldest first.
func (h *Hub) recentHistory(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := make([]Event, 0, historySize)
	r := h.history
	for i := 0; i < historySize; i++ {
		if r.Value != nil {
			all = append(all, r.Value.(Event))
		}
		r = r.Next()
	}
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// ServeWebsocket is the websocket.Handler the request boundary mounts the
// notification endpoint on. It registers the client, emits the welcome
// system-health event with the last perClientWelcome buffered events, then
// runs the client's reader and writer loops until the connection closes.
func (h *Hub) ServeWebsocket(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Event, clientSendBuffer)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	welcome := Event{
		Type: EventSystemHealth,
		Data: map[string]any{"recent": h.recentHistory(perClientWelcome)},
	}
	select {
	case c.send <- welcome:
	default:
	}

	done := make(chan struct{})
	go h.writeLoop(c, done)
	h.readLoop(c)
	close(done)
	h.evict(c)
}

func (h *Hub) readLoop(c *client) {
	for {
		var msg subscribeMessage
		if err := websocket.JSON.Receive(c.conn, &msg); err != nil {
			return
		}
		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			c.filter = msg.Filter
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			c.filter = Filter{}
			c.mu.Unlock()
		case "history":
			h.sendHistory(c, msg.Filter)
		}
	}
}

// sendHistory replies to a "history" request with every buffered event
// matching filter (the zero Filter matches everything), oldest first.
func (h *Hub) sendHistory(c *client, filter Filter) {
	all := h.recentHistory(historySize)
	matched := make([]Event, 0, len(all))
	for _, e := range all {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	reply := Event{
		Type: EventSystemHealth,
		Data: map[string]any{"history": matched},
		At:   time.Now(),
	}
	select {
	case c.send <- reply:
	default:
	}
}

func (h *Hub) writeLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case e := <-c.send:
			if err := websocket.JSON.Send(c.conn, e); err != nil {
				h.evict(c)
				return
			}
		case <-ticker.C:
			if err := websocket.JSON.Send(c.conn, Event{Type: EventSystemHealth, At: time.Now()}); err != nil {
				h.evict(c)
				return
			}
		}
	}
}

func (h *Hub) evict(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && h.logger != nil {
		h.logger.Debug("notify: close client on evict", "error", err)
	}
}
