package topology

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/store"
)

// DefaultPeerTimeout is the default wait for a mesh request's response
// (spec.md §4.6's peerTimeoutMs).
const DefaultPeerTimeout = 30 * time.Second

// Mesh message types.
const (
	MessageBroadcast = "broadcast"
	MessageRequest   = "request"
	MessageResponse  = "response"
)

// Message is one mesh payload, addressed by agent ID and (for request/
// response pairs) correlated by ID.
type Message struct {
	ID         uuid.UUID
	Type       string
	FromAgent  uuid.UUID
	ToAgent    *uuid.UUID
	TaskID     uuid.UUID
	Payload    any
	InReplyTo  *uuid.UUID
}

// pendingResponse is the correlation-table entry a request registers,
// resolved either by respondToRequest or by the timeout firing. Grounded on
// the teacher's InsertExecuteAgentTxFunc indirection in main.go -- a
// registered callback resolved later by a different code path -- generalised
// here into a channel-based future with its own timer instead of a
// transaction-scoped closure.
type pendingResponse struct {
	replyCh chan Message
	timer   *time.Timer
}

// Mesh adds a per-agent FIFO message queue and a request/response
// correlation table on top of the scheduler, letting agents assigned to the
// same task talk directly.
type Mesh struct {
	Store       store.Store
	Scheduler   *scheduler.Scheduler
	PeerTimeout time.Duration

	mu       sync.Mutex
	queues   map[uuid.UUID][]Message
	pending  map[uuid.UUID]*pendingResponse
}

// NewMesh constructs a Mesh handler with the spec's default peer timeout.
func NewMesh(s store.Store, sched *scheduler.Scheduler) *Mesh {
	return &Mesh{
		Store:       s,
		Scheduler:   sched,
		PeerTimeout: DefaultPeerTimeout,
		queues:      make(map[uuid.UUID][]Message),
		pending:     make(map[uuid.UUID]*pendingResponse),
	}
}

var _ Handler = (*Mesh)(nil)

func (m *Mesh) SubmitTask(ctx context.Context, t *models.Task) error {
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	return m.Scheduler.RegisterTask(ctx, t)
}

func (m *Mesh) OnTaskComplete(ctx context.Context, taskID uuid.UUID, result *models.Result) error {
	if err := m.Store.SetResult(ctx, result); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if result.Status == models.ResultStatusFailed {
		task, err := m.Store.GetTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		if task != nil {
			task.Status = models.TaskStatusFailed
			if err := m.Store.SetTask(ctx, task); err != nil {
				return fmt.Errorf("mark task failed: %w", err)
			}
		}
		return nil
	}
	_, err := m.Scheduler.CompleteTask(ctx, taskID)
	return err
}

// peersForTask lists every agent currently assigned to taskID, excluding exclude.
func (m *Mesh) peersForTask(ctx context.Context, taskID uuid.UUID, exclude uuid.UUID) ([]uuid.UUID, error) {
	agents, err := m.Store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	var peers []uuid.UUID
	for _, a := range agents {
		if a.HeldTaskID != nil && *a.HeldTaskID == taskID && a.ID != exclude {
			peers = append(peers, a.ID)
		}
	}
	return peers, nil
}

// SendBroadcast delivers msg to every agent assigned to taskID except the
// sender. A task with no peers is a no-op, per spec.md §4.6's failure policy.
func (m *Mesh) SendBroadcast(ctx context.Context, taskID uuid.UUID, from uuid.UUID, payload any) error {
	peers, err := m.peersForTask(ctx, taskID, from)
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, peer := range peers {
		m.queues[peer] = append(m.queues[peer], Message{
			ID: uuid.New(), Type: MessageBroadcast, FromAgent: from, ToAgent: &peer, TaskID: taskID, Payload: payload,
		})
	}
	return nil
}

// SendRequest enqueues a request message to `to` and blocks until
// respondToRequest resolves it or PeerTimeout elapses.
func (m *Mesh) SendRequest(ctx context.Context, taskID, from, to uuid.UUID, payload any) (Message, error) {
	msgID := uuid.New()
	reply := make(chan Message, 1)

	m.mu.Lock()
	m.queues[to] = append(m.queues[to], Message{
		ID: msgID, Type: MessageRequest, FromAgent: from, ToAgent: &to, TaskID: taskID, Payload: payload,
	})
	timer := time.AfterFunc(m.peerTimeout(), func() { m.expireRequest(msgID) })
	m.pending[msgID] = &pendingResponse{replyCh: reply, timer: timer}
	m.mu.Unlock()

	select {
	case resp, ok := <-reply:
		if !ok {
			return Message{}, ErrPeerTimeout
		}
		return resp, nil
	case <-ctx.Done():
		m.expireRequest(msgID)
		return Message{}, ctx.Err()
	}
}

func (m *Mesh) expireRequest(msgID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[msgID]
	if !ok {
		return
	}
	delete(m.pending, msgID)
	close(p.replyCh)
}

// RespondToRequest resolves the pending entry for inReplyTo; if the
// requester has not yet polled, the response channel holds the value until
// it does (buffered, capacity 1).
func (m *Mesh) RespondToRequest(ctx context.Context, inReplyTo uuid.UUID, from uuid.UUID, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[inReplyTo]
	if !ok {
		return fmt.Errorf("mesh: no pending request %s (timed out or unknown)", inReplyTo)
	}
	p.timer.Stop()
	delete(m.pending, inReplyTo)
	p.replyCh <- Message{ID: uuid.New(), Type: MessageResponse, FromAgent: from, InReplyTo: &inReplyTo, Payload: payload}
	return nil
}

// PollQueue drains and returns all messages queued for agentID.
func (m *Mesh) PollQueue(agentID uuid.UUID) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.queues[agentID]
	delete(m.queues, agentID)
	return msgs
}

func (m *Mesh) peerTimeout() time.Duration {
	if m.PeerTimeout <= 0 {
		return DefaultPeerTimeout
	}
	return m.PeerTimeout
}
