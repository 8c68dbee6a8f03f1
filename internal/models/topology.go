package models

import "github.com/google/uuid"

// Topology mode enum (spec.md §4.6).
const (
	TopologyHubSpoke     = "hub_spoke"
	TopologyHierarchical = "hierarchical"
	TopologyMesh         = "mesh"
)

// HierarchyNode tracks depth (root=0) and the child-task set for one task
// under the hierarchical topology handler.
type HierarchyNode struct {
	TaskID   uuid.UUID   `json:"task_id"`
	ParentID *uuid.UUID  `json:"parent_id,omitempty"`
	Depth    int         `json:"depth"`
	Children []uuid.UUID `json:"children,omitempty"`
}

// MeshMessageType enumerates the message kinds mesh peers exchange.
const (
	MeshMessageBroadcast = "broadcast"
	MeshMessageRequest   = "request"
	MeshMessageResponse  = "response"
)

// MeshMessage is one entry in an agent's per-agent pending-message queue.
type MeshMessage struct {
	ID        uuid.UUID   `json:"id"`
	Type      string      `json:"type"`
	FromAgent uuid.UUID   `json:"from_agent"`
	ToAgent   *uuid.UUID  `json:"to_agent,omitempty"` // nil for broadcast
	TaskID    uuid.UUID   `json:"task_id"`
	Payload   any         `json:"payload,omitempty"`
	InReplyTo *uuid.UUID  `json:"in_reply_to,omitempty"`
}
