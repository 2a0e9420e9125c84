// Package mission holds the data model for the Mission DAG: missions,
// nodes, connections, and the runtime-only types produced during a run.
package mission

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Mission.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Variable is a named mission-level value with a default.
type Variable struct {
	Name    string `json:"name"`
	Type    string `json:"type"` // string | number | boolean
	Default any    `json:"default,omitempty"`
}

// Settings holds per-mission execution policy.
type Settings struct {
	Timezone             string `json:"timezone"`
	RetryOnFail          bool   `json:"retryOnFail"`
	RetryCount           int    `json:"retryCount"`
	RetryIntervalMs      int    `json:"retryIntervalMs"`
	SaveExecutionProgress bool  `json:"saveExecutionProgress"`
	ErrorWorkflowID      string `json:"errorWorkflowId,omitempty"`
}

// Mission is a user-owned DAG of nodes describing an automation.
type Mission struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Status      Status   `json:"status"`
	Version     int      `json:"version"`
	Integration string   `json:"integration,omitempty"`
	ChatIDs     []string `json:"chatIds,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`

	LastSentLocalDate   string     `json:"lastSentLocalDate,omitempty"`
	RunCount            int        `json:"runCount"`
	SuccessCount        int        `json:"successCount"`
	FailureCount        int        `json:"failureCount"`
	LastRunStatus       string     `json:"lastRunStatus,omitempty"`
	ScheduledAtOverride *time.Time `json:"scheduledAtOverride,omitempty"`

	// BuilderVersion stamps the catalog version of the external builder
	// that produced this mission; the core never writes it, only
	// round-trips it. See novacore's builder-version supplement.
	BuilderVersion string `json:"builderVersion,omitempty"`

	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	Variables   []Variable   `json:"variables,omitempty"`
	Settings    Settings     `json:"settings"`
}

// Node is a tagged-variant graph node. Fields is the full decoded JSON
// object for the node so that unknown node types and unknown fields
// round-trip untouched, per the "unknown types round-trip" serialization
// rule; Type/ID/Label/Position/Disabled are promoted for direct access.
type Node struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Type     string          `json:"type"`
	Position Position        `json:"position"`
	Disabled bool            `json:"disabled,omitempty"`
	Notes    string          `json:"notes,omitempty"`
	Fields   json.RawMessage `json:"-"`
}

// Position is the node's canvas coordinates; not load-bearing for
// execution but round-tripped for the builder/editor.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MarshalJSON merges the promoted fields back into the raw object so
// unknown fields captured at unmarshal time survive a re-marshal.
func (n Node) MarshalJSON() ([]byte, error) {
	merged := map[string]any{}
	if len(n.Fields) > 0 {
		if err := json.Unmarshal(n.Fields, &merged); err != nil {
			return nil, err
		}
	}
	merged["id"] = n.ID
	merged["label"] = n.Label
	merged["type"] = n.Type
	merged["position"] = n.Position
	if n.Disabled {
		merged["disabled"] = true
	} else {
		delete(merged, "disabled")
	}
	if n.Notes != "" {
		merged["notes"] = n.Notes
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures the whole object in Fields while promoting the
// common envelope fields.
func (n *Node) UnmarshalJSON(data []byte) error {
	type envelope struct {
		ID       string   `json:"id"`
		Label    string   `json:"label"`
		Type     string   `json:"type"`
		Position Position `json:"position"`
		Disabled bool     `json:"disabled"`
		Notes    string   `json:"notes"`
	}
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	n.ID = e.ID
	n.Label = e.Label
	n.Type = e.Type
	n.Position = e.Position
	n.Disabled = e.Disabled
	n.Notes = e.Notes
	n.Fields = append([]byte(nil), data...)
	return nil
}

// Field fetches a named field from the node's raw JSON payload.
func (n Node) Field(name string) (any, bool) {
	if len(n.Fields) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(n.Fields, &m); err != nil {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// StringField fetches a string field, defaulting to "".
func (n Node) StringField(name string) string {
	v, ok := n.Field(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Trigger node type discriminants.
const (
	TypeScheduleTrigger = "schedule-trigger"
	TypeWebhookTrigger  = "webhook-trigger"
	TypeManualTrigger   = "manual-trigger"
	TypeEventTrigger    = "event-trigger"
)

// Output node type discriminants.
var outputTypes = map[string]bool{
	"telegram-output": true,
	"discord-output":  true,
	"email-output":    true,
	"webhook-output":  true,
	"slack-output":    true,
	"novachat-output": true,
}

// IsOutput reports whether the node belongs to the output family.
func (n Node) IsOutput() bool { return outputTypes[n.Type] }

var triggerTypes = map[string]bool{
	TypeScheduleTrigger: true,
	TypeWebhookTrigger:  true,
	TypeManualTrigger:   true,
	TypeEventTrigger:    true,
}

// IsTrigger reports whether the node belongs to the trigger family.
func (n Node) IsTrigger() bool { return triggerTypes[n.Type] }

// Well-known connection ports.
const (
	PortMain  = "main"
	PortError = "error"
	PortTrue  = "true"
	PortFalse = "false"
)

// Connection is a directed edge between two node ports.
type Connection struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"sourceNodeId"`
	SourcePort   string `json:"sourcePort,omitempty"`
	TargetNodeID string `json:"targetNodeId"`
	TargetPort   string `json:"targetPort,omitempty"`
}

// Port returns the connection's source port, defaulting to "main".
func (c Connection) Port() string {
	if c.SourcePort == "" {
		return PortMain
	}
	return c.SourcePort
}

// NodeByID indexes nodes by id.
func (m *Mission) NodeByID() map[string]Node {
	idx := make(map[string]Node, len(m.Nodes))
	for _, n := range m.Nodes {
		idx[n.ID] = n
	}
	return idx
}

// NodeByLabel indexes nodes by label.
func (m *Mission) NodeByLabel() map[string]Node {
	idx := make(map[string]Node, len(m.Nodes))
	for _, n := range m.Nodes {
		idx[n.Label] = n
	}
	return idx
}

// TriggerNodeIDs returns the ids of all trigger-family nodes.
func (m *Mission) TriggerNodeIDs() []string {
	var ids []string
	for _, n := range m.Nodes {
		if n.IsTrigger() {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// ScheduleTrigger returns the mission's schedule-trigger node, if any.
func (m *Mission) ScheduleTrigger() (Node, bool) {
	for _, n := range m.Nodes {
		if n.Type == TypeScheduleTrigger {
			return n, true
		}
	}
	return Node{}, false
}
