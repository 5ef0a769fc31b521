// Package protocol defines the run event messages streamed to WebSocket and
// SSE subscribers. All events are JSON-encoded and wrapped in an Envelope
// for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of event in the run stream.
type MessageType string

const (
	// MsgRunStarted is emitted when a run enters the planning state.
	MsgRunStarted MessageType = "run.started"
	// MsgRunPlanned is emitted when the planner has produced a script.
	MsgRunPlanned MessageType = "run.planned"
	// MsgRunScriptValid is emitted when the script passed validation and
	// execution is about to begin.
	MsgRunScriptValid MessageType = "run.script_valid"
	// MsgRunToolCall is emitted for every committed tool call.
	MsgRunToolCall MessageType = "run.tool_call"
	// MsgRunCompleted is emitted when a run reaches the succeeded state.
	MsgRunCompleted MessageType = "run.completed"
	// MsgRunFailed is emitted when a run reaches the failed state.
	MsgRunFailed MessageType = "run.failed"
	// MsgPing is a keepalive sent to idle subscribers.
	MsgPing MessageType = "ping"
)

// Envelope is the top-level wrapper for every event on the stream.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"` // Message ID for correlation and deduplication.
	RunID     string          `json:"run_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, runID string, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		RunID:     runID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// --- Event payloads ---

// RunStartedPayload accompanies MsgRunStarted.
type RunStartedPayload struct {
	Feature  string `json:"feature"`
	Caller   string `json:"caller,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// RunPlannedPayload accompanies MsgRunPlanned.
type RunPlannedPayload struct {
	Script     string `json:"script"`
	Provider   string `json:"provider"`
	PlanningMS int64  `json:"planning_ms"`
}

// ScriptValidPayload accompanies MsgRunScriptValid.
type ScriptValidPayload struct {
	ScriptBytes int `json:"script_bytes"`
}

// RunToolCallPayload accompanies MsgRunToolCall. It mirrors the committed
// tool-call record: arguments and return value as passed through the runtime.
type RunToolCallPayload struct {
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	ReturnValue any            `json:"return_value"`
	Timestamp   time.Time      `json:"timestamp"`
}

// RunCompletedPayload accompanies MsgRunCompleted.
type RunCompletedPayload struct {
	ToolCalls       int   `json:"tool_calls"`
	ExecutionTimeMS int64 `json:"execution_time_ms"`
	Result          any   `json:"result,omitempty"`
}

// RunFailedPayload accompanies MsgRunFailed.
type RunFailedPayload struct {
	Stage  string   `json:"stage"` // "planning" or "executing"
	Errors []string `json:"errors,omitempty"`
}
