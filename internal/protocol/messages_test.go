package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(MsgRunToolCall, "run-1", RunToolCallPayload{
		ToolName:    "assign_task",
		Arguments:   map[string]any{"task_id": "TASK-001"},
		ReturnValue: "assigned",
	})
	if err != nil {
		t.Fatalf("creating envelope: %v", err)
	}
	if env.ID == "" {
		t.Error("expected a generated message ID")
	}
	if env.RunID != "run-1" {
		t.Errorf("run ID = %q, want run-1", env.RunID)
	}
	if env.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshaling envelope: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
	if decoded.Type != MsgRunToolCall {
		t.Errorf("type = %q, want %q", decoded.Type, MsgRunToolCall)
	}

	var payload RunToolCallPayload
	if err := decoded.Decode(&payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.ToolName != "assign_task" {
		t.Errorf("tool name = %q, want assign_task", payload.ToolName)
	}
	if payload.Arguments["task_id"] != "TASK-001" {
		t.Errorf("arguments = %v, want task_id TASK-001", payload.Arguments)
	}
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := NewEnvelope(MsgPing, "", nil)
	if err != nil {
		t.Fatalf("creating ping envelope: %v", err)
	}
	if env.Payload != nil {
		t.Errorf("payload = %s, want none", env.Payload)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshaling envelope: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
	if _, present := m["payload"]; present {
		t.Error("empty payload should be omitted from the wire format")
	}
	if _, present := m["run_id"]; present {
		t.Error("empty run ID should be omitted from the wire format")
	}
}
