// Package models defines the shared types exchanged between the agent
// orchestrator, provider adapters, and tool executors.
package models

import (
	"encoding/json"
	"strings"
)

// Role indicates the transcript entry author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one segment of a multimodal message body.
// Type is "text" or "image_url".
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// ImageRef references image content by URL or data URL.
type ImageRef struct {
	URL string `json:"url"`
}

// Message is a single transcript entry. The orchestrator appends messages in
// strict chronological order and never mutates them afterwards, with one
// exception: the most recent assistant message's content may be edited in
// place to splice in a turn-opening acknowledgment before tool calls.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// Parts carries structured multimodal content. When non-empty it takes
	// precedence over Content on the wire; Content remains the flattened
	// text form used for display and logging.
	Parts []ContentPart `json:"parts,omitempty"`

	// ToolCalls is set only on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID back-references the originating call on tool-result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName names the tool that produced a tool-result message.
	ToolName string `json:"tool_name,omitempty"`

	// ReasoningDetails is an opaque reasoning trace that must be replayed
	// verbatim on the next provider call. Never parsed, never trimmed.
	ReasoningDetails []ReasoningFragment `json:"reasoning_details,omitempty"`
}

// DisplayText flattens a message body to plain text for logging and
// non-multimodal consumers. Image parts are reduced to a short marker.
func (m *Message) DisplayText() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, part := range m.Parts {
		switch part.Type {
		case "text":
			b.WriteString(part.Text)
		case "image_url":
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString("[image]")
		}
	}
	return b.String()
}

// ToolCall identifies a single requested tool invocation.
type ToolCall struct {
	// ID is provider-assigned, or synthesized when the provider omits it.
	// Unique within a turn.
	ID string `json:"id"`

	// Name is the function name the model asked for.
	Name string `json:"name"`

	// Arguments is the raw argument string. It is expected to parse as a
	// JSON object but may be malformed; consumers must handle that.
	Arguments string `json:"arguments"`
}

// ReasoningFragment is one entry of an opaque reasoning trace. Fragments with
// the same ID or Index across stream chunks are continuations: their Text is
// concatenated, never replaced.
type ReasoningFragment struct {
	ID     string `json:"id,omitempty"`
	Index  int    `json:"index"`
	Type   string `json:"type,omitempty"`
	Format string `json:"format,omitempty"`
	Text   string `json:"text,omitempty"`
}

// ToolDefinition describes a callable tool in the object-schema form consumed
// by provider adapters. Immutable once returned from discovery.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolOrigin classifies where a tool is executed.
type ToolOrigin string

const (
	// OriginBaseline tools are built into the host and always available.
	OriginBaseline ToolOrigin = "baseline"

	// OriginPanel tools are available only while a specific UI panel is active.
	OriginPanel ToolOrigin = "panel"

	// OriginMCP tools are provided by an external tool-server process.
	OriginMCP ToolOrigin = "mcp"
)

// ToolExecutionResult is the uniform outcome shape produced exactly once per
// tool call. The core never retries automatically.
type ToolExecutionResult struct {
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ExecutedToolCall summarizes one dispatched tool call for the run result.
type ExecutedToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    any    `json:"result,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}
