package provider

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// StreamAssembler accumulates an incremental provider event stream into a
// complete ChatResponse while forwarding callbacks in real time.
//
// It is a two-state machine: Active while chunks arrive, Finalized once the
// read loop completes or aborts. All methods must be called from the single
// goroutine that owns the stream read loop; the assembler never blocks the
// producer.
type StreamAssembler struct {
	handlers StreamHandlers

	content   strings.Builder
	reasoning strings.Builder

	fragments []models.ReasoningFragment

	toolCalls map[int]*models.ToolCall
	toolOrder []int
	finalized bool
	finalResp *ChatResponse
}

// NewStreamAssembler creates an assembler forwarding callbacks to handlers.
func NewStreamAssembler(handlers StreamHandlers) *StreamAssembler {
	return &StreamAssembler{
		handlers:  handlers,
		toolCalls: make(map[int]*models.ToolCall),
	}
}

// AddContent appends a content delta and forwards it via OnToken.
func (a *StreamAssembler) AddContent(text string) {
	if a.finalized || text == "" {
		return
	}
	a.content.WriteString(text)
	if a.handlers.OnToken != nil {
		a.handlers.OnToken(text)
	}
}

// AddReasoning merges a reasoning delta. Fragments sharing an ID or Index
// with an existing fragment are continuations: their text is concatenated.
// Both the raw delta and the merged fragment array are forwarded.
func (a *StreamAssembler) AddReasoning(delta models.ReasoningFragment) {
	if a.finalized {
		return
	}
	if delta.Text != "" {
		a.reasoning.WriteString(delta.Text)
	}

	merged := false
	for i := range a.fragments {
		if (delta.ID != "" && a.fragments[i].ID == delta.ID) ||
			(delta.ID == "" && a.fragments[i].Index == delta.Index) {
			a.fragments[i].Text += delta.Text
			if delta.Type != "" {
				a.fragments[i].Type = delta.Type
			}
			if delta.Format != "" {
				a.fragments[i].Format = delta.Format
			}
			merged = true
			break
		}
	}
	if !merged {
		a.fragments = append(a.fragments, delta)
	}

	if a.handlers.OnReasoning != nil && delta.Text != "" {
		a.handlers.OnReasoning(delta.Text)
	}
	if a.handlers.OnReasoningDetails != nil {
		a.handlers.OnReasoningDetails(a.Fragments())
	}
}

// AddToolCallDelta merges a tool-call delta by index. The first delta bearing
// an index creates the entry; later deltas append to the function name and
// raw arguments, which providers may stream in fragments.
func (a *StreamAssembler) AddToolCallDelta(index int, id, name, arguments string) {
	if a.finalized {
		return
	}
	tc, ok := a.toolCalls[index]
	if !ok {
		tc = &models.ToolCall{}
		a.toolCalls[index] = tc
		a.toolOrder = append(a.toolOrder, index)
	}
	if id != "" {
		tc.ID = id
	}
	tc.Name += name
	tc.Arguments += arguments

	if a.handlers.OnToolCalls != nil {
		a.handlers.OnToolCalls(a.assembledToolCalls())
	}
}

// Fragments returns a copy of the merged reasoning fragments.
func (a *StreamAssembler) Fragments() []models.ReasoningFragment {
	out := make([]models.ReasoningFragment, len(a.fragments))
	copy(out, a.fragments)
	return out
}

func (a *StreamAssembler) assembledToolCalls() []models.ToolCall {
	indexes := make([]int, len(a.toolOrder))
	copy(indexes, a.toolOrder)
	sort.Ints(indexes)

	calls := make([]models.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		calls = append(calls, *a.toolCalls[idx])
	}
	return calls
}

// Finalize transitions to the Finalized state and returns the assembled
// response. Tool calls that never materialized a function name are discarded.
// If no native tool calls were assembled and the accumulated content carries
// the inline fallback dialect, the fallback parser is applied once and the
// matched markers are stripped from the final content. Finalize is idempotent.
func (a *StreamAssembler) Finalize() *ChatResponse {
	if a.finalized {
		return a.finalResp
	}
	a.finalized = true

	content := a.content.String()

	var calls []models.ToolCall
	for _, tc := range a.assembledToolCalls() {
		if strings.TrimSpace(tc.Name) == "" {
			continue
		}
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		calls = append(calls, tc)
	}

	if len(calls) == 0 && HasInlineToolCalls(content) {
		calls, content = ParseInlineToolCalls(content)
	}

	a.finalResp = &ChatResponse{
		Content:          content,
		ToolCalls:        calls,
		Reasoning:        a.reasoning.String(),
		ReasoningDetails: a.Fragments(),
	}
	return a.finalResp
}
