package models

import (
	"encoding/json"
	"testing"
)

func TestDisplayTextPlainContent(t *testing.T) {
	msg := &Message{Role: RoleUser, Content: "hello"}
	if got := msg.DisplayText(); got != "hello" {
		t.Errorf("DisplayText() = %q, want %q", got, "hello")
	}
}

func TestDisplayTextFlattensParts(t *testing.T) {
	msg := &Message{
		Role: RoleUser,
		Parts: []ContentPart{
			{Type: "text", Text: "look at this"},
			{Type: "image_url", ImageURL: &ImageRef{URL: "data:image/png;base64,AAAA"}},
		},
	}
	if got := msg.DisplayText(); got != "look at this [image]" {
		t.Errorf("DisplayText() = %q", got)
	}
}

func TestMessageRoundTripKeepsReasoningDetails(t *testing.T) {
	msg := Message{
		Role:    RoleAssistant,
		Content: "done",
		ReasoningDetails: []ReasoningFragment{
			{ID: "r1", Index: 0, Type: "reasoning.text", Text: "thinking"},
		},
		ToolCalls: []ToolCall{{ID: "call_1", Name: "get_time", Arguments: "{}"}},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(decoded.ReasoningDetails) != 1 || decoded.ReasoningDetails[0].Text != "thinking" {
		t.Errorf("reasoning details lost in round trip: %+v", decoded.ReasoningDetails)
	}
	if len(decoded.ToolCalls) != 1 || decoded.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool calls lost in round trip: %+v", decoded.ToolCalls)
	}
}
