package agent

import (
	"strings"
	"testing"
)

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{raw: "", want: map[string]any{}},
		{raw: "   ", want: map[string]any{}},
		{raw: "{}", want: map[string]any{}},
		{raw: " {} ", want: map[string]any{}},
		{raw: `{"a":1,"b":"x"}`, want: map[string]any{"a": float64(1), "b": "x"}},
		{raw: "null", want: map[string]any{}},
		{raw: "{not json", wantErr: true},
		{raw: `["array"]`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseToolArguments(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseToolArguments(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseToolArguments(%q): %v", tt.raw, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseToolArguments(%q) = %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for key, want := range tt.want {
			if got[key] != want {
				t.Errorf("parseToolArguments(%q)[%s] = %v, want %v", tt.raw, key, got[key], want)
			}
		}
	}
}

func TestParseToolArgumentsErrorTruncatesRaw(t *testing.T) {
	raw := "{" + strings.Repeat("x", 500)
	_, err := parseToolArguments(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > 300 {
		t.Errorf("error message too long: %d chars", len(err.Error()))
	}
}

func TestUnescapeContentArguments(t *testing.T) {
	args := map[string]any{
		"content":   "if (a &lt; b &amp;&amp; c &gt; d) { s = &quot;hi&quot;; }",
		"file_path": "/tmp/a&lt;b.go",
		"count":     float64(3),
	}
	unescapeContentArguments("editor_set_content", args)

	if got := args["content"]; got != `if (a < b && c > d) { s = "hi"; }` {
		t.Errorf("content = %q", got)
	}
	// Only the designated content fields are touched.
	if got := args["file_path"]; got != "/tmp/a&lt;b.go" {
		t.Errorf("file_path = %q", got)
	}
	if args["count"] != float64(3) {
		t.Errorf("count = %v", args["count"])
	}
}

func TestUnescapeSinglePass(t *testing.T) {
	// A literal "&amp;lt;" was a single level of encoding over "&lt;"; it
	// must not collapse all the way to "<".
	args := map[string]any{"text": "&amp;lt;tag&amp;gt; and &#39;quote&#x27;"}
	unescapeContentArguments("editor_insert_text", args)
	if got := args["text"]; got != "&lt;tag&gt; and 'quote'" {
		t.Errorf("text = %q", got)
	}
}

func TestUnescapeSkipsOtherTools(t *testing.T) {
	args := map[string]any{"content": "a &lt; b"}
	unescapeContentArguments("ui_click", args)
	if got := args["content"]; got != "a &lt; b" {
		t.Errorf("non-content tool was unescaped: %q", got)
	}
}
