package agent

import (
	"strings"
	"testing"

	"github.com/strandlabs/strand/internal/tools"
)

func TestSanitizeReplacesLargeImagePayloads(t *testing.T) {
	big := "data:image/png;base64," + strings.Repeat("A", 2000)
	result := map[string]any{
		"url":    big,
		"width":  10,
		"height": 20,
		"nested": map[string]any{"screenshot": big, "label": "page"},
		"items":  []any{map[string]any{"image": big}},
	}

	sanitized, ok := sanitizeToolResult("fetch_page", result).(map[string]any)
	if !ok {
		t.Fatal("sanitized result is not a map")
	}

	wantPlaceholder := "[image data omitted: 2022 chars]"
	if sanitized["url"] != wantPlaceholder {
		t.Errorf("url = %v", sanitized["url"])
	}
	if sanitized["width"] != 10 || sanitized["height"] != 20 {
		t.Errorf("metadata altered: %v", sanitized)
	}
	nested := sanitized["nested"].(map[string]any)
	if nested["screenshot"] != wantPlaceholder || nested["label"] != "page" {
		t.Errorf("nested = %v", nested)
	}
	item := sanitized["items"].([]any)[0].(map[string]any)
	if item["image"] != wantPlaceholder {
		t.Errorf("items = %v", item)
	}

	// Original untouched: callbacks receive it as-is.
	if result["url"] != big {
		t.Error("input map was mutated")
	}
}

func TestSanitizeLeavesSmallAndNonImageStrings(t *testing.T) {
	result := map[string]any{
		"url":  "data:image/png;base64,AAAA",
		"data": strings.Repeat("x", 5000),
	}
	sanitized := sanitizeToolResult("fetch_page", result).(map[string]any)
	if sanitized["url"] != "data:image/png;base64,AAAA" {
		t.Errorf("small data URL replaced: %v", sanitized["url"])
	}
	if sanitized["data"] != result["data"] {
		t.Errorf("non-image string replaced")
	}
}

func TestSanitizeScreenshotShape(t *testing.T) {
	big := "data:image/png;base64," + strings.Repeat("B", 4000)
	result := map[string]any{
		"screenshot": big,
		"width":      1280,
		"height":     720,
		"page_url":   "https://example.com",
		"internal":   "scratch",
		"success":    true,
	}

	sanitized := sanitizeToolResult(tools.ScreenshotTool, result).(map[string]any)
	if _, present := sanitized["screenshot"]; present {
		t.Error("screenshot payload survived")
	}
	if _, present := sanitized["internal"]; present {
		t.Error("non-allow-listed field survived")
	}
	if sanitized["width"] != 1280 || sanitized["page_url"] != "https://example.com" {
		t.Errorf("metadata missing: %v", sanitized)
	}
	if sanitized["success"] != true {
		t.Errorf("success flag missing: %v", sanitized)
	}
	note, _ := sanitized["note"].(string)
	if !strings.Contains(note, "shown to the user") {
		t.Errorf("note = %q", note)
	}
}

func TestSanitizeNil(t *testing.T) {
	if got := sanitizeToolResult("fetch_page", nil); got != nil {
		t.Errorf("sanitize(nil) = %v", got)
	}
}
