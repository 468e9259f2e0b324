package agent

import (
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/tools"
)

// imagePayloadThreshold is the minimum length at which an embedded data-image
// string is replaced before re-entering the model's context. Small data URLs
// (icons, test fixtures) pass through untouched.
const imagePayloadThreshold = 1024

// imagePayloadKeys are the result fields that commonly carry screenshots or
// embedded images.
var imagePayloadKeys = map[string]bool{
	"url":        true,
	"image":      true,
	"data":       true,
	"screenshot": true,
	"dataUrl":    true,
}

// screenshotMetadataKeys is the allow-list for the bespoke screenshot result
// shape. Everything else, most importantly the image payload, is dropped.
var screenshotMetadataKeys = []string{"width", "height", "format", "page_url", "title", "timestamp"}

// sanitizeToolResult returns the transcript-bound copy of a tool result.
// Large embedded image payloads are replaced by a short placeholder while all
// other fields are preserved; the screenshot tool gets an explicit
// metadata-only shape. The input is never mutated: the unsanitized original
// still goes to observer callbacks.
func sanitizeToolResult(toolName string, result any) any {
	if result == nil {
		return nil
	}
	if toolName == tools.ScreenshotTool {
		return sanitizeScreenshot(result)
	}
	return sanitizeValue(result)
}

func sanitizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			if s, ok := inner.(string); ok && imagePayloadKeys[key] && isLargeImagePayload(s) {
				out[key] = imagePlaceholder(s)
				continue
			}
			out[key] = sanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = sanitizeValue(inner)
		}
		return out
	default:
		return value
	}
}

func sanitizeScreenshot(result any) any {
	out := map[string]any{
		"note": "Screenshot captured and shown to the user.",
	}
	m, ok := result.(map[string]any)
	if !ok {
		return out
	}
	for _, key := range screenshotMetadataKeys {
		if value, present := m[key]; present {
			out[key] = value
		}
	}
	if success, present := m["success"]; present {
		out["success"] = success
	}
	return out
}

func isLargeImagePayload(s string) bool {
	return len(s) > imagePayloadThreshold && strings.HasPrefix(s, "data:image")
}

func imagePlaceholder(s string) string {
	return fmt.Sprintf("[image data omitted: %d chars]", len(s))
}
