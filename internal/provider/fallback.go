package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// Some models ignore native function calling and emit invocation blocks
// inline in the content stream instead:
//
//	<tool_use>
//	  <tool_name>open_panel</tool_name>
//	  <parameters>
//	    <panel>editor</panel>
//	    <line>42</line>
//	  </parameters>
//	</tool_use>
//
// ParseInlineToolCalls is the compatibility shim for that dialect. It is a
// pure function applied identically in streaming and non-streaming modes,
// and only when no native tool calls were returned.
var (
	inlineToolCallRe = regexp.MustCompile(`(?s)<tool_use>\s*(.*?)\s*</tool_use>`)
	inlineToolNameRe = regexp.MustCompile(`(?s)<tool_name>\s*(.*?)\s*</tool_name>`)
	inlineParamsRe   = regexp.MustCompile(`(?s)<parameters>\s*(.*?)\s*</parameters>`)
	inlineParamTagRe = regexp.MustCompile(`(?s)<([A-Za-z_][A-Za-z0-9_]*)>(.*?)</([A-Za-z_][A-Za-z0-9_]*)>`)
)

// HasInlineToolCalls reports whether content contains the inline dialect.
func HasInlineToolCalls(content string) bool {
	return inlineToolCallRe.MatchString(content)
}

// ParseInlineToolCalls extracts inline tool-call blocks from content,
// synthesizing call IDs, and returns the calls together with the content
// stripped of the matched markers.
func ParseInlineToolCalls(content string) ([]models.ToolCall, string) {
	matches := inlineToolCallRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, content
	}

	var calls []models.ToolCall
	for _, match := range matches {
		block := match[1]

		nameMatch := inlineToolNameRe.FindStringSubmatch(block)
		if nameMatch == nil {
			continue
		}
		name := strings.TrimSpace(nameMatch[1])
		if name == "" {
			continue
		}

		args := map[string]any{}
		if paramsMatch := inlineParamsRe.FindStringSubmatch(block); paramsMatch != nil {
			for _, tag := range inlineParamTagRe.FindAllStringSubmatch(paramsMatch[1], -1) {
				if tag[1] != tag[3] {
					continue
				}
				args[tag[1]] = decodeParamValue(strings.TrimSpace(tag[2]))
			}
		}

		raw, err := json.Marshal(args)
		if err != nil {
			raw = []byte("{}")
		}
		calls = append(calls, models.ToolCall{
			ID:        "inline_" + uuid.NewString(),
			Name:      name,
			Arguments: string(raw),
		})
	}

	stripped := strings.TrimSpace(inlineToolCallRe.ReplaceAllString(content, ""))
	return calls, stripped
}

// decodeParamValue attempts a JSON decode of the parameter value so numbers,
// booleans, arrays, and objects keep their types; anything that does not
// parse stays a raw string.
func decodeParamValue(value string) any {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		return decoded
	}
	return value
}
