package agent

import (
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// ambientContentCap bounds the file-content excerpt injected into the last
// user message. Beyond it the excerpt is cut and marked.
const ambientContentCap = 50000

const ambientTruncationMarker = "\n...[content truncated]"

// richContextPanel is the one surface whose live state is injected into the
// transcript. Other panels expose tools but no ambient block.
const richContextPanel = "editor"

// buildTranscript assembles the initial message list: optional system prompt,
// then the caller's history with the ambient block prepended to the last user
// message. History messages are copied; the caller's slice is never mutated.
func (r *Runner) buildTranscript(history []models.Message, panelID, userID string) []models.Message {
	transcript := make([]models.Message, 0, len(history)+1)

	if r.prompts != nil {
		if prompt := r.prompts.SystemPrompt(userID); prompt != "" {
			transcript = append(transcript, models.Message{Role: models.RoleSystem, Content: prompt})
		} else {
			r.logger.Debug("no system prompt for user, proceeding without", "user_id", userID)
		}
	}

	transcript = append(transcript, history...)

	if block := r.ambientBlock(panelID); block != "" {
		for i := len(transcript) - 1; i >= 0; i-- {
			if transcript[i].Role != models.RoleUser {
				continue
			}
			msg := transcript[i]
			msg.Content = block + "\n\n" + msg.Content
			transcript[i] = msg
			break
		}
	}

	return transcript
}

// ambientBlock renders the live editor state for the rich-context panel.
// Empty when that panel is not active or publishes no context.
func (r *Runner) ambientBlock(panelID string) string {
	if panelID != richContextPanel || r.panels == nil {
		return ""
	}
	ambient, ok := r.panels.AmbientContext(panelID)
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString("[Active editor context]\n")
	if ambient.FilePath != "" {
		fmt.Fprintf(&b, "File: %s\n", ambient.FilePath)
	}
	if ambient.WorkspaceRoot != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", ambient.WorkspaceRoot)
	}
	if ambient.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", ambient.Language)
	}
	if ambient.Dirty {
		b.WriteString("Status: unsaved changes\n")
	} else {
		b.WriteString("Status: saved\n")
	}
	if ambient.Mode != "" {
		fmt.Fprintf(&b, "Mode: %s\n", ambient.Mode)
	}
	if ambient.Content != "" {
		content := ambient.Content
		if len(content) > ambientContentCap {
			content = content[:ambientContentCap] + ambientTruncationMarker
		}
		fmt.Fprintf(&b, "Content:\n%s\n", content)
	}

	if r.prompts != nil {
		if notes := r.prompts.Notes(panelID); len(notes) > 0 {
			b.WriteString("Notes from previous sessions:\n")
			for _, note := range notes {
				fmt.Fprintf(&b, "- %s\n", note)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
