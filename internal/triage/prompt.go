package triage

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	promptVersion = "triage-v1"
	outputVersion = "triage_v1"
	// Longer reports are cut before prompting.
	maxPromptChars = 8000
)

// Reasons are the report categories a classification may return.
var Reasons = []string{"SPAM", "INAPPROPRIATE", "COPYRIGHT", "HARASSMENT", "OTHER"}

var reasonDescriptions = map[string]string{
	"SPAM":          "Unsolicited advertising, scams, link farms or repetitive bulk content.",
	"INAPPROPRIATE": "Sexual, graphic or otherwise unsuitable material for a general audience.",
	"COPYRIGHT":     "Content reproduced without permission from its rights holder.",
	"HARASSMENT":    "Content targeting a person or group with abuse, threats or intimidation.",
	"OTHER":         "A legitimate report that fits none of the categories above.",
}

func buildSystemPrompt() string {
	return strings.Join([]string{
		"You triage user-submitted moderation reports.",
		"Read the reported content and choose the single category that best describes why it was reported.",
		"Return ONLY valid JSON matching the response schema. Do not add prose or markdown.",
		"Never guess at the identity of the reporter or of any person named in the content.",
	}, "\n")
}

func buildUserPrompt(text string, tags []string) string {
	var buf bytes.Buffer
	buf.WriteString("Respond with JSON of the form ")
	buf.WriteString(fmt.Sprintf(`{"triage_version":"%s","reason":"<category>","confidence":<0..1>,"summary":"<one sentence>"}`, outputVersion))
	buf.WriteString("\nCategories:\n")
	for _, r := range Reasons {
		buf.WriteString(fmt.Sprintf("- %s: %s\n", r, reasonDescriptions[r]))
	}
	if len(tags) > 0 {
		buf.WriteString("Reporter tags: ")
		buf.WriteString(strings.Join(tags, ", "))
		buf.WriteString("\n")
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	buf.WriteString("Reported content:\n")
	buf.WriteString(text)
	return buf.String()
}

func responseSchema() map[string]any {
	reasons := make([]any, len(Reasons))
	for i, r := range Reasons {
		reasons[i] = r
	}
	return map[string]any{
		"type":     "object",
		"required": []any{"triage_version", "reason", "confidence"},
		"properties": map[string]any{
			"triage_version": map[string]any{
				"type": "string",
				"enum": []any{outputVersion},
			},
			"reason": map[string]any{
				"type": "string",
				"enum": reasons,
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"summary": map[string]any{
				"type": "string",
			},
		},
		"additionalProperties": false,
	}
}
