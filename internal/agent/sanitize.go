package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// sanitizeModelText cleans the model's closing prose before it reaches
// the user: reasoning tags, hallucinated tool-call artifacts and
// repeated paragraphs occasionally leak into final text. An empty
// return means the text was all artifact and the caller should fall
// back.
func sanitizeModelText(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripToolCallXML(content)
	if content == "" {
		return ""
	}
	content = stripToolCallText(content)
	content = stripThinkingTags(content)
	content = collapseDuplicateBlocks(content)
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized model text",
			"original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

// toolCallXMLIndicators mark responses where the model emitted a tool
// call as literal XML text instead of a structured call. The payload
// is request plumbing, not an answer, so the whole response is
// suppressed.
var toolCallXMLIndicators = []string{
	"<tool_call",
	"<tool_use",
	"<function_call",
	"<invoke",
	"<parameter name=",
	"</parameter",
}

func stripToolCallXML(content string) string {
	lower := strings.ToLower(content)
	for _, ind := range toolCallXMLIndicators {
		if strings.Contains(lower, ind) {
			slog.Warn("suppressed garbled tool call text", "len", len(content))
			return ""
		}
	}
	return content
}

// stripToolCallText removes "[Tool Call: ...]" and "[Tool Result ...]"
// blocks, including their indented argument lines, that some models
// echo into prose.
func stripToolCallText(content string) string {
	if !strings.Contains(content, "[Tool Call:") && !strings.Contains(content, "[Tool Result") {
		return content
	}

	lines := strings.Split(content, "\n")
	var kept []string
	skipping := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "[Tool Call:") || strings.HasPrefix(trimmed, "[Tool Result") {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "" || strings.HasPrefix(trimmed, "Arguments:") ||
				strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "}") {
				continue
			}
			skipping = false
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

// collapseDuplicateBlocks drops a paragraph that repeats the one
// before it.
func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}

	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(kept) > 0 && trimmed == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, block)
	}
	return strings.Join(kept, "\n\n")
}
