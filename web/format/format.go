package format

import (
	"fmt"
	"regexp"
	"strings"

	"sensor-agent/team"

	"github.com/gomarkdown/markdown"
)

// Line renders a stream event in the transcript contract: speaker-prefixed
// turns and a final stopping-reason line.
func Line(ev team.Event) string {
	return ev.String()
}

// SpeakerLabel returns the display label for a transcript line, or empty for
// lines without a recognized speaker prefix.
func SpeakerLabel(line string) string {
	for _, speaker := range []string{team.DeveloperName, team.ExecutorName} {
		if strings.HasPrefix(line, speaker+": ") {
			return speaker
		}
	}
	if strings.HasPrefix(line, "Stopping reason: ") {
		return "system"
	}
	return ""
}

// RenderHTML converts an assistant message to HTML for the chat transcript.
func RenderHTML(content string) string {
	content = PreprocessAssistantText(content)
	content = normalizeMarkdownLists(content)
	return string(markdown.ToHTML([]byte(content), nil, nil))
}

// PreprocessAssistantText normalizes LLM output before rendering.
func PreprocessAssistantText(text string) string {
	if text == "" {
		return text
	}
	return strings.NewReplacer(
		"“", "\"",
		"”", "\"",
		"‘", "'",
		"’", "'",
	).Replace(text)
}

var listItemPattern = regexp.MustCompile(`^(-|\*|\+|\d+\.)\s`)

// normalizeMarkdownLists inserts the blank line markdown requires before a
// list when the LLM runs a list directly after a text line.
func normalizeMarkdownLists(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if listItemPattern.MatchString(trimmed) && i > 0 {
			prev := strings.TrimSpace(lines[i-1])
			if prev != "" && !listItemPattern.MatchString(prev) {
				result = append(result, "")
			}
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

// ReportLink renders the chat message offering a finished report download.
func ReportLink(columns []string) string {
	return fmt.Sprintf("Your report covering %s is ready: [download sensor_report.pdf](/report)",
		strings.Join(columns, ", "))
}

// ArtifactLink renders the chat message pointing at the promoted plot.
func ArtifactLink(name string) string {
	return fmt.Sprintf("![%s](/artifacts/%s)", name, name)
}
