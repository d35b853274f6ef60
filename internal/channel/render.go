package channel

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tiaapa/internal/domain"
)

// formatContent renders a message body for the terminal. Structured answers
// become one labeled line per field, with the label drawn in keyStyle.
func formatContent(c domain.Content, keyStyle lipgloss.Style) string {
	switch v := c.(type) {
	case nil:
		return ""
	case domain.TextContent:
		return string(v)
	case domain.StructuredContent:
		lines := make([]string, 0, len(v))
		for _, f := range v {
			lines = append(lines, keyStyle.Render(f.Key+":")+" "+f.Value)
		}
		return strings.Join(lines, "\n")
	default:
		return c.Plain()
	}
}

// statusMark is appended to user messages that are not yet delivered.
func statusMark(s domain.MessageStatus) string {
	switch s {
	case domain.StatusPending:
		return " …"
	case domain.StatusFailed:
		return " ✗"
	default:
		return ""
	}
}
