package session

import "strings"

const untitled = "New chat"

// generateTitle derives an archive title from the first message of a
// session: its first line, cut at a word boundary after 60 runes.
func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return untitled
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	runes := []rune(msg)
	if len(runes) > 60 {
		head := runes[:60]
		cut := 60
		for i := len(head) - 1; i >= 20; i-- {
			if head[i] == ' ' {
				cut = i
				break
			}
		}
		msg = string(runes[:cut]) + "..."
	}
	return msg
}
