package prompts

import (
	"strings"
)

// ExtractSQL pulls the SQL statement out of a model reply. Models often
// wrap SQL in markdown fences or prepend chatter despite instructions.
func ExtractSQL(reply string) string {
	reply = strings.TrimSpace(reply)

	// Prefer a fenced block when present.
	if idx := strings.Index(reply, "```"); idx != -1 {
		rest := reply[idx+3:]
		// Skip a language tag like "sql" on the fence line.
		if nl := strings.Index(rest, "\n"); nl != -1 {
			tag := strings.TrimSpace(rest[:nl])
			if len(tag) <= 10 && !strings.ContainsAny(tag, " \t") {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end != -1 {
			rest = rest[:end]
		}
		reply = strings.TrimSpace(rest)
	}

	// Drop leading chatter: keep everything from the first line that
	// starts a SELECT or WITH.
	lines := strings.Split(reply, "\n")
	for i, line := range lines {
		head := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(head, "select") || strings.HasPrefix(head, "with") {
			return strings.TrimSpace(strings.Join(lines[i:], "\n"))
		}
	}

	return strings.TrimSpace(reply)
}
