package usecase

import (
	"sort"
	"strings"

	"helpdesk-agent/internal/domain"
)

const (
	summarizedTurnCount = 5
	turnSummaryRunes    = 200
)

// buildMemoryContext renders recent turns and stored preferences as a single
// advisory context block. It summarizes at most the last summarizedTurnCount
// turns, each truncated to turnSummaryRunes characters, followed by
// preferences as key: value lines. Returns "" when there is nothing to say.
func buildMemoryContext(turns []domain.Turn, prefs map[string]string) string {
	if len(turns) == 0 && len(prefs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Context from this user's previous conversation turns:")

	recent := turns
	if len(recent) > summarizedTurnCount {
		recent = recent[len(recent)-summarizedTurnCount:]
	}
	for _, t := range recent {
		b.WriteString("\n")
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(truncateRunes(t.Content, turnSummaryRunes))
	}

	if len(prefs) > 0 {
		b.WriteString("\n\nUser preferences:")
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("\n")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(prefs[k])
		}
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// extractPreference detects explicit preference statements in a query.
// Supported forms: "my preferred <key> is <value>" and "i prefer <value>"
// (the latter stored under the generic key "preference"). Values end at the
// first sentence boundary.
func extractPreference(query string) (key, value string, ok bool) {
	q := strings.ToLower(strings.TrimSpace(query))

	if idx := strings.Index(q, "my preferred "); idx >= 0 {
		rest := q[idx+len("my preferred "):]
		if isIdx := strings.Index(rest, " is "); isIdx > 0 {
			key = strings.TrimSpace(rest[:isIdx])
			value = trimSentence(rest[isIdx+len(" is "):])
			if key != "" && value != "" {
				return key, value, true
			}
		}
	}

	if idx := strings.Index(q, "i prefer "); idx >= 0 {
		value = trimSentence(q[idx+len("i prefer "):])
		if value != "" {
			return "preference", value, true
		}
	}

	return "", "", false
}

func trimSentence(s string) string {
	if cut := strings.IndexAny(s, ".!?\n"); cut >= 0 {
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}
