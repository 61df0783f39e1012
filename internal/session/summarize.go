package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Summarize is the deterministic, rule-based compactor spec §4.5/§9
// requires in place of a model call: identical (prevSummary, userText,
// assistantText, turnCount) always produces the identical string.
//
// Rules: each completed turn contributes one bullet line built from the
// first line of its user and assistant text, truncated to a fixed width.
// The bullet list keeps only the most recent maxRecentBullets entries
// verbatim; everything older collapses into a single "N earlier turn(s)
// omitted" count line, keeping the summary bounded regardless of how long
// the conversation runs.
func Summarize(prevSummary, userText, assistantText string, turnCount int) string {
	bullets, omitted := parseBullets(prevSummary)
	bullets = append(bullets, formatBullet(turnCount, userText, assistantText))

	if len(bullets) > maxRecentBullets {
		overflow := len(bullets) - maxRecentBullets
		omitted += overflow
		bullets = bullets[overflow:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session summary (%d turn(s) total)", turnCount)
	if omitted > 0 {
		fmt.Fprintf(&b, ", %d earlier turn(s) omitted", omitted)
	}
	b.WriteString(":\n")
	for _, line := range bullets {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

const (
	maxRecentBullets = 5
	maxFieldChars    = 80
)

// formatBullet renders one fixed-template bullet line for a turn, truncating
// the user/assistant text to the first line and a fixed width.
func formatBullet(turnNumber int, userText, assistantText string) string {
	u := truncate(firstLine(userText), maxFieldChars)
	a := truncate(firstLine(assistantText), maxFieldChars)
	return fmt.Sprintf("- turn %d: %s -> %s", turnNumber, u, a)
}

// parseBullets recovers the bullet lines and the running omitted-count from
// a previously produced summary, so each call only has to reason about
// appending one new bullet rather than re-deriving history.
func parseBullets(summary string) (bullets []string, omitted int) {
	if summary == "" {
		return nil, 0
	}
	for _, line := range strings.Split(summary, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "- turn "):
			bullets = append(bullets, trimmed)
		case strings.HasPrefix(trimmed, "Session summary"):
			if n, ok := parseOmittedCount(trimmed); ok {
				omitted = n
			}
		}
	}
	return bullets, omitted
}

func parseOmittedCount(header string) (int, bool) {
	idx := strings.Index(header, ", ")
	if idx == -1 {
		return 0, false
	}
	rest := header[idx+2:]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
