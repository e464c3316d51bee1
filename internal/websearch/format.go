package websearch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the character budget for a formatted result block.
const DefaultMaxChars = 3000

const separator = "\n\n---\n\n"

// FormatForModel concatenates results into a prompt context block, greedily
// including whole entries in input order while the running total stays within
// maxChars. If the very first entry alone exceeds the budget its content is
// truncated to fit and packing stops. When a later entry would overflow, a
// title-only form of it is tried once, then packing stops either way.
func FormatForModel(results []Result, maxChars int) string {
	if len(results) == 0 {
		return "No web search results found."
	}

	var entries []string
	total := 0

	for i, res := range results {
		title := res.Title
		if title == "" {
			title = "N/A"
		}
		url := res.URL
		if url == "" {
			url = "N/A"
		}
		content := strings.TrimSpace(res.Content)

		entry := fmt.Sprintf("Result %d:\nSource: %s\nTitle: %s\nContent: %s", i+1, url, title, content)

		if total == 0 {
			if len(entry) <= maxChars {
				entries = append(entries, entry)
				total += len(entry)
				continue
			}
			prefix := fmt.Sprintf("Result %d:\nSource: %s\nTitle: %s\nContent: ", i+1, url, title)
			truncated := ""
			if available := maxChars - len(prefix); available > 3 {
				truncated = truncateUTF8(content, available) + "..."
			}
			entries = append(entries, prefix+truncated)
			break
		}

		if total+len(separator)+len(entry) <= maxChars {
			entries = append(entries, entry)
			total += len(separator) + len(entry)
			continue
		}

		short := fmt.Sprintf("Result %d:\nSource: %s\nTitle: %s", i+1, url, title)
		if total+len(separator)+len(short) <= maxChars {
			entries = append(entries, short)
		}
		break
	}

	return strings.Join(entries, separator)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
