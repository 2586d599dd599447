package intent

import (
	"regexp"
	"strings"
)

var templateNoise = []*regexp.Regexp{
	regexp.MustCompile(`(?i)placeholder\s+json`),
	regexp.MustCompile(`(?i)example\s+structure`),
}

// StripJSON returns the human-visible part of a reply.
//
// With a ```json fence, everything from the fence on is dropped. With generic
// fences, fenced segments are dropped and the prose between them is kept in
// order. Without fences, the first embedded intent object is cut out.
func StripJSON(reply string) string {
	var clean string
	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, "```json"):
		clean = reply[:strings.Index(lower, "```json")]
	case strings.Contains(reply, "```"):
		parts := strings.Split(reply, "```")
		var b strings.Builder
		for i := 0; i < len(parts); i += 2 {
			b.WriteString(parts[i])
		}
		clean = b.String()
	default:
		clean = reply
		if start, end, in := scanObject(reply); in != nil {
			clean = reply[:start] + reply[end:]
		}
	}
	for _, re := range templateNoise {
		clean = re.ReplaceAllString(clean, "")
	}
	return strings.TrimSpace(clean)
}
