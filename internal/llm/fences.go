package llm

import "strings"

const fence = "```"

// StripFences removes one surrounding markdown code fence, with an optional
// language tag, from a model reply. Text without fences only loses its
// outer whitespace.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, fence) {
		rest := s[len(fence):]
		tag := 0
		for tag < len(rest) && isTagChar(rest[tag]) {
			tag++
		}
		if tag == len(rest) || rest[tag] == '\n' || rest[tag] == '\r' {
			rest = rest[tag:]
		}
		s = strings.TrimSpace(rest)
	}
	if strings.HasSuffix(s, fence) {
		s = strings.TrimSpace(s[:len(s)-len(fence)])
	}
	return s
}

func isTagChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '+' || c == '-'
}
