package agent

import "unicode/utf8"

// TruncationMarker is appended to truncated tool output
const TruncationMarker = "\n... [output truncated]"

// TruncateOutput cuts s to at most limit bytes at a UTF-8 boundary and
// appends the marker. It reports whether s was cut.
func TruncateOutput(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := limit
	for back := 0; cut > 0 && back < utf8.UTFMax && !utf8.RuneStart(s[cut]); back++ {
		cut--
	}
	if !utf8.RuneStart(s[cut]) {
		// invalid encoding, no boundary nearby
		cut = limit
	}
	return s[:cut] + TruncationMarker, true
}
