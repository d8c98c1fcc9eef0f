// Package transcript assembles and persists recognized ASR segments.
package transcript

import "strings"

// Options controls transcript assembly formatting behavior.
type Options struct {
	TrailingSpace bool
}

// Assemble joins final ASR segments into a single string, trimmed like the
// reference implementation's text.strip() and with each internal run of
// whitespace collapsed to one space.
func Assemble(finalSegments []string, opts Options) string {
	if len(finalSegments) == 0 {
		return ""
	}

	joined := strings.Join(finalSegments, " ")
	normalized := strings.Join(strings.Fields(joined), " ")
	if normalized == "" {
		return ""
	}

	if opts.TrailingSpace {
		return normalized + " "
	}
	return normalized
}
