package db

import "strings"

// SplitBatches splits script text on lines consisting only of GO (any case,
// surrounding whitespace ignored). GO inside a line is not a separator. Empty
// batches are dropped.
func SplitBatches(text string) []string {
	var (
		out     []string
		current strings.Builder
	)

	flush := func() {
		batch := strings.TrimSpace(current.String())
		if batch != "" {
			out = append(out, batch)
		}
		current.Reset()
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "GO") {
			flush()
			continue
		}
		current.WriteString(line)
	}
	flush()
	return out
}
