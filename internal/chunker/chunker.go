// Package chunker splits LLM answers into transport-sized segments.
package chunker

// DefaultMaxSize is the Discord message length limit.
const DefaultMaxSize = 2000

// Split partitions text into consecutive slices of at most maxUnitSize
// runes, in order. Concatenating the result reproduces text exactly.
// Empty text yields no chunks. Splitting is positional only: words and
// sentences may be cut. A maxUnitSize below 1 is treated as 1.
func Split(text string, maxUnitSize int) []string {
	if text == "" {
		return nil
	}
	if maxUnitSize < 1 {
		maxUnitSize = 1
	}

	// Short content, no splitting needed
	if len(text) <= maxUnitSize {
		return []string{text}
	}

	var chunks []string
	start, runes := 0, 0
	for i := range text {
		if runes == maxUnitSize {
			chunks = append(chunks, text[start:i])
			start, runes = i, 0
		}
		runes++
	}
	return append(chunks, text[start:])
}
