package indexer

import (
	"path"
	"strings"
)

// Chunk splits text into pieces of at most size words. Paragraphs are kept
// whole when they fit; longer paragraphs are split with overlap words
// repeated between consecutive pieces.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkWords
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n\n"))
			cur = nil
		}
	}
	curWords := 0

	for _, para := range paragraphs(text) {
		words := strings.Fields(para)
		if len(words) > size {
			flush()
			curWords = 0
			step := size - overlap
			for start := 0; start < len(words); start += step {
				end := min(start+size, len(words))
				chunks = append(chunks, strings.Join(words[start:end], " "))
				if end == len(words) {
					break
				}
			}
			continue
		}
		if curWords+len(words) > size {
			flush()
			curWords = 0
		}
		cur = append(cur, para)
		curWords += len(words)
	}
	flush()
	return chunks
}

// paragraphs splits text on blank lines and drops empty paragraphs.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Title returns the first markdown heading of text, or the file name
// without its extension.
func Title(text, relPath string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
				return t
			}
		}
	}
	base := path.Base(relPath)
	return strings.TrimSuffix(base, path.Ext(base))
}
