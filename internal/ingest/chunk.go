package ingest

import (
	"regexp"
	"strings"
)

const (
	// targetChunkSize is the soft upper bound for one chunk. Chunks end at
	// paragraph boundaries, so most land below it; a chunk that starts with
	// an overlap tail can exceed it by chunkOverlap.
	targetChunkSize = 1200

	// chunkOverlap is how much of a chunk's tail is repeated at the start of
	// the next one, so sentences cut at a boundary stay retrievable from
	// both sides.
	chunkOverlap = 150
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// splitChunks splits one page of text into retrieval-sized chunks.
// Paragraphs are kept intact when they fit; a paragraph longer than the
// target (common for PDF text, which often arrives without line structure)
// is split on word boundaries.
func splitChunks(text string) []string {
	var pieces []string
	for _, para := range paragraphBreak.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= targetChunkSize {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitLongParagraph(para)...)
	}

	var chunks []string
	current := ""
	for _, piece := range pieces {
		switch {
		case current == "":
			current = piece
		case len(current)+len(piece)+2 > targetChunkSize:
			chunks = append(chunks, current)
			if tail := overlapTail(current); tail != "" {
				current = tail + "\n\n" + piece
			} else {
				current = piece
			}
		default:
			current += "\n\n" + piece
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// splitLongParagraph breaks an oversized paragraph into target-sized pieces
// on word boundaries. A single token longer than the target is kept whole
// rather than cut mid-rune.
func splitLongParagraph(para string) []string {
	var pieces []string
	var b strings.Builder
	for _, word := range strings.Fields(para) {
		if b.Len() > 0 && b.Len()+1+len(word) > targetChunkSize {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}

// overlapTail returns the last chunkOverlap runes of a chunk, trimmed
// forward to a word boundary. Chunks at or under the overlap size return
// nothing: repeating a whole chunk buys no context.
func overlapTail(chunk string) string {
	runes := []rune(chunk)
	if len(runes) <= chunkOverlap {
		return ""
	}
	tail := string(runes[len(runes)-chunkOverlap:])
	if i := strings.IndexAny(tail, " \n\t"); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}
