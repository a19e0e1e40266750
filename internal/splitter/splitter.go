// Package splitter breaks long bot replies into chat-platform-safe chunks.
package splitter

import "strings"

const (
	fence        = "```"
	paragraphSep = "\n\n"
)

// Split breaks text into ordered chunks of at most maxLen bytes. Chunk
// boundaries never fall inside an open code fence: fenced regions are
// re-wrapped so every chunk carries balanced markers. Plain text is cut on
// paragraph boundaries first, then sentence boundaries. A single sentence
// longer than maxLen is emitted as one oversized chunk rather than cut
// mid-word. The function is deterministic and side-effect free.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var pieces []string
	parts := strings.Split(text, fence)
	for i, part := range parts {
		fenced := i%2 == 1
		// An odd number of markers leaves the trailing region
		// unterminated; keep the orphan marker and treat the region as
		// plain text instead of inventing a closing fence.
		if fenced && i == len(parts)-1 {
			fenced = false
			part = fence + part
		}
		if part == "" {
			continue
		}
		if fenced {
			pieces = append(pieces, splitFenced(part, maxLen)...)
		} else {
			pieces = append(pieces, splitPlain(part, maxLen)...)
		}
	}

	chunks := repack(pieces, maxLen)
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// splitFenced re-wraps fenced content, reserving the fixed marker overhead
// from the budget for the inner text.
func splitFenced(inner string, maxLen int) []string {
	budget := maxLen - 2*len(fence)
	if budget <= 0 {
		return []string{fence + inner + fence}
	}
	var out []string
	for _, p := range splitPlain(inner, budget) {
		out = append(out, fence+p+fence)
	}
	return out
}

// splitPlain packs paragraphs greedily up to maxLen, falling back to
// sentence packing for paragraphs that alone exceed the budget.
func splitPlain(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, para := range strings.Split(text, paragraphSep) {
		if para == "" {
			continue
		}
		if len(para) > maxLen {
			flush()
			out = append(out, splitSentences(para, maxLen)...)
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(paragraphSep)+len(para) > maxLen {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString(paragraphSep)
		}
		buf.WriteString(para)
	}
	flush()
	return out
}

// splitSentences packs sentences greedily. A sentence that alone exceeds
// maxLen is emitted as-is: the accepted worst case, no further truncation.
func splitSentences(text string, maxLen int) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, s := range sentences(text) {
		if len(s) > maxLen {
			flush()
			out = append(out, s)
			continue
		}
		if buf.Len() > 0 && buf.Len()+1+len(s) > maxLen {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
	}
	flush()
	return out
}

// sentences cuts text after terminal punctuation followed by whitespace.
func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if !isSpace(text[i+1]) {
				continue
			}
			if i+1 > start {
				out = append(out, text[start:i+1])
			}
			j := i + 1
			for j < len(text) && isSpace(text[j]) {
				j++
			}
			start = j
			i = j - 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// repack merges adjacent small pieces up to maxLen, undoing the extra
// fragmentation introduced by per-region splitting.
func repack(pieces []string, maxLen int) []string {
	var out []string
	var buf strings.Builder
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if buf.Len() == 0 {
			buf.WriteString(p)
			continue
		}
		if buf.Len()+len(paragraphSep)+len(p) <= maxLen {
			buf.WriteString(paragraphSep)
			buf.WriteString(p)
			continue
		}
		out = append(out, buf.String())
		buf.Reset()
		buf.WriteString(p)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}
