package splitter

import (
	"fmt"
	"strings"
	"testing"
)

// normalized strips fence markers and collapses whitespace so tests can
// compare semantic content across chunk boundaries.
func normalized(s string) string {
	s = strings.ReplaceAll(s, fence, " ")
	return strings.Join(strings.Fields(s), " ")
}

func assertContentPreserved(t *testing.T, input string, chunks []string) {
	t.Helper()
	joined := strings.Join(chunks, "\n\n")
	if normalized(joined) != normalized(input) {
		t.Errorf("content not preserved\n in: %q\nout: %q", normalized(input), normalized(joined))
	}
}

func assertFencesBalanced(t *testing.T, chunks []string) {
	t.Helper()
	for i, c := range chunks {
		if strings.Count(c, fence)%2 != 0 {
			t.Errorf("chunk %d has unbalanced fences: %q", i, c)
		}
	}
}

func paragraphs(n, paraLen int) string {
	var parts []string
	for i := 0; i < n; i++ {
		sentence := fmt.Sprintf("Paragraph %d keeps going with more words. ", i)
		var b strings.Builder
		for b.Len() < paraLen {
			b.WriteString(sentence)
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}
	return strings.Join(parts, "\n\n")
}

func TestSplit_ShortInputIsIdentity(t *testing.T) {
	cases := []string{
		"",
		"short answer",
		"multi\n\nparagraph but still short",
		"```code``` inline",
	}
	for _, in := range cases {
		got := Split(in, 3000)
		if len(got) != 1 || got[0] != in {
			t.Errorf("Split(%q) = %v, want identity", in, got)
		}
	}
}

func TestSplit_ExactlyMaxLen(t *testing.T) {
	in := strings.Repeat("a", 100)
	got := Split(in, 100)
	if len(got) != 1 || got[0] != in {
		t.Errorf("input exactly maxLen should be returned whole, got %d chunks", len(got))
	}
}

func TestSplit_PlainParagraphs(t *testing.T) {
	in := paragraphs(10, 700) // ~7000 chars
	chunks := Split(in, 2000)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 2000 {
			t.Errorf("chunk %d exceeds maxLen: %d", i, len(c))
		}
		if c == "" {
			t.Errorf("chunk %d is empty", i)
		}
	}
	assertContentPreserved(t, in, chunks)
}

func TestSplit_SentenceFallback(t *testing.T) {
	// One paragraph well over maxLen, made of short sentences.
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "Sentence number %d ends here. ", i)
	}
	in := strings.TrimSpace(b.String())
	chunks := Split(in, 200)

	for i, c := range chunks {
		if len(c) > 200 {
			t.Errorf("chunk %d exceeds maxLen: %d", i, len(c))
		}
	}
	assertContentPreserved(t, in, chunks)
}

func TestSplit_OversizedSentencePassesThrough(t *testing.T) {
	in := strings.Repeat("x", 500) // no sentence boundary anywhere
	chunks := Split(in, 100)
	if len(chunks) != 1 || chunks[0] != in {
		t.Fatalf("oversized unsplittable sentence should be one chunk, got %d", len(chunks))
	}
}

func TestSplit_CodeFenceNeverBroken(t *testing.T) {
	code := "func main() {\n\tfmt.Println(1)\n}"
	in := paragraphs(3, 400) + "\n\n```" + code + "```\n\n" + paragraphs(3, 400)
	chunks := Split(in, 500)

	assertFencesBalanced(t, chunks)
	assertContentPreserved(t, in, chunks)
}

func TestSplit_SingleOversizedCodeBlock(t *testing.T) {
	inner := paragraphs(8, 400)
	in := "```" + inner + "```"
	chunks := Split(in, 600)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	assertFencesBalanced(t, chunks)
	for i, c := range chunks {
		if len(c) > 600 {
			t.Errorf("chunk %d exceeds maxLen: %d", i, len(c))
		}
		if !strings.Contains(c, fence) {
			t.Errorf("chunk %d lost its fences: %q", i, c)
		}
	}
	assertContentPreserved(t, in, chunks)
}

func TestSplit_OddFenceMarkers(t *testing.T) {
	// Malformed input: opening fence with no close. Must not crash and
	// must not lose content, the orphan marker included.
	in := paragraphs(2, 400) + "\n\n```" + paragraphs(2, 400)
	chunks := Split(in, 500)

	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	joined := strings.Join(chunks, "\n\n")
	if got, want := strings.Count(joined, fence), strings.Count(in, fence); got != want {
		t.Errorf("fence markers not preserved: input has %d, output has %d", want, got)
	}
	assertContentPreserved(t, in, chunks)
}

func TestSplit_TrailingOrphanFence(t *testing.T) {
	in := paragraphs(2, 400) + "\n\n```"
	chunks := Split(in, 500)

	joined := strings.Join(chunks, "\n\n")
	if !strings.Contains(joined, fence) {
		t.Error("trailing orphan fence marker was dropped")
	}
	assertContentPreserved(t, in, chunks)
}

func TestSplit_Deterministic(t *testing.T) {
	in := paragraphs(6, 500) + "\n\n```code block here```\n\n" + paragraphs(2, 300)
	a := Split(in, 800)
	b := Split(in, 800)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_RepackMergesSmallPieces(t *testing.T) {
	// Many tiny paragraphs should not produce one chunk each.
	in := strings.Repeat("tiny.\n\n", 300) // ~2100 chars
	chunks := Split(in, 1000)
	if len(chunks) > 4 {
		t.Errorf("repacking should merge small pieces, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 1000 {
			t.Errorf("chunk %d exceeds maxLen: %d", i, len(c))
		}
	}
	assertContentPreserved(t, in, chunks)
}
