package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestChunk_Empty(t *testing.T) {
	c := New(Config{})

	tests := []struct {
		name    string
		content string
	}{
		{"empty string", ""},
		{"whitespace only", "  \n\n\t \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Chunk("n1", tt.content); got != nil {
				t.Errorf("Chunk() = %v, want nil", got)
			}
		})
	}
}

func TestChunk_SingleParagraph(t *testing.T) {
	c := New(Config{MaxChunkBytes: 100})
	content := "A short paragraph that fits in one chunk."

	chunks := c.Chunk("n1", content)
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	got := chunks[0]
	if got.Text != content {
		t.Errorf("Text = %q, want %q", got.Text, content)
	}
	if got.ID != "n1:0" || got.Index != 0 || got.NoteID != "n1" {
		t.Errorf("identity fields = %+v", got)
	}
	if got.Offset != 0 || got.Length != len(content) {
		t.Errorf("Offset/Length = %d/%d, want 0/%d", got.Offset, got.Length, len(content))
	}
}

func TestChunk_ParagraphBoundariesPreferred(t *testing.T) {
	c := New(Config{MaxChunkBytes: 30, OverlapUnits: 0})
	content := "First paragraph here.\n\nSecond paragraph follows.\n\nThird one."

	chunks := c.Chunk("n1", content)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want >= 2", len(chunks))
	}
	for i, ch := range chunks {
		if strings.Contains(ch.Text, "\n\n") {
			t.Errorf("chunk %d crosses a paragraph boundary: %q", i, ch.Text)
		}
	}
}

func TestChunk_OffsetsSliceOriginalContent(t *testing.T) {
	c := New(Config{MaxChunkBytes: 40})
	content := "One sentence here. Another sentence there. And a third sentence closes.\n\nNext paragraph with more text to split."

	for _, ch := range c.Chunk("n1", content) {
		if got := content[ch.Offset : ch.Offset+ch.Length]; got != ch.Text {
			t.Errorf("content[%d:%d] = %q, want %q", ch.Offset, ch.Offset+ch.Length, got, ch.Text)
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := New(Config{MaxChunkBytes: 50})
	content := "Apples and oranges. Quantum mechanics is hard. Pears are sweet. " +
		"Some more filler text to force multiple chunks into existence."

	a := c.Chunk("n1", content)
	b := c.Chunk("n1", content)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("chunking is not deterministic:\n%v\n%v", a, b)
	}
}

func TestChunk_Overlap(t *testing.T) {
	c := New(Config{MaxChunkBytes: 50, OverlapUnits: 1})
	content := "Sentence one is here. Sentence two is here. Sentence three is here. Sentence four is here."

	chunks := c.Chunk("n1", content)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want >= 2", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		if cur.Offset >= prev.Offset+prev.Length {
			t.Errorf("chunk %d does not overlap its predecessor: prev end %d, cur start %d",
				i, prev.Offset+prev.Length, cur.Offset)
		}
	}
}

func TestChunk_OversizedSentenceHardWrapped(t *testing.T) {
	c := New(Config{MaxChunkBytes: 20, OverlapUnits: 0})
	content := strings.Repeat("x", 95) // no boundaries at all

	chunks := c.Chunk("n1", content)
	if len(chunks) != 5 {
		t.Fatalf("len(chunks) = %d, want 5", len(chunks))
	}
	var rebuilt strings.Builder
	for _, ch := range chunks {
		if ch.Length > 20 {
			t.Errorf("chunk %d exceeds max: %d bytes", ch.Index, ch.Length)
		}
		rebuilt.WriteString(ch.Text)
	}
	if rebuilt.String() != content {
		t.Errorf("hard-wrapped chunks do not reassemble the content")
	}
}

func TestChunk_HardWrapRespectsRuneBoundaries(t *testing.T) {
	c := New(Config{MaxChunkBytes: 10, OverlapUnits: 0})
	content := strings.Repeat("héllo", 10) // multi-byte runes, no sentence breaks

	for _, ch := range c.Chunk("n1", content) {
		if !strings.HasPrefix(content[ch.Offset:], ch.Text) {
			t.Fatalf("chunk text does not match source at offset %d", ch.Offset)
		}
		for _, r := range ch.Text {
			if r == '�' {
				t.Fatalf("chunk split a UTF-8 sequence: %q", ch.Text)
			}
		}
	}
}

func TestChunk_IDsAreOrdinal(t *testing.T) {
	c := New(Config{MaxChunkBytes: 30, OverlapUnits: 0})
	content := "First paragraph here.\n\nSecond paragraph follows.\n\nThird one closes it."

	for i, ch := range c.Chunk("note-7", content) {
		want := fmt.Sprintf("note-7:%d", i)
		if ch.ID != want {
			t.Errorf("chunk %d ID = %q, want %q", i, ch.ID, want)
		}
	}
}
