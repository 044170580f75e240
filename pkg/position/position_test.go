package position

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestProgress(t *testing.T) {
	cases := []struct {
		name        string
		currentPage int
		totalPages  int
		want        float64
	}{
		{"fifth of the way", 36, 180, 0.2},
		{"no total pages", 36, 0, 0.0},
		{"negative total pages", 36, -3, 0.0},
		{"at the end", 180, 180, 1.0},
		{"past the end", 200, 180, 1.0},
		{"not started", 0, 180, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Progress(tc.currentPage, tc.totalPages)
			if got != tc.want {
				t.Fatalf("Progress(%d, %d) = %v, want %v", tc.currentPage, tc.totalPages, got, tc.want)
			}
			if got < 0 || got > 1 {
				t.Fatalf("progress out of range: %v", got)
			}
		})
	}
}

func TestTextUpToPage(t *testing.T) {
	text := strings.Repeat("a", 10000)

	got, ok := TextUpToPage(text, 36, 180)
	if !ok {
		t.Fatalf("expected a prefix")
	}
	if len(got) != 2000 {
		t.Fatalf("prefix length = %d, want 2000", len(got))
	}

	if _, ok := TextUpToPage("", 36, 180); ok {
		t.Fatalf("expected no prefix for empty text")
	}
	if _, ok := TextUpToPage(text, 0, 180); ok {
		t.Fatalf("expected no prefix at page zero")
	}
	if _, ok := TextUpToPage(text, 36, 0); ok {
		t.Fatalf("expected no prefix without total pages")
	}
}

func TestTextUpToPageClampsPastEnd(t *testing.T) {
	text := "short book text"
	got, ok := TextUpToPage(text, 250, 180)
	if !ok {
		t.Fatalf("expected a prefix")
	}
	if got != text {
		t.Fatalf("expected the whole text, got %q", got)
	}
}

func TestTextUpToPageCountsRunes(t *testing.T) {
	text := strings.Repeat("書", 100)
	got, ok := TextUpToPage(text, 1, 2)
	if !ok {
		t.Fatalf("expected a prefix")
	}
	if n := utf8.RuneCountInString(got); n != 50 {
		t.Fatalf("prefix rune count = %d, want 50", n)
	}
}

func TestEstimatedPageForChapter(t *testing.T) {
	if got := EstimatedPageForChapter(2, 5, 180); got != 72 {
		t.Fatalf("chapter 2 of 5 = page %d, want 72", got)
	}
	if got := EstimatedPageForChapter(0, 5, 180); got != 0 {
		t.Fatalf("first chapter = page %d, want 0", got)
	}
	if got := EstimatedPageForChapter(4, 5, 180); got > 180 {
		t.Fatalf("last chapter past end: %d", got)
	}
	if got := EstimatedPageForChapter(2, 0, 180); got != 0 {
		t.Fatalf("no chapters = page %d, want 0", got)
	}
	if got := EstimatedPageForChapter(2, 5, 0); got != 0 {
		t.Fatalf("no total pages = page %d, want 0", got)
	}

	prev := 0
	for i := 0; i < 5; i++ {
		page := EstimatedPageForChapter(i, 5, 180)
		if page < prev {
			t.Fatalf("estimate not monotonic at chapter %d: %d < %d", i, page, prev)
		}
		prev = page
	}
}
