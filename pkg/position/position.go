package position

// Progress maps a page position to a normalized [0, 1] reading fraction.
// Returns 0 when the total page count is unknown.
func Progress(currentPage, totalPages int) float64 {
	if totalPages <= 0 {
		return 0.0
	}
	progress := float64(currentPage) / float64(totalPages)
	if progress > 1.0 {
		return 1.0
	}
	if progress < 0 {
		return 0.0
	}
	return progress
}

// TextUpToPage returns the prefix of fullText the reader has already seen,
// assuming text is spread evenly across pages. Lengths are counted in runes.
// ok is false when no safe fraction is computable: missing text, a position
// at or before the first page, or an unknown page count.
func TextUpToPage(fullText string, currentPage, totalPages int) (string, bool) {
	if fullText == "" || currentPage <= 0 || totalPages <= 0 {
		return "", false
	}
	runes := []rune(fullText)
	ratio := float64(currentPage) / float64(totalPages)
	cutoff := int(float64(len(runes)) * ratio)
	if cutoff > len(runes) {
		cutoff = len(runes)
	}
	return string(runes[:cutoff]), true
}

// EstimatedPageForChapter estimates the page a chapter starts on by dividing
// the book evenly across its chapters. Deliberately coarse; callers must
// tolerate inaccurate positions.
func EstimatedPageForChapter(chapterIndex, chapterCount, totalPages int) int {
	if totalPages <= 0 || chapterCount == 0 {
		return 0
	}
	page := chapterIndex * totalPages / chapterCount
	if page < 0 {
		return 0
	}
	if page > totalPages {
		return totalPages
	}
	return page
}
