package booktext

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// runesPerPage estimates a print page for formats that carry no page
// boundaries of their own (epub, plain text).
const runesPerPage = 1800

// Extraction is the full text of a book plus its page count. For PDFs the
// count is the real page count; otherwise it is estimated from length.
type Extraction struct {
	Text  string
	Pages int
}

// Extract reads a book file and returns its full text. The format is
// chosen by filename extension; anything unrecognized is treated as plain
// text.
func Extract(filename, path string) (Extraction, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(path)
	case ".epub":
		return extractEPUB(path)
	default:
		return extractText(path)
	}
}

func extractPDF(path string) (Extraction, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return Extraction{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	totalPages := reader.NumPage()
	var pages []string
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the whole book.
			continue
		}
		if text = normalize(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return Extraction{}, fmt.Errorf("no text extracted from pdf")
	}
	return Extraction{Text: strings.Join(pages, "\n\n"), Pages: totalPages}, nil
}

func extractEPUB(path string) (Extraction, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return Extraction{}, fmt.Errorf("open epub: %w", err)
	}
	defer reader.Close()

	// Spine order is approximated by archive path order, which epub
	// packagers keep sorted in practice.
	files := make([]*zip.File, 0, len(reader.File))
	for _, f := range reader.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm") {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var sections []string
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return Extraction{}, fmt.Errorf("read epub entry: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Extraction{}, fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return Extraction{}, fmt.Errorf("parse epub html: %w", err)
		}
		if text := normalize(htmlText(doc)); text != "" {
			sections = append(sections, text)
		}
	}
	if len(sections) == 0 {
		return Extraction{}, fmt.Errorf("no text extracted from epub")
	}
	text := strings.Join(sections, "\n\n")
	return Extraction{Text: text, Pages: estimatePages(text)}, nil
}

func extractText(path string) (Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Extraction{}, fmt.Errorf("read file: %w", err)
	}
	text := normalize(string(data))
	if text == "" {
		return Extraction{}, fmt.Errorf("file contains no text")
	}
	return Extraction{Text: text, Pages: estimatePages(text)}, nil
}

func estimatePages(text string) int {
	n := utf8.RuneCountInString(text)
	pages := (n + runesPerPage - 1) / runesPerPage
	if pages < 1 {
		pages = 1
	}
	return pages
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func htmlText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
