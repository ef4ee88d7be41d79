// Package parser implements C5: extracting text + hierarchical structure
// from PDF/TXT/MD input, per spec.md §4.5. PDF extraction is grounded on
// bbiangul-go-reason's use of github.com/ledongthuc/pdf (chosen, per
// DESIGN.md, over niski84-the-hive's cgo-based gen2brain/go-fitz to keep the
// module cgo-free); heading/title extraction follows spec.md's rules
// directly rather than bbiangul's heuristic multi-language heading sniffing,
// since spec.md pins one exact regex.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/eduask/backend/internal/domain/document"
	apperrors "github.com/eduask/backend/pkg/errors"
)

// Heading is one discovered structural element.
type Heading struct {
	Level      int
	Title      string
	LineOffset int
}

// Result is the parser's output contract (spec.md §4.5).
type Result struct {
	Title     string
	Content   string
	Structure []Heading
	PageCount int
}

var headingPattern = regexp.MustCompile(`^(#+)\s+(.+)$`)

// Parse dispatches on fileType and returns the normalized result.
func Parse(fileType document.FileType, data []byte) (Result, error) {
	switch fileType {
	case document.FileTypeTXT, document.FileTypeMD:
		return parseText(data)
	case document.FileTypePDF:
		return parsePDF(data)
	default:
		return Result{}, apperrors.Wrap("file-validation", fmt.Sprintf("unsupported file type %q", fileType), nil)
	}
}

func parseText(data []byte) (Result, error) {
	if !isValidUTF8ish(data) {
		return Result{}, apperrors.Wrap("parsing", "content is not valid UTF-8 text", nil)
	}
	content := string(data)
	return Result{
		Title:     extractTitle(content),
		Content:   content,
		Structure: extractHeadings(content),
		PageCount: 1,
	}, nil
}

func parsePDF(data []byte) (Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, apperrors.Wrap("parsing", "unable to read PDF", err)
	}
	totalPages := reader.NumPage()
	var parts []string
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	content := strings.Join(parts, "\n\n")
	return Result{
		Title:     extractTitle(content),
		Content:   content,
		Structure: extractHeadings(content),
		PageCount: totalPages,
	}, nil
}

// extractTitle implements spec.md §4.5's title-extraction rule: first
// `#`-prefixed heading if present, else first non-empty line truncated to
// 100 characters, else "Untitled Document".
func extractTitle(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var firstNonEmpty string
	for scanner.Scan() {
		line := scanner.Text()
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[2])
		}
		if firstNonEmpty == "" && strings.TrimSpace(line) != "" {
			firstNonEmpty = strings.TrimSpace(line)
		}
	}
	if firstNonEmpty != "" {
		r := []rune(firstNonEmpty)
		if len(r) > 100 {
			return string(r[:100])
		}
		return firstNonEmpty
	}
	return "Untitled Document"
}

// extractHeadings implements spec.md §4.5's heading-extraction rule: any
// line matching ^(#+)\s+(.+)$ yields a heading at level = hash count.
func extractHeadings(content string) []Heading {
	var headings []Heading
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			headings = append(headings, Heading{
				Level:      len(m[1]),
				Title:      strings.TrimSpace(m[2]),
				LineOffset: lineNo,
			})
		}
		lineNo++
	}
	return headings
}

func isValidUTF8ish(data []byte) bool {
	// A structural UTF-8 check (lead and continuation byte patterns only;
	// overlong forms and surrogate code points are not rejected);
	// markdown/plaintext uploads that fail it are rejected rather than
	// silently mojibake'd.
	for i := 0; i < len(data); {
		r := data[i]
		switch {
		case r < 0x80:
			i++
		case r&0xE0 == 0xC0:
			if i+1 >= len(data) || data[i+1]&0xC0 != 0x80 {
				return false
			}
			i += 2
		case r&0xF0 == 0xE0:
			if i+2 >= len(data) || data[i+1]&0xC0 != 0x80 || data[i+2]&0xC0 != 0x80 {
				return false
			}
			i += 3
		case r&0xF8 == 0xF0:
			if i+3 >= len(data) || data[i+1]&0xC0 != 0x80 || data[i+2]&0xC0 != 0x80 || data[i+3]&0xC0 != 0x80 {
				return false
			}
			i += 4
		default:
			return false
		}
	}
	return true
}
