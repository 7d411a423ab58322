package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// Header is a node in the header forest of a markdown document.
type Header struct {
	Level    int       `json:"level"`
	Text     string    `json:"text"`
	Children []*Header `json:"children,omitempty"`
}

// Section is the flattened content between two consecutive headers.
type Section struct {
	SectionTitle   string `json:"section_title"`
	WrittenContent string `json:"written_content"`
}

const (
	tocTitle          = "## Table of Contents\n\n"
	tocTitleCJK       = "## 目录\n\n"
	referencesTitle   = "## References"
	referencesTitleCJ = "## 参考资料"
)

var (
	headerTagRe  = regexp.MustCompile(`(?s)<h\d>(.*?)</h\d>`)
	openHeaderRe = regexp.MustCompile(`<h\d>`)
	anyTagRe     = regexp.MustCompile(`<.*?>`)

	renderer = goldmark.New()
)

// RenderHTML renders markdown into HTML.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// render is RenderHTML for the extraction helpers. goldmark only fails on
// writer errors, which a bytes.Buffer never returns.
func render(text string) string {
	html, err := RenderHTML(text)
	if err != nil {
		return ""
	}
	return html
}

// ExtractHeaders builds the header forest of a markdown document in a single
// pass over the rendered lines. A header whose level is not deeper than the
// top of the stack closes that entry; headers with no open parent become roots.
func ExtractHeaders(text string) []*Header {
	var roots []*Header
	var stack []*Header

	for _, line := range strings.Split(render(text), "\n") {
		if len(line) <= 2 || !strings.HasPrefix(line, "<h") || line[2] < '0' || line[2] > '9' {
			continue
		}
		level := int(line[2] - '0')

		start := strings.Index(line, ">")
		end := strings.LastIndex(line, "<")
		if start < 0 || end <= start {
			continue
		}

		for len(stack) > 0 && stack[len(stack)-1].Level >= level {
			stack = stack[:len(stack)-1]
		}

		header := &Header{Level: level, Text: line[start+1 : end]}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, header)
		} else {
			roots = append(roots, header)
		}
		stack = append(stack, header)
	}

	return roots
}

// ExtractSections returns every header with its stripped body, skipping
// sections whose body is empty.
func ExtractSections(text string) []Section {
	html := render(text)
	matches := headerTagRe.FindAllStringSubmatchIndex(html, -1)

	var sections []Section
	for _, m := range matches {
		title := html[m[2]:m[3]]

		bodyEnd := len(html)
		if next := openHeaderRe.FindStringIndex(html[m[1]:]); next != nil {
			bodyEnd = m[1] + next[0]
		}

		content := strings.TrimSpace(anyTagRe.ReplaceAllString(html[m[1]:bodyEnd], ""))
		if content == "" {
			continue
		}
		sections = append(sections, Section{
			SectionTitle:   strings.TrimSpace(title),
			WrittenContent: content,
		})
	}

	return sections
}

// ContainsCJK reports whether text holds a CJK Unified Ideograph.
func ContainsCJK(text string) bool {
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// TableOfContents renders the header forest as a nested bullet list. The
// locale of the title follows the first top-level header, and is returned so
// callers can pick matching labels elsewhere.
func TableOfContents(text string) (string, bool) {
	headers := ExtractHeaders(text)

	firstHeader := ""
	if len(headers) > 0 {
		firstHeader = headers[0].Text
	}
	isCJK := ContainsCJK(firstHeader)

	var sb strings.Builder
	if isCJK {
		sb.WriteString(tocTitleCJK)
	} else {
		sb.WriteString(tocTitle)
	}
	writeTOC(&sb, headers, 0)

	return sb.String(), isCJK
}

func writeTOC(sb *strings.Builder, headers []*Header, depth int) {
	for _, h := range headers {
		sb.WriteString(strings.Repeat(" ", depth*4))
		sb.WriteString("- ")
		sb.WriteString(h.Text)
		sb.WriteString("\n")
		writeTOC(sb, h.Children, depth+1)
	}
}

// AddReferences appends a references block listing visitedURLs in the given
// order.
func AddReferences(report string, visitedURLs []string, isCJK bool) string {
	title := referencesTitle
	if isCJK {
		title = referencesTitleCJ
	}

	var sb strings.Builder
	sb.WriteString(report)
	sb.WriteString("\n\n\n")
	sb.WriteString(title)
	sb.WriteString("\n\n")
	for _, u := range visitedURLs {
		fmt.Fprintf(&sb, "- [%s](%s)\n", u, u)
	}
	return sb.String()
}
