package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatten(headers []*Header, out *[]Header) {
	for _, h := range headers {
		*out = append(*out, Header{Level: h.Level, Text: h.Text})
		flatten(h.Children, out)
	}
}

func assertChildrenDeeper(t *testing.T, headers []*Header) {
	t.Helper()
	for _, h := range headers {
		for _, c := range h.Children {
			assert.Greater(t, c.Level, h.Level, "child %q of %q", c.Text, h.Text)
		}
		assertChildrenDeeper(t, h.Children)
	}
}

func TestExtractHeaders(t *testing.T) {
	doc := "# Report\nintro\n## Background\n### History\ntext\n## Findings\n# Appendix\n"

	headers := ExtractHeaders(doc)
	require.Len(t, headers, 2)

	assert.Equal(t, "Report", headers[0].Text)
	require.Len(t, headers[0].Children, 2)
	assert.Equal(t, "Background", headers[0].Children[0].Text)
	require.Len(t, headers[0].Children[0].Children, 1)
	assert.Equal(t, "History", headers[0].Children[0].Children[0].Text)
	assert.Equal(t, "Findings", headers[0].Children[1].Text)
	assert.Equal(t, "Appendix", headers[1].Text)
	assert.Empty(t, headers[1].Children)
}

func TestExtractHeadersPreservesOrder(t *testing.T) {
	tests := []struct {
		name   string
		levels []int
	}{
		{"flat", []int{1, 1, 1}},
		{"descending", []int{1, 2, 3, 4, 5, 6}},
		{"zigzag", []int{1, 3, 2, 4, 1, 2}},
		{"starts deep", []int{3, 1, 2, 2, 6}},
		{"reverse", []int{6, 5, 4, 3, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc strings.Builder
			var want []Header
			for i, level := range tt.levels {
				text := "H" + string(rune('a'+i))
				doc.WriteString(strings.Repeat("#", level) + " " + text + "\n\nbody\n\n")
				want = append(want, Header{Level: level, Text: text})
			}

			headers := ExtractHeaders(doc.String())

			var got []Header
			flatten(headers, &got)
			assert.Equal(t, want, got)
			assertChildrenDeeper(t, headers)
		})
	}
}

func TestExtractHeadersOrphanBecomesRoot(t *testing.T) {
	headers := ExtractHeaders("### Orphan\n# Top\n## Child\n")

	require.Len(t, headers, 2)
	assert.Equal(t, 3, headers[0].Level)
	assert.Equal(t, "Orphan", headers[0].Text)
	assert.Equal(t, "Top", headers[1].Text)
	require.Len(t, headers[1].Children, 1)
}

func TestExtractHeadersEmpty(t *testing.T) {
	assert.Empty(t, ExtractHeaders("just a paragraph\n\n- and a list\n"))
	assert.Empty(t, ExtractHeaders(""))
}

func TestExtractSections(t *testing.T) {
	sections := ExtractSections("# A\nbody1\n# B\n\n")

	require.Len(t, sections, 1)
	assert.Equal(t, Section{SectionTitle: "A", WrittenContent: "body1"}, sections[0])
}

func TestExtractSectionsStripsMarkup(t *testing.T) {
	doc := "## Intro\nSome **bold** and [a link](https://example.com).\n\n## Details\n- one\n- two\n"

	sections := ExtractSections(doc)
	require.Len(t, sections, 2)
	assert.Equal(t, "Intro", sections[0].SectionTitle)
	assert.Equal(t, "Some bold and a link.", sections[0].WrittenContent)
	assert.Equal(t, "Details", sections[1].SectionTitle)
	assert.Equal(t, "one\ntwo", sections[1].WrittenContent)
}

func TestContainsCJK(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"Hello world", false},
		{"", false},
		{"研究报告", true},
		{"Report 目录", true},
		{"カタカナ", false},
		{"한국어", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsCJK(tt.input))
		})
	}
}

func TestTableOfContents(t *testing.T) {
	doc := "# Title\n## One\n### Sub\n## Two\n"

	toc, isCJK := TableOfContents(doc)

	assert.False(t, isCJK)
	assert.Equal(t, "## Table of Contents\n\n- Title\n    - One\n        - Sub\n    - Two\n", toc)
}

func TestTableOfContentsIsDeterministic(t *testing.T) {
	doc := "# 研究\n## Part A\n## Part B\n### Detail\n"

	first, firstCJK := TableOfContents(doc)
	second, secondCJK := TableOfContents(doc)

	assert.Equal(t, first, second)
	assert.Equal(t, firstCJK, secondCJK)
}

func TestTableOfContentsLocaleFollowsFirstHeader(t *testing.T) {
	t.Run("cjk first header", func(t *testing.T) {
		toc, isCJK := TableOfContents("# 研究报告\n## Background\n")
		require.True(t, isCJK)
		assert.True(t, strings.HasPrefix(toc, "## 目录\n\n"))

		withRefs := AddReferences("body", []string{"https://a.example"}, isCJK)
		assert.Contains(t, withRefs, "## 参考资料")
		assert.NotContains(t, withRefs, "## References")
	})

	t.Run("cjk only in later header", func(t *testing.T) {
		toc, isCJK := TableOfContents("# Report\n## 背景\n")
		require.False(t, isCJK)
		assert.True(t, strings.HasPrefix(toc, "## Table of Contents\n\n"))

		withRefs := AddReferences("body", nil, isCJK)
		assert.Contains(t, withRefs, "## References")
	})

	t.Run("no headers", func(t *testing.T) {
		toc, isCJK := TableOfContents("plain text")
		assert.False(t, isCJK)
		assert.Equal(t, "## Table of Contents\n\n", toc)
	})
}

func TestAddReferences(t *testing.T) {
	urlA := "https://a.example/page"
	urlB := "https://b.example/doc"

	out := AddReferences("# Report\n\nBody.", []string{urlA, urlB}, false)

	assert.True(t, strings.HasPrefix(out, "# Report\n\nBody."))
	assert.True(t, strings.HasSuffix(out,
		"\n\n\n## References\n\n- ["+urlA+"]("+urlA+")\n- ["+urlB+"]("+urlB+")\n"))

	tail := out[strings.Index(out, "## References"):]
	lines := strings.Split(strings.TrimSpace(tail), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "", lines[1])
	assert.Equal(t, "- ["+urlA+"]("+urlA+")", lines[2])
	assert.Equal(t, "- ["+urlB+"]("+urlB+")", lines[3])
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Title\n\ntext")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Title</h1>\n<p>text</p>\n", html)
}
