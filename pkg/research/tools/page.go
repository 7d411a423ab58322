package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

const maxPageBytes = 4 << 20

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// PageFetcher downloads web pages and converts them to markdown.
type PageFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewPageFetcher() *PageFetcher {
	return &PageFetcher{
		Client:    http.DefaultClient,
		UserAgent: "research-reporter/1.0",
	}
}

// Fetch returns the markdown body of the page at rawURL.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid page url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}

	return HTMLToMarkdown(u.Scheme+"://"+u.Host, string(body))
}

// HTMLToMarkdown converts an HTML document, resolving relative links against domain.
func HTMLToMarkdown(domain, html string) (string, error) {
	converter := md.NewConverter(domain, true, nil)
	converter.Use(plugin.GitHubFlavored())
	converter.Remove("script", "style", "nav", "footer")

	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert page: %w", err)
	}
	return strings.TrimSpace(excessiveLinesRe.ReplaceAllString(markdown, "\n\n")), nil
}

// IsPDF reports whether a URL most likely points at a PDF document.
func IsPDF(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "arxiv.org/pdf/")
}
