package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Hit is one search result.
type Hit struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Published string `json:"published,omitempty"`
}

// ArxivSearcher queries the arXiv export API.
type ArxivSearcher struct {
	BaseURL string
	Client  *http.Client
}

func NewArxivSearcher() *ArxivSearcher {
	return &ArxivSearcher{
		BaseURL: "https://export.arxiv.org/api/query",
		Client:  http.DefaultClient,
	}
}

// Search returns up to maxResults entries for query. The URL of a hit is its
// PDF link when arXiv provides one.
func (s *ArxivSearcher) Search(ctx context.Context, query string, maxResults int) ([]Hit, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0") // Start from the first result

	apiURL := s.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		slog.Error("API returned non-200 status code", "status", resp.StatusCode, "body", string(bodyBytes))
		return nil, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return ParseArxivFeed(body)
}

// ParseArxivFeed converts an arXiv Atom feed into hits.
func ParseArxivFeed(body []byte) ([]Hit, error) {
	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	hits := make([]Hit, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		title := strings.Join(strings.Fields(entry.Title), " ")
		if title == "" {
			continue
		}
		hit := Hit{
			Title:     title,
			Snippet:   strings.TrimSpace(entry.Summary),
			Published: entry.Published,
		}
		for _, link := range entry.Link {
			if link.Type == "application/pdf" {
				hit.URL = link.Href
				break
			}
		}
		if hit.URL == "" && len(entry.Link) > 0 {
			hit.URL = entry.Link[0].Href
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
