package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type PdfScrapeResponsePage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type OcrResponse struct {
	Pages []PdfScrapeResponsePage `json:"pages"`
}

// PDFScraper extracts the text of PDF documents with the Mistral OCR API.
type PDFScraper struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

func NewPDFScraper(apiKey string) *PDFScraper {
	return &PDFScraper{
		APIKey:  apiKey,
		BaseURL: "https://api.mistral.ai/v1/ocr",
		Client:  http.DefaultClient,
	}
}

// Scrape returns the OCR'd markdown of the PDF at url, page by page.
func (s *PDFScraper) Scrape(ctx context.Context, url string) (string, error) {
	if s.APIKey == "" {
		return "", fmt.Errorf("MISTRAL_API_KEY is not set")
	}
	url = strings.Replace(url, "http://", "https://", 1)

	reqBody := map[string]interface{}{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": url,
		},
		"include_image_base64": false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	clientReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	clientReq.Header.Set("Content-Type", "application/json")
	clientReq.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.Client.Do(clientReq)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var ocrResponse OcrResponse
	if err := json.Unmarshal(body, &ocrResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# URL: %s\n\n", url)
	for _, page := range ocrResponse.Pages {
		fmt.Fprintf(&sb, "- Page %d -\n", page.Index)
		sb.WriteString(page.Markdown)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}
