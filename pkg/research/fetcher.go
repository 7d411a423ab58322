package research

import (
	"context"

	"github.com/mikeboe/research-reporter/pkg/research/tools"
)

// SourceFetcher routes PDFs to OCR and everything else to the page fetcher.
type SourceFetcher struct {
	PDF   *tools.PDFScraper
	Pages *tools.PageFetcher
}

// NewSourceFetcher builds a fetcher. Without an OCR key PDFs are fetched as
// pages, which usually fails and leaves the caller on the abstract.
func NewSourceFetcher(ocrAPIKey string) *SourceFetcher {
	f := &SourceFetcher{Pages: tools.NewPageFetcher()}
	if ocrAPIKey != "" {
		f.PDF = tools.NewPDFScraper(ocrAPIKey)
	}
	return f
}

func (f *SourceFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.PDF != nil && tools.IsPDF(url) {
		return f.PDF.Scrape(ctx, url)
	}
	return f.Pages.Fetch(ctx, url)
}
