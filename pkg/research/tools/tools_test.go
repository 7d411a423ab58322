package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Attention Is
      All You Need</title>
    <summary>  We propose the Transformer.  </summary>
    <published>2017-06-12T17:57:34Z</published>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <title>No PDF Here</title>
    <summary>Abstract only.</summary>
    <link href="http://arxiv.org/abs/0000.00000" rel="alternate" type="text/html"/>
  </entry>
  <entry>
    <title>   </title>
  </entry>
</feed>`

func TestParseArxivFeed(t *testing.T) {
	hits, err := ParseArxivFeed([]byte(sampleFeed))
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "Attention Is All You Need", hits[0].Title)
	assert.Equal(t, "We propose the Transformer.", hits[0].Snippet)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", hits[0].URL)
	assert.Equal(t, "http://arxiv.org/abs/0000.00000", hits[1].URL)

	_, err = ParseArxivFeed([]byte("<feed"))
	assert.Error(t, err)
}

func TestArxivSearcherSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "quantum error correction", r.URL.Query().Get("search_query"))
		assert.Equal(t, "2", r.URL.Query().Get("max_results"))
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	s := NewArxivSearcher()
	s.BaseURL = srv.URL

	hits, err := s.Search(context.Background(), "quantum error correction", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestArxivSearcherNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewArxivSearcher()
	s.BaseURL = srv.URL

	_, err := s.Search(context.Background(), "q", 1)
	assert.ErrorContains(t, err, "429")
}

func TestPDFScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		doc := body["document"].(map[string]interface{})
		assert.Equal(t, "https://arxiv.org/pdf/1", doc["document_url"])

		_ = json.NewEncoder(w).Encode(OcrResponse{Pages: []PdfScrapeResponsePage{
			{Index: 0, Markdown: "# Paper"},
			{Index: 1, Markdown: "Results."},
		}})
	}))
	defer srv.Close()

	s := NewPDFScraper("secret")
	s.BaseURL = srv.URL

	text, err := s.Scrape(context.Background(), "http://arxiv.org/pdf/1")
	require.NoError(t, err)
	assert.Contains(t, text, "- Page 0 -\n# Paper")
	assert.Contains(t, text, "- Page 1 -\nResults.")

	_, err = NewPDFScraper("").Scrape(context.Background(), "https://x/y.pdf")
	assert.Error(t, err)
}

func TestPageFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><script>var x = 1;</script></head>
<body><h1>Solar Flares</h1><p>Flares are <strong>bursts</strong> of radiation.</p></body></html>`))
	}))
	defer srv.Close()

	text, err := NewPageFetcher().Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, text, "# Solar Flares")
	assert.Contains(t, text, "Flares are **bursts** of radiation.")
	assert.NotContains(t, text, "var x")

	_, err = NewPageFetcher().Fetch(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("http://arxiv.org/pdf/1706.03762v7"))
	assert.True(t, IsPDF("https://example.com/paper.PDF"))
	assert.False(t, IsPDF("https://example.com/article"))
}
