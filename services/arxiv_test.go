package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"research-insight-platform/internal/config"
)

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001v2</id>
    <title>Solid State  Electrolytes
      for Lithium Batteries</title>
    <summary>We study electrolytes.</summary>
    <published>2024-01-15T00:00:00Z</published>
    <author><name>An Nguyen</name></author>
    <author><name>Bo Chen</name></author>
    <link href="http://arxiv.org/pdf/2401.00001v2" title="pdf" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v1</id>
    <title>Polymer Electrolyte Cycling</title>
    <summary>Cycling behavior.</summary>
    <published>not-a-date</published>
    <author><name>Dana Ortiz</name></author>
  </entry>
</feed>`

func arxivTestConfig(baseURL string) *config.Config {
	return &config.Config{
		ArxivBaseURL: baseURL,
		ArxivTimeout: 5 * time.Second,
		ArxivDelay:   time.Millisecond,
		MaxPapers:    10,
	}
}

func TestSearchParsesAtomFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("search_query"); got != "all:battery electrolytes" {
			t.Errorf("search_query = %q", got)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(atomFixture))
	}))
	defer server.Close()

	client := NewArxivClient(arxivTestConfig(server.URL))
	papers, err := client.Search(context.Background(), "battery electrolytes", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	// The malformed second entry is skipped, not fatal.
	if len(papers) != 1 {
		t.Fatalf("got %d papers, want 1", len(papers))
	}

	p := papers[0]
	if p.ArxivID != "2401.00001" {
		t.Errorf("arxiv id = %q, want version suffix stripped", p.ArxivID)
	}
	if p.Title != "Solid State Electrolytes for Lithium Batteries" {
		t.Errorf("title whitespace not normalized: %q", p.Title)
	}
	if len(p.Authors) != 2 || p.Authors[0] != "An Nguyen" {
		t.Errorf("authors = %v", p.Authors)
	}
	if p.PDFURL != "http://arxiv.org/pdf/2401.00001v2" {
		t.Errorf("pdf url = %q", p.PDFURL)
	}
}

func TestSearchServerErrorIsSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewArxivClient(arxivTestConfig(server.URL))
	_, err := client.Search(context.Background(), "anything", 5)
	if err == nil {
		t.Fatal("expected error from 503")
	}
}

func TestParseArxivID(t *testing.T) {
	cases := map[string]string{
		"http://arxiv.org/abs/2401.00001v2":   "2401.00001",
		"http://arxiv.org/abs/2401.00001":     "2401.00001",
		"http://arxiv.org/abs/math/0211159":   "math/0211159",
		"http://arxiv.org/abs/math/0211159v1": "math/0211159",
		"":                                    "",
		"no-slash":                            "",
	}
	for in, want := range cases {
		if got := parseArxivID(in); got != want {
			t.Errorf("parseArxivID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatCitation(t *testing.T) {
	cases := []struct {
		authors []string
		want    string
	}{
		{[]string{"An Nguyen", "Bo Chen"}, "[Nguyen et al., 2024, arXiv:2401.00001]"},
		{[]string{"Dana Ortiz"}, "[Ortiz, 2024, arXiv:2401.00001]"},
		{nil, "[arXiv:2401.00001]"},
	}
	for _, tc := range cases {
		if got := FormatCitation(tc.authors, 2024, "2401.00001"); got != tc.want {
			t.Errorf("FormatCitation(%v) = %q, want %q", tc.authors, got, tc.want)
		}
	}
}

func TestDownloadPDFWriteOnce(t *testing.T) {
	serves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serves++
		if serves == 1 {
			w.Write([]byte("first body"))
		} else {
			w.Write([]byte("second body"))
		}
	}))
	defer server.Close()

	client := NewArxivClient(arxivTestConfig(server.URL))
	dest := filepath.Join(t.TempDir(), "pdfs", "2401.00001.pdf")

	if err := client.DownloadPDF(context.Background(), server.URL, dest); err != nil {
		t.Fatalf("first download: %v", err)
	}
	if err := client.DownloadPDF(context.Background(), server.URL, dest); err != nil {
		t.Fatalf("second download: %v", err)
	}

	content, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "first body" {
		t.Errorf("cached PDF overwritten: %q", content)
	}
	if serves != 1 {
		t.Errorf("server hit %d times, cache should have served the second call", serves)
	}
}
