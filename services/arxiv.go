package services

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/utils"
)

// PaperMeta is the metadata returned by an arXiv search, before any PDF
// has been downloaded or parsed.
type PaperMeta struct {
	ArxivID   string
	Title     string
	Authors   []string
	Published time.Time
	Summary   string
	PDFURL    string
}

// PaperSource is the document fetcher contract consumed by the researcher.
type PaperSource interface {
	Search(ctx context.Context, topic string, maxResults int) ([]PaperMeta, error)
	DownloadPDF(ctx context.Context, pdfURL, destPath string) error
}

// ArxivClient fetches paper metadata and PDFs from the arXiv export API.
// Stateless apart from its rate limiter; arXiv asks for ~3s between calls.
type ArxivClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	maxCeiling int
}

func NewArxivClient(cfg *config.Config) *ArxivClient {
	return &ArxivClient{
		httpClient: &http.Client{
			Timeout: cfg.ArxivTimeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false, // enables transparent gzip decompression
			},
		},
		limiter:    rate.NewLimiter(rate.Every(cfg.ArxivDelay), 1),
		baseURL:    cfg.ArxivBaseURL,
		maxCeiling: cfg.MaxPapers,
	}
}

// Atom feed shapes for the arXiv export API.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// Search queries arXiv for papers on a topic. maxResults is clamped to the
// configured ceiling.
func (c *ArxivClient) Search(ctx context.Context, topic string, maxResults int) ([]PaperMeta, error) {
	if maxResults <= 0 || maxResults > c.maxCeiling {
		maxResults = c.maxCeiling
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("search_query", "all:"+topic)
	query.Set("start", "0")
	query.Set("max_results", strconv.Itoa(maxResults))
	query.Set("sortBy", "relevance")
	query.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv search failed: %w", utils.ErrSourceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv search returned %d: %w", resp.StatusCode, utils.ErrSourceUnavailable)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("reading arxiv response: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing arxiv feed: %w", err)
	}

	papers := make([]PaperMeta, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		meta, err := entryToMeta(entry)
		if err != nil {
			logger.Warn("Skipping malformed arxiv entry", "id", entry.ID, "error", err)
			continue
		}
		papers = append(papers, meta)
	}

	logger.Info("arXiv search complete", "topic", topic, "found", len(papers))
	return papers, nil
}

func entryToMeta(entry atomEntry) (PaperMeta, error) {
	id := parseArxivID(entry.ID)
	if id == "" {
		return PaperMeta{}, fmt.Errorf("entry has no arxiv id")
	}

	published, err := time.Parse(time.RFC3339, entry.Published)
	if err != nil {
		return PaperMeta{}, fmt.Errorf("bad published date %q: %v", entry.Published, err)
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	pdfURL := ""
	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			pdfURL = link.Href
			break
		}
	}
	if pdfURL == "" {
		// arXiv convention: abs URL maps to pdf URL
		pdfURL = "http://arxiv.org/pdf/" + id
	}

	return PaperMeta{
		ArxivID:   id,
		Title:     normalizeWhitespace(entry.Title),
		Authors:   authors,
		Published: published,
		Summary:   normalizeWhitespace(entry.Summary),
		PDFURL:    pdfURL,
	}, nil
}

// parseArxivID extracts the id from an entry URL like
// "http://arxiv.org/abs/2301.00001v2", dropping the version suffix.
// Old-style ids keep their category prefix ("math/0211159").
func parseArxivID(entryID string) string {
	_, id, ok := strings.Cut(entryID, "/abs/")
	if !ok || id == "" {
		return ""
	}
	if v := strings.LastIndex(id, "v"); v > 0 {
		if _, err := strconv.Atoi(id[v+1:]); err == nil {
			id = id[:v]
		}
	}
	return id
}

// DownloadPDF fetches a PDF into the job's cache directory. The cache is
// write-once: an existing file is reused, never overwritten.
func (c *ArxivClient) DownloadPDF(ctx context.Context, pdfURL, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		logger.Debug("PDF already cached", "path", destPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pdf download failed: %w", utils.ErrSourceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pdf download returned %d: %w", resp.StatusCode, utils.ErrSourceUnavailable)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return fmt.Errorf("reading pdf body: %w", err)
	}

	// O_EXCL enforces write-once; a concurrent writer loses cleanly.
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(destPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return err
	}

	logger.Info("Downloaded PDF", "url", pdfURL, "path", destPath, "bytes", len(body))
	return nil
}

// decodeBody handles Content-Encoding the standard transport does not:
// brotli (br) needs manual decoding, gzip appears when the server sets it
// explicitly.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}

	return io.ReadAll(reader)
}

// FormatCitation renders the provenance string carried by every chunk:
// [First Author et al., Year, arXiv:ID].
func FormatCitation(authors []string, year int, arxivID string) string {
	switch {
	case len(authors) == 0:
		return fmt.Sprintf("[arXiv:%s]", arxivID)
	case len(authors) == 1:
		return fmt.Sprintf("[%s, %d, arXiv:%s]", lastName(authors[0]), year, arxivID)
	default:
		return fmt.Sprintf("[%s et al., %d, arXiv:%s]", lastName(authors[0]), year, arxivID)
	}
}

func lastName(fullName string) string {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return fullName
	}
	return parts[len(parts)-1]
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
