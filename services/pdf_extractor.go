package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/ledongthuc/pdf"
	"google.golang.org/api/option"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/utils"
)

// TextExtractor is the extraction contract consumed by the researcher.
type TextExtractor interface {
	ExtractText(ctx context.Context, filePath string) (*ExtractionResult, error)
}

// PDFExtractor handles robust PDF text extraction
type PDFExtractor struct {
	config       *config.Config
	geminiClient *genai.Client
}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor(cfg *config.Config) *PDFExtractor {
	return &PDFExtractor{
		config: cfg,
	}
}

// ExtractionResult contains the result of PDF text extraction
type ExtractionResult struct {
	Text           string
	Pages          int
	Method         string
	QualityScore   float64
	ProcessingTime time.Duration
	WordCount      int
	CharacterCount int
}

// ExtractText extracts text from a cached PDF, trying methods in order of
// preference and keeping the best result by quality score. Returns
// ErrExtractionFailure when nothing usable comes out; the caller excludes
// the document and the job proceeds.
func (e *PDFExtractor) ExtractText(ctx context.Context, filePath string) (*ExtractionResult, error) {
	start := time.Now()

	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) <= 0 {
			return nil, fmt.Errorf("context deadline exceeded before extraction")
		}
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if stat.Size() > 200<<20 { // 200MB safety cap
		return nil, fmt.Errorf("pdf too large for in-memory extraction: %w", utils.ErrExtractionFailure)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}

	methods := []struct {
		name    string
		extract func(context.Context, []byte) (*ExtractionResult, error)
	}{
		{"go-pdf", e.extractWithGoPDF},
		{"gemini", e.extractWithGemini},
	}

	var lastErr error
	var bestResult *ExtractionResult

	for _, method := range methods {
		result, err := method.extract(ctx, content)
		if err != nil {
			logger.Debug("Extraction method failed", "method", method.name, "error", err)
			lastErr = err
			continue
		}

		result.Method = method.name
		result.ProcessingTime = time.Since(start)
		result.QualityScore = evaluateTextQuality(result.Text)

		logger.Debug("Extraction attempt", "method", method.name,
			"chars", len(result.Text), "quality", result.QualityScore)

		if result.QualityScore >= 0.7 {
			return result, nil
		}

		if bestResult == nil || result.QualityScore > bestResult.QualityScore {
			bestResult = result
		}
	}

	if bestResult != nil && bestResult.QualityScore >= 0.3 {
		logger.Warn("Using best available extraction", "method", bestResult.Method,
			"quality", bestResult.QualityScore)
		return bestResult, nil
	}

	return nil, fmt.Errorf("all extraction methods failed (last: %v): %w", lastErr, utils.ErrExtractionFailure)
}

// extractWithGoPDF uses the Go PDF library for extraction
func (e *PDFExtractor) extractWithGoPDF(ctx context.Context, content []byte) (*ExtractionResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var textBuilder strings.Builder
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Debug("Failed to extract page text", "page", i, "error", err)
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	extractedText := textBuilder.String()
	if len(strings.TrimSpace(extractedText)) == 0 {
		return nil, fmt.Errorf("no text extracted by go-pdf")
	}

	result := &ExtractionResult{
		Text:  extractedText,
		Pages: pages,
	}

	analyzeText(result)
	return result, nil
}

// extractWithGemini uploads the PDF and asks Gemini for a verbatim text
// extraction. Used as a fallback for PDFs go-pdf cannot read.
func (e *PDFExtractor) extractWithGemini(ctx context.Context, content []byte) (*ExtractionResult, error) {
	if e.config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}

	if e.geminiClient == nil {
		client, err := genai.NewClient(ctx, option.WithAPIKey(e.config.GeminiAPIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		e.geminiClient = client
	}

	file, err := e.geminiClient.UploadFile(ctx, "", bytes.NewReader(content), &genai.UploadFileOptions{
		MIMEType: "application/pdf",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file to gemini: %w", err)
	}
	defer e.geminiClient.DeleteFile(ctx, file.Name)

	model := e.geminiClient.GenerativeModel(e.config.GeminiModel)
	model.SetTemperature(0.1)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(`You are a precise document text extractor. Extract ALL text content from this PDF exactly as it appears, maintaining original formatting, line breaks, and structure. Do not summarize, interpret, or modify the content.`)},
	}

	resp, err := model.GenerateContent(ctx,
		genai.FileData{URI: file.URI},
		genai.Text("Extract all text content from this PDF document. Maintain original formatting and structure."),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini text extraction failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no text extracted by gemini")
	}

	extractedText := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			extractedText += string(textPart)
		}
	}

	result := &ExtractionResult{
		Text:  extractedText,
		Pages: guessPageCount(extractedText),
	}

	analyzeText(result)
	return result, nil
}

// evaluateTextQuality assesses the quality of extracted text
func evaluateTextQuality(text string) float64 {
	if len(text) == 0 {
		return 0.0
	}

	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted int

	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t':
			printable++
		case r == '�':
			corrupted++
		case r >= 32 && r <= 126:
			printable++
		case r > 127 && isCommonUnicodeChar(r):
			printable++
		default:
			corrupted++
		}
	}

	total := len([]rune(text))
	if total == 0 {
		return 0.0
	}

	alphanumericRatio := float64(alphanumeric) / float64(total)
	printableRatio := float64(printable) / float64(total)
	corruptedRatio := float64(corrupted) / float64(total)

	score := printableRatio * 0.5

	if alphanumericRatio >= 0.3 {
		score += 0.3
	} else {
		score += alphanumericRatio
	}

	score -= corruptedRatio * 2.0

	if len(text) > 100 {
		score += 0.2
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return score
}

// isCommonUnicodeChar checks if a character is a common Unicode character
func isCommonUnicodeChar(r rune) bool {
	common := []rune{'—', '“', '”', '‘', '’', '…', '€', '£', '¥', '©', '®', '™', '°', 'µ', '±', '×'}
	for _, c := range common {
		if r == c {
			return true
		}
	}
	return false
}

// analyzeText fills in word/character counts on extracted text
func analyzeText(result *ExtractionResult) {
	result.WordCount = len(strings.Fields(result.Text))
	result.CharacterCount = len(result.Text)
}

func guessPageCount(text string) int {
	// ~3000 characters per page of extracted text
	pages := len(text) / 3000
	if pages < 1 {
		pages = 1
	}
	return pages
}
