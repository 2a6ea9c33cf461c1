package services

import (
	"context"
	"fmt"
	"strings"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/models"
	"research-insight-platform/utils"
)

// TextGenerator is the LLM contract consumed by the analysis stages.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Queries used to pull finding-bearing chunks out of the index.
var findingQueries = []string{
	"key findings and main results",
	"experimental results and measurements",
	"conclusions and contributions",
}

// Queries used to surface chunks likely to disagree across papers.
var conflictQueries = []string{
	"conflicting results",
	"opposing findings",
	"different conclusions",
}

const (
	findingsPerDocument = 3
	chunksPerQuery      = 4
	excerptsPerSide     = 2
	minSubstantiveChars = 200
	skipSentinel        = "SKIP"
)

// Analyzer runs the second pipeline stage: extract cited key findings per
// document, then classify cross-document claim pairs through the strict
// contradiction protocol.
type Analyzer struct {
	config   *config.Config
	llm      TextGenerator
	embedder Embedder
}

func NewAnalyzer(cfg *config.Config, llm TextGenerator, embedder Embedder) *Analyzer {
	return &Analyzer{config: cfg, llm: llm, embedder: embedder}
}

func (a *Analyzer) Run(ctx context.Context, job *models.Job, index *VectorIndex, docs []models.Document) (*models.Analysis, error) {
	if index.Len() == 0 {
		return nil, fmt.Errorf("analysis over empty index: %w", utils.ErrEmptyCorpus)
	}

	findings, err := a.extractFindings(ctx, index, docs)
	if err != nil {
		return nil, err
	}

	contradictions, complementary, err := a.classifyPairs(ctx, job.Topic, index, docs)
	if err != nil {
		return nil, err
	}

	logger.Info("Analysis stage complete", "job_id", job.ID,
		"findings", len(findings), "contradictions", len(contradictions),
		"complementary", len(complementary))

	return &models.Analysis{
		KeyFindings:    findings,
		Contradictions: contradictions,
		Complementary:  complementary,
	}, nil
}

// extractFindings retrieves finding-bearing chunks and asks the model to
// state each as one cited sentence. Thin or duplicate chunks are dropped
// before spending a model call on them. Findings come out in retrieval hit
// order, most relevant first, not grouped by document.
func (a *Analyzer) extractFindings(ctx context.Context, index *VectorIndex, docs []models.Document) ([]models.Finding, error) {
	usable := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if doc.ExtractionStatus == models.ExtractionSuccess {
			usable[doc.ArxivID] = true
		}
	}

	perDoc := make(map[string]int)
	seen := make(map[string]bool)
	var ordered []models.Chunk

	for _, query := range findingQueries {
		vec, err := a.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embedding finding query: %w", err)
		}
		for _, hit := range index.Search(vec, chunksPerQuery*len(docs)) {
			chunk := hit.Chunk
			if !usable[chunk.DocumentID] || len(chunk.Text) < minSubstantiveChars {
				continue
			}
			if perDoc[chunk.DocumentID] >= findingsPerDocument {
				continue
			}
			// Dedupe near-identical chunks by prefix.
			key := chunk.DocumentID + "|" + prefixKey(chunk.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			perDoc[chunk.DocumentID]++
			ordered = append(ordered, chunk)
		}
	}

	var findings []models.Finding
	for _, chunk := range ordered {
		statement, err := a.stateFinding(ctx, chunk)
		if err != nil {
			logger.Warn("Finding extraction call failed", "arxiv_id", chunk.DocumentID, "error", err)
			continue
		}
		if statement == "" {
			continue
		}
		findings = append(findings, models.Finding{
			Statement:  statement,
			Citation:   chunk.Citation,
			DocumentID: chunk.DocumentID,
		})
	}
	return findings, nil
}

// stateFinding turns one chunk into a single finding sentence, or returns
// empty when the model judges the chunk non-substantive.
func (a *Analyzer) stateFinding(ctx context.Context, chunk models.Chunk) (string, error) {
	prompt := fmt.Sprintf(`You are extracting research findings from a paper excerpt.

Excerpt:
%s

State the single most important research finding in this excerpt as one
complete, self-contained sentence. Report only what the excerpt says.
If the excerpt contains no substantive research finding (references,
acknowledgements, boilerplate), reply with exactly %s.

Reply with the sentence only, no preamble.`, chunk.Text, skipSentinel)

	resp, err := a.llm.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}

	statement := strings.TrimSpace(resp)
	if statement == "" || strings.EqualFold(statement, skipSentinel) {
		return "", nil
	}
	if isConversational(statement) {
		return "", nil
	}
	return firstLine(statement), nil
}

// classifyPairs runs the contradiction protocol over document pairs, capped
// at MaxPairChecks model calls per job. Pairs are classified in the order
// they were first co-retrieved: a pair exists once the later of its two
// documents enters the conflict-query hit stream.
func (a *Analyzer) classifyPairs(ctx context.Context, topic string, index *VectorIndex, docs []models.Document) (contradictions, complementary []models.ContradictionVerdict, err error) {
	byID := make(map[string]models.Document, len(docs))
	for _, doc := range docs {
		if doc.ExtractionStatus == models.ExtractionSuccess {
			byID[doc.ArxivID] = doc
		}
	}
	if len(byID) < 2 {
		return nil, nil, nil
	}

	excerpts, order, err := a.conflictExcerpts(ctx, index)
	if err != nil {
		return nil, nil, err
	}

	checks := 0
	for j := 1; j < len(order) && checks < a.config.MaxPairChecks; j++ {
		docB, ok := byID[order[j]]
		if !ok {
			continue
		}
		for i := 0; i < j && checks < a.config.MaxPairChecks; i++ {
			docA, ok := byID[order[i]]
			if !ok {
				continue
			}
			checks++

			verdict := a.classifyPair(ctx, topic, docA, docB, excerpts[docA.ArxivID], excerpts[docB.ArxivID])
			switch verdict.Classification {
			case models.ClassContradiction:
				contradictions = append(contradictions, verdict)
			case models.ClassComplementary:
				complementary = append(complementary, verdict)
			}
			// UNRELATED verdicts are dropped; they carry no signal worth
			// reporting.
		}
	}
	return contradictions, complementary, nil
}

// conflictExcerpts gathers, per document, the chunks most likely to carry
// contested claims, plus the document ids in first-hit order.
func (a *Analyzer) conflictExcerpts(ctx context.Context, index *VectorIndex) (map[string][]models.Chunk, []string, error) {
	perDoc := make(map[string][]models.Chunk)
	seen := make(map[string]bool)
	var order []string

	for _, query := range conflictQueries {
		vec, err := a.embedder.Embed(ctx, query)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding conflict query: %w", err)
		}
		for _, hit := range index.Search(vec, index.Len()) {
			chunk := hit.Chunk
			if len(perDoc[chunk.DocumentID]) >= excerptsPerSide {
				continue
			}
			key := chunk.DocumentID + "|" + prefixKey(chunk.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			if len(perDoc[chunk.DocumentID]) == 0 {
				order = append(order, chunk.DocumentID)
			}
			perDoc[chunk.DocumentID] = append(perDoc[chunk.DocumentID], chunk)
		}
	}
	return perDoc, order, nil
}

// classifyPair asks the model for a strict categorical verdict on one
// document pair. A malformed reply gets exactly one stricter retry; a
// second failure defaults to COMPLEMENTARY, never to CONTRADICTION.
func (a *Analyzer) classifyPair(ctx context.Context, topic string, docA, docB models.Document, sideA, sideB []models.Chunk) models.ContradictionVerdict {
	verdict := models.ContradictionVerdict{
		Classification: models.ClassComplementary,
		DocumentA:      docA.ArxivID,
		DocumentB:      docB.ArxivID,
		CitationA:      docA.Citation,
		CitationB:      docB.Citation,
		Justification:  "defaulted after unparseable model output",
	}

	for attempt := 0; attempt <= formatRetries(a.config); attempt++ {
		strict := attempt > 0
		resp, err := a.llm.GenerateText(ctx, a.pairPrompt(topic, docA, docB, sideA, sideB, strict))
		if err != nil {
			logger.Warn("Classification call failed", "doc_a", docA.ArxivID,
				"doc_b", docB.ArxivID, "error", err)
			continue
		}
		parsed, perr := parseVerdict(resp)
		if perr != nil {
			logger.Debug("Unparseable classification", "doc_a", docA.ArxivID,
				"doc_b", docB.ArxivID, "attempt", attempt+1, "error", perr)
			continue
		}
		applyVerdict(&verdict, parsed)
		return verdict
	}

	logger.Warn("Classification exhausted retries, defaulting to COMPLEMENTARY",
		"doc_a", docA.ArxivID, "doc_b", docB.ArxivID)
	return verdict
}

// formatRetries is the retry budget for the strict wire formats. Never
// below one: the protocol always grants a single stricter second chance.
func formatRetries(cfg *config.Config) int {
	if cfg.LLMFormatRetries > 0 {
		return cfg.LLMFormatRetries
	}
	return 1
}

func (a *Analyzer) pairPrompt(topic string, docA, docB models.Document, sideA, sideB []models.Chunk, strict bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, `You are comparing claims from two research papers on %q.

Paper A %s:
%s

Paper B %s:
%s

Classify the relationship between the papers' claims as exactly one of:
CONTRADICTION - the papers make directly incompatible claims about the same question
COMPLEMENTARY - the papers address the same area with compatible or additive claims
UNRELATED - the excerpts do not address a common question
If the excerpts give too little information to judge, reply UNRELATED.

Do NOT invent disagreement. Differences in scope, dataset, notation or
emphasis are not contradictions. Only report CONTRADICTION when both
excerpts state incompatible claims you can quote.

Reply in exactly this format:
CATEGORY: <one of CONTRADICTION, COMPLEMENTARY, UNRELATED>
JUSTIFICATION: <one sentence>
EVIDENCE_1: <verbatim quote from Paper A, required for CONTRADICTION>
EVIDENCE_2: <verbatim quote from Paper B, required for CONTRADICTION>`,
		topic, docA.Citation, joinChunks(sideA), docB.Citation, joinChunks(sideB))

	if strict {
		b.WriteString("\n\nYour previous reply did not match the required format. " +
			"Reply with ONLY the four labeled lines above and nothing else.")
	}
	return b.String()
}

// parsedVerdict is the raw labeled-line output before validation.
type parsedVerdict struct {
	category      string
	justification string
	evidenceA     string
	evidenceB     string
}

// parseVerdict extracts the labeled lines from a model reply. Returns
// ErrModelFormat when the category line is missing, carries an unknown
// value, or the justification line is absent: every verdict must explain
// itself.
func parseVerdict(resp string) (parsedVerdict, error) {
	var out parsedVerdict

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CATEGORY:"):
			out.category = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "CATEGORY:")))
		case strings.HasPrefix(line, "JUSTIFICATION:"):
			out.justification = strings.TrimSpace(strings.TrimPrefix(line, "JUSTIFICATION:"))
		case strings.HasPrefix(line, "EVIDENCE_1:"):
			out.evidenceA = strings.TrimSpace(strings.TrimPrefix(line, "EVIDENCE_1:"))
		case strings.HasPrefix(line, "EVIDENCE_2:"):
			out.evidenceB = strings.TrimSpace(strings.TrimPrefix(line, "EVIDENCE_2:"))
		}
	}

	switch out.category {
	case string(models.ClassContradiction), string(models.ClassComplementary), string(models.ClassUnrelated):
	case "INSUFFICIENT":
		// Older prompt variants used INSUFFICIENT for too-little-signal.
		out.category = string(models.ClassUnrelated)
	default:
		return out, fmt.Errorf("category %q: %w", out.category, utils.ErrModelFormat)
	}

	if out.justification == "" {
		return out, fmt.Errorf("missing justification: %w", utils.ErrModelFormat)
	}
	return out, nil
}

// applyVerdict validates a parsed verdict into the output struct. A
// CONTRADICTION without verbatim evidence from both sides is downgraded to
// COMPLEMENTARY.
func applyVerdict(v *models.ContradictionVerdict, p parsedVerdict) {
	v.Classification = models.Classification(p.category)
	v.Justification = p.justification
	v.ExcerptA = p.evidenceA
	v.ExcerptB = p.evidenceB

	if v.Classification == models.ClassContradiction && (p.evidenceA == "" || p.evidenceB == "") {
		v.Classification = models.ClassComplementary
		v.Justification = "downgraded: contradiction claimed without evidence from both papers"
		v.ExcerptA = ""
		v.ExcerptB = ""
	}
}

func joinChunks(chunks []models.Chunk) string {
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = chunk.Text
	}
	return strings.Join(parts, "\n---\n")
}

func prefixKey(text string) string {
	if len(text) > 100 {
		return text[:100]
	}
	return text
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// isConversational filters model replies that talk about the task instead
// of doing it.
func isConversational(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range []string{
		"i cannot", "i can't", "as an ai", "i'm unable", "i am unable",
		"the excerpt does not", "there is no",
	} {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}
