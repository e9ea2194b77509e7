// Package regulatory layers banking-supervision expertise over the base
// retrieval pipeline: regulatory re-ranking, typed source citations
// grouped by document family, and role-tailored prompting for the
// professionals who file COREP, FINREP, and Basel returns.
package regulatory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ovokpus/regcopilot/internal/chat"
	"github.com/ovokpus/regcopilot/internal/rag"
	"github.com/ovokpus/regcopilot/internal/store"
	"github.com/ovokpus/regcopilot/internal/telemetry"
)

// Re-ranking defaults. The weights trade cosine similarity against the
// regulatory relevance score; the boost rewards caller-prioritized
// sources before combination.
const (
	DefaultCosineWeight     = 0.7
	DefaultRegulatoryWeight = 0.3
	DefaultPriorityBoost    = 1.5
	DefaultOverFetch        = 2
)

// Query is one enhanced retrieval request.
type Query struct {
	// Text is the user's question.
	Text string

	// Role tailors the system prompt. Unknown roles degrade to general.
	Role Role

	// K is the number of chunks to keep after re-ranking. Values below
	// one fall back to the enhancer default.
	K int

	// DocTypes, when non-empty, whitelists document types before
	// re-ranking.
	DocTypes []string

	// PrioritySources boosts chunks whose filename contains any of the
	// given substrings, case-insensitively.
	PrioritySources []string
}

// ScoredResult pairs a retrieved chunk with its regulatory relevance.
type ScoredResult struct {
	store.SearchResult

	// RegulatoryScore is the additive keyword/type/sheet score in [0,1].
	RegulatoryScore float64
}

// Source describes one cited chunk in an enhanced answer.
type Source struct {
	Filename        string  `json:"filename"`
	DocType         string  `json:"doc_type"`
	RegulatoryType  string  `json:"regulatory_type"`
	SourceLocation  string  `json:"source_location"`
	RelevanceScore  float64 `json:"relevance_score"`
	RegulatoryScore float64 `json:"regulatory_score"`
}

// Result is an enhanced answer with scored regulatory provenance.
type Result struct {
	// Response is the markdown answer or a canned fallback.
	Response string

	// Sources lists the cited chunks in rank order.
	Sources []Source

	// Metadata is a human-readable provenance line per cited chunk.
	Metadata string

	// Role is the normalized role the answer was tailored for.
	Role Role

	// RegulatoryContext reports whether the enhanced path produced the
	// answer.
	RegulatoryContext bool

	// Fallback reports that the enhancer failed and the base pipeline
	// answered instead.
	Fallback bool
}

// Enhancer wraps the base pipeline with regulatory retrieval and
// prompting. Safe for concurrent use.
type Enhancer struct {
	retriever     rag.Retriever
	chat          chat.Client
	base          *rag.Pipeline
	topK          int
	overFetch     int
	cosineWeight  float64
	regWeight     float64
	priorityBoost float64
	metrics       *telemetry.Metrics
	logger        *slog.Logger
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithTopK sets the default number of chunks kept after re-ranking.
func WithTopK(k int) Option {
	return func(e *Enhancer) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithOverFetch sets the candidate multiplier fetched before filtering
// and re-ranking.
func WithOverFetch(n int) Option {
	return func(e *Enhancer) {
		if n > 0 {
			e.overFetch = n
		}
	}
}

// WithWeights sets the cosine and regulatory weights used for
// re-ranking. Non-positive pairs are ignored.
func WithWeights(cosine, regulatory float64) Option {
	return func(e *Enhancer) {
		if cosine <= 0 && regulatory <= 0 {
			return
		}
		e.cosineWeight = cosine
		e.regWeight = regulatory
	}
}

// WithPriorityBoost sets the multiplier applied to the cosine score of
// caller-prioritized sources.
func WithPriorityBoost(boost float64) Option {
	return func(e *Enhancer) {
		if boost > 0 {
			e.priorityBoost = boost
		}
	}
}

// WithMetrics sets an optional query telemetry collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Enhancer) {
		e.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enhancer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEnhancer creates a regulatory enhancer over the given retriever
// and chat client. The base pipeline it falls back to is built from the
// same dependencies.
func NewEnhancer(retriever rag.Retriever, chatClient chat.Client, opts ...Option) (*Enhancer, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever is required", rag.ErrNilDependency)
	}
	if chatClient == nil {
		return nil, fmt.Errorf("%w: chat client is required", rag.ErrNilDependency)
	}

	e := &Enhancer{
		retriever:     retriever,
		chat:          chatClient,
		topK:          rag.DefaultTopK,
		overFetch:     DefaultOverFetch,
		cosineWeight:  DefaultCosineWeight,
		regWeight:     DefaultRegulatoryWeight,
		priorityBoost: DefaultPriorityBoost,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	base, err := rag.NewPipeline(retriever, chatClient,
		rag.WithTopK(e.topK),
		rag.WithMetrics(e.metrics),
		rag.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	e.base = base

	return e, nil
}

// Run retrieves, re-ranks, and answers with the role-tailored
// regulatory prompt. Any enhanced-path failure falls back to the base
// pipeline; only context cancellation surfaces as an error.
func (e *Enhancer) Run(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()

	role := NormalizeRole(string(q.Role))
	query := strings.TrimSpace(q.Text)
	if query == "" {
		return noResultsResult(role), nil
	}
	k := q.K
	if k <= 0 {
		k = e.topK
	}

	results, err := e.Search(ctx, q)
	if err != nil {
		return e.fallback(ctx, query, k, err)
	}

	e.record(query, len(results), start)

	if len(results) == 0 {
		return noResultsResult(role), nil
	}

	contextBlock, metadataInfo := formatContext(results)

	answer, err := e.chat.Complete(ctx, []chat.Message{
		chat.System(systemPrompt(role)),
		chat.User(userPrompt(query, contextBlock)),
	})
	if err != nil {
		return e.fallback(ctx, query, k, err)
	}

	return &Result{
		Response:          answer,
		Sources:           sourcesOf(results),
		Metadata:          metadataInfo,
		Role:              role,
		RegulatoryContext: true,
	}, nil
}

// Stream runs the enhancer and relays the answer to emit paragraph by
// paragraph. The full result is returned for provenance.
func (e *Enhancer) Stream(ctx context.Context, q Query, emit func(string) error) (*Result, error) {
	result, err := e.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	return result, rag.StreamParagraphs(result.Response, emit)
}

// Search retrieves an over-fetched candidate set, applies the doc-type
// whitelist and priority boost, scores regulatory relevance, and keeps
// the top k by combined score. Ties keep retrieval order.
func (e *Enhancer) Search(ctx context.Context, q Query) ([]ScoredResult, error) {
	query := strings.TrimSpace(q.Text)
	k := q.K
	if k <= 0 {
		k = e.topK
	}

	candidates, err := e.retriever.Search(ctx, query, k*e.overFetch)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredResult, 0, len(candidates))
	for _, res := range candidates {
		if len(q.DocTypes) > 0 &&
			!slices.Contains(q.DocTypes, res.Metadata.GetString(store.KeyDocType)) {
			continue
		}
		if matchesPriority(res.Metadata.GetString(store.KeyFilename), q.PrioritySources) {
			res.Score *= e.priorityBoost
		}
		scored = append(scored, ScoredResult{
			SearchResult:    res,
			RegulatoryScore: regulatoryRelevance(res, query),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return e.combined(scored[i]) > e.combined(scored[j])
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (e *Enhancer) combined(r ScoredResult) float64 {
	return r.Score*e.cosineWeight + r.RegulatoryScore*e.regWeight
}

// fallback answers with the base pipeline after an enhanced-path
// failure.
func (e *Enhancer) fallback(ctx context.Context, query string, k int, cause error) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.logger.Warn("enhanced pipeline failed, falling back", "error", cause)

	base, err := e.base.Run(ctx, query, k)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Error("fallback pipeline failed", "error", err)
		return errorResult(cause), nil
	}

	return &Result{
		Response: base.Response,
		Sources:  baseSources(base.SearchResults),
		Metadata: base.Metadata,
		Fallback: true,
	}, nil
}

func (e *Enhancer) record(query string, resultCount int, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(query, telemetry.KindRegulatory, resultCount, time.Since(start))
}

// regulatoryRelevance scores a chunk's regulatory weight in [0,1]:
// +0.1 per keyword in the content and +0.2 per keyword in the query,
// +0.3 for template/framework chunks (+0.2 for calculations and
// lineage), +0.2 for regulatory-named Excel sheets.
func regulatoryRelevance(res store.SearchResult, query string) float64 {
	score := 0.0
	content := strings.ToLower(res.Text)
	queryLower := strings.ToLower(query)

	for _, keyword := range regulatoryKeywords {
		if strings.Contains(content, keyword) {
			score += 0.1
		}
		if strings.Contains(queryLower, keyword) {
			score += 0.2
		}
	}

	switch res.Metadata.GetString(store.KeyRegulatoryType) {
	case store.RegTypeCOREPTemplate, store.RegTypeFINREPTemplate, store.RegTypeBaselDocument:
		score += 0.3
	case store.RegTypeRegulatoryCalculation, store.RegTypeDataLineage:
		score += 0.2
	}

	if res.Metadata.GetString(store.KeyDocType) == store.DocTypeExcel {
		sheet := strings.ToLower(res.Metadata.GetString(store.KeySheetName))
		for _, term := range []string{"corep", "finrep", "capital", "liquidity"} {
			if strings.Contains(sheet, term) {
				score += 0.2
				break
			}
		}
	}

	return math.Min(score, 1.0)
}

// matchesPriority reports whether filename contains any priority
// substring, case-insensitively.
func matchesPriority(filename string, priorities []string) bool {
	if len(priorities) == 0 {
		return false
	}
	f := strings.ToLower(filename)
	for _, p := range priorities {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(f, p) {
			return true
		}
	}
	return false
}

// formatContext renders ranked chunks grouped by document type, each
// group under a "## <TYPE> DOCUMENTS" heading with typed citations.
// Groups appear in first-encounter rank order and end with a spacer
// section.
func formatContext(results []ScoredResult) (contextBlock, metadataInfo string) {
	var order []string
	grouped := make(map[string][]ScoredResult)
	for _, res := range results {
		docType := res.Metadata.GetString(store.KeyDocType)
		if docType == "" {
			docType = "unknown"
		}
		if _, ok := grouped[docType]; !ok {
			order = append(order, docType)
		}
		grouped[docType] = append(grouped[docType], res)
	}

	var contextParts, metadataParts []string
	for _, docType := range order {
		contextParts = append(contextParts, fmt.Sprintf("## %s DOCUMENTS", strings.ToUpper(docType)))

		for _, res := range grouped[docType] {
			content := strings.TrimSpace(res.Text)
			if content == "" {
				continue
			}
			cite := citation(res.Metadata)
			contextParts = append(contextParts, fmt.Sprintf("[%s]\n%s", cite, content))
			metadataParts = append(metadataParts,
				fmt.Sprintf("%s, Relevance: %.3f, Regulatory: %.3f", cite, res.Score, res.RegulatoryScore))
		}

		contextParts = append(contextParts, "")
	}

	return strings.Join(contextParts, "\n\n---\n\n"), strings.Join(metadataParts, " | ")
}

// citation renders the most precise provenance line the chunk's
// metadata allows.
func citation(md store.Metadata) string {
	filename := md.GetString(store.KeyFilename)
	if filename == "" {
		filename = "Unknown"
	}

	switch md.GetString(store.KeyDocType) {
	case store.DocTypePDF:
		page := md.GetInt(store.KeyPageNumber)
		if page < 1 {
			page = 1
		}
		return fmt.Sprintf("Source: %s, Page %d", filename, page)

	case store.DocTypeExcel:
		sheet := md.GetString(store.KeySheetName)
		if sheet == "" {
			sheet = "Unknown"
		}
		rangeInfo := ""
		maxRow := md.GetInt(store.KeyMaxRow)
		maxCol := md.GetInt(store.KeyMaxColumn)
		if maxRow > 0 && maxCol > 0 {
			if col, err := excelize.ColumnNumberToName(maxCol); err == nil {
				rangeInfo = fmt.Sprintf(" (Rows: 1-%d, Cols: A-%s)", maxRow, col)
			}
		}
		return fmt.Sprintf("Source: %s, Sheet '%s'%s", filename, sheet, rangeInfo)

	case store.DocTypePowerPoint:
		slide := md.GetInt(store.KeySlideNumber)
		if slide < 1 {
			slide = 1
		}
		return fmt.Sprintf("Source: %s, Slide %d", filename, slide)

	case store.DocTypeCode, store.DocTypeSQL:
		var b strings.Builder
		fmt.Fprintf(&b, "Source: %s", filename)
		if lang := md.GetString(store.KeyLanguage); lang != "" {
			fmt.Fprintf(&b, " (%s)", lang)
		}
		if lines := md.GetInt(store.KeyLineCount); lines > 0 {
			fmt.Fprintf(&b, ", %d lines", lines)
		}
		return b.String()

	default:
		return fmt.Sprintf("Source: %s", filename)
	}
}

func sourcesOf(results []ScoredResult) []Source {
	sources := make([]Source, 0, len(results))
	for _, res := range results {
		sources = append(sources, Source{
			Filename:        res.Metadata.GetString(store.KeyFilename),
			DocType:         res.Metadata.GetString(store.KeyDocType),
			RegulatoryType:  res.Metadata.GetString(store.KeyRegulatoryType),
			SourceLocation:  citation(res.Metadata),
			RelevanceScore:  res.Score,
			RegulatoryScore: res.RegulatoryScore,
		})
	}
	return sources
}

func baseSources(results []store.SearchResult) []Source {
	sources := make([]Source, 0, len(results))
	for _, res := range results {
		sources = append(sources, Source{
			Filename:       res.Metadata.GetString(store.KeyFilename),
			DocType:        res.Metadata.GetString(store.KeyDocType),
			RegulatoryType: res.Metadata.GetString(store.KeyRegulatoryType),
			SourceLocation: citation(res.Metadata),
			RelevanceScore: res.Score,
		})
	}
	return sources
}
