package regulatory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovokpus/regcopilot/internal/chat"
	"github.com/ovokpus/regcopilot/internal/rag"
	"github.com/ovokpus/regcopilot/internal/store"
	"github.com/ovokpus/regcopilot/internal/telemetry"
)

// stubRetriever serves fixed results and records the requested depth.
type stubRetriever struct {
	results []store.SearchResult
	err     error
	lastK   int
	calls   int
}

var _ rag.Retriever = (*stubRetriever)(nil)

func (s *stubRetriever) Search(ctx context.Context, query string, k int) ([]store.SearchResult, error) {
	s.calls++
	s.lastK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

// stubChat returns a canned answer; failFirst makes only the first call
// fail, which exercises the fallback path.
type stubChat struct {
	answer    string
	err       error
	failFirst bool
	calls     int
	messages  [][]chat.Message
}

var _ chat.Client = (*stubChat)(nil)

func (s *stubChat) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	s.calls++
	s.messages = append(s.messages, messages)
	if s.err != nil && (!s.failFirst || s.calls == 1) {
		return "", s.err
	}
	return s.answer, nil
}

func (s *stubChat) Stream(ctx context.Context, messages []chat.Message, onDelta func(string) error) error {
	answer, err := s.Complete(ctx, messages)
	if err != nil {
		return err
	}
	return onDelta(answer)
}

func (s *stubChat) ModelName() string { return "stub-model" }
func (s *stubChat) Close() error      { return nil }

func pdfResult(text, filename string, score float64, regType string) store.SearchResult {
	md := store.Metadata{
		store.KeyFilename:   store.String(filename),
		store.KeyDocType:    store.String(store.DocTypePDF),
		store.KeyPageNumber: store.Int(3),
		store.KeyChunkIndex: store.Int(0),
	}
	if regType != "" {
		md[store.KeyRegulatoryType] = store.String(regType)
	}
	return store.SearchResult{Text: text, Score: score, Metadata: md}
}

func textResult(text, filename string, score float64) store.SearchResult {
	return store.SearchResult{
		Text:  text,
		Score: score,
		Metadata: store.Metadata{
			store.KeyFilename: store.String(filename),
			store.KeyDocType:  store.String(store.DocTypeText),
		},
	}
}

func excelMetadata(filename, sheet string, maxRow, maxCol int) store.Metadata {
	return store.Metadata{
		store.KeyFilename:  store.String(filename),
		store.KeyDocType:   store.String(store.DocTypeExcel),
		store.KeySheetName: store.String(sheet),
		store.KeyMaxRow:    store.Int(maxRow),
		store.KeyMaxColumn: store.Int(maxCol),
	}
}

func newTestEnhancer(t *testing.T, retriever rag.Retriever, chatClient chat.Client, opts ...Option) *Enhancer {
	t.Helper()
	e, err := NewEnhancer(retriever, chatClient, opts...)
	require.NoError(t, err)
	return e
}

func TestNewEnhancerRequiresDependencies(t *testing.T) {
	_, err := NewEnhancer(nil, &stubChat{})
	require.ErrorIs(t, err, rag.ErrNilDependency)

	_, err = NewEnhancer(&stubRetriever{}, nil)
	require.ErrorIs(t, err, rag.ErrNilDependency)
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, RoleAnalyst, NormalizeRole("analyst"))
	assert.Equal(t, RoleDataEngineer, NormalizeRole(" data_engineer "))
	assert.Equal(t, RoleProgrammeManager, NormalizeRole("programme_manager"))
	assert.Equal(t, RoleGeneral, NormalizeRole("general"))
	assert.Equal(t, RoleGeneral, NormalizeRole("cfo"))
	assert.Equal(t, RoleGeneral, NormalizeRole(""))
}

func TestSupportedRolesAndFrameworks(t *testing.T) {
	roles := SupportedRoles()
	assert.Len(t, roles, 4)
	assert.Contains(t, roles, RoleAnalyst)
	assert.Equal(t, "Regulatory Analyst", RoleName(RoleAnalyst))
	assert.Equal(t, "General User", RoleName(Role("bogus")))

	fw := Frameworks()
	assert.Equal(t, "Basel III Capital Requirements", fw["basel_iii"])
	assert.Equal(t, "Common Reporting (COREP)", fw["corep"])
	assert.Len(t, fw, 6)

	fw["basel_iii"] = "mutated"
	assert.Equal(t, "Basel III Capital Requirements", Frameworks()["basel_iii"])
}

func TestIsRegulatoryQuery(t *testing.T) {
	assert.True(t, IsRegulatoryQuery("How is the Basel III CET1 ratio derived?"))
	assert.True(t, IsRegulatoryQuery("show me the COREP template"))
	assert.True(t, IsRegulatoryQuery("liquidity stress outflows"))
	assert.False(t, IsRegulatoryQuery("what is the weather in Frankfurt"))
	assert.False(t, IsRegulatoryQuery(""))
}

func TestRegulatoryRelevance(t *testing.T) {
	t.Run("keyword hits in content and query", func(t *testing.T) {
		res := textResult("Basel III capital requirements for banks", "notes.txt", 0.5)
		// Content matches basel and capital; the query matches liquidity.
		score := regulatoryRelevance(res, "liquidity outflows")
		assert.InDelta(t, 0.1+0.1+0.2, score, 1e-9)
	})

	t.Run("template type boost", func(t *testing.T) {
		res := pdfResult("Own funds disclosures", "basel_iii.pdf", 0.5, store.RegTypeBaselDocument)
		score := regulatoryRelevance(res, "weather")
		assert.InDelta(t, 0.3, score, 1e-9)
	})

	t.Run("calculation type boost", func(t *testing.T) {
		res := pdfResult("Own funds disclosures", "calc.pdf", 0.5, store.RegTypeRegulatoryCalculation)
		score := regulatoryRelevance(res, "weather")
		assert.InDelta(t, 0.2, score, 1e-9)
	})

	t.Run("excel sheet name boost", func(t *testing.T) {
		res := store.SearchResult{
			Text:     "Rows of figures",
			Score:    0.5,
			Metadata: excelMetadata("corep_c0100.xlsx", "Capital Adequacy", 10, 4),
		}
		score := regulatoryRelevance(res, "weather")
		assert.InDelta(t, 0.2, score, 1e-9)
	})

	t.Run("caps at one", func(t *testing.T) {
		res := pdfResult(
			"basel corep finrep capital liquidity lcr nsfr cet1 tier 1 total capital risk weight exposure regulatory compliance reporting calculation template",
			"everything.pdf", 0.5, store.RegTypeCOREPTemplate)
		score := regulatoryRelevance(res, "basel corep finrep capital liquidity")
		assert.Equal(t, 1.0, score)
	})
}

func TestCitationFormats(t *testing.T) {
	tests := []struct {
		name string
		md   store.Metadata
		want string
	}{
		{
			name: "pdf with page",
			md: store.Metadata{
				store.KeyFilename:   store.String("basel_iii.pdf"),
				store.KeyDocType:    store.String(store.DocTypePDF),
				store.KeyPageNumber: store.Int(12),
			},
			want: "Source: basel_iii.pdf, Page 12",
		},
		{
			name: "pdf without page defaults to one",
			md: store.Metadata{
				store.KeyFilename: store.String("basel_iii.pdf"),
				store.KeyDocType:  store.String(store.DocTypePDF),
			},
			want: "Source: basel_iii.pdf, Page 1",
		},
		{
			name: "excel with range",
			md:   excelMetadata("corep.xlsx", "C 01.00", 42, 28),
			want: "Source: corep.xlsx, Sheet 'C 01.00' (Rows: 1-42, Cols: A-AB)",
		},
		{
			name: "excel without dimensions",
			md:   excelMetadata("corep.xlsx", "C 01.00", 0, 0),
			want: "Source: corep.xlsx, Sheet 'C 01.00'",
		},
		{
			name: "excel without sheet name",
			md: store.Metadata{
				store.KeyFilename: store.String("corep.xlsx"),
				store.KeyDocType:  store.String(store.DocTypeExcel),
			},
			want: "Source: corep.xlsx, Sheet 'Unknown'",
		},
		{
			name: "powerpoint",
			md: store.Metadata{
				store.KeyFilename:    store.String("steerco.pptx"),
				store.KeyDocType:     store.String(store.DocTypePowerPoint),
				store.KeySlideNumber: store.Int(7),
			},
			want: "Source: steerco.pptx, Slide 7",
		},
		{
			name: "code with language and lines",
			md: store.Metadata{
				store.KeyFilename:  store.String("lineage.py"),
				store.KeyDocType:   store.String(store.DocTypeCode),
				store.KeyLanguage:  store.String("python"),
				store.KeyLineCount: store.Int(120),
			},
			want: "Source: lineage.py (python), 120 lines",
		},
		{
			name: "sql statement",
			md: store.Metadata{
				store.KeyFilename: store.String("capital_calc.sql"),
				store.KeyDocType:  store.String(store.DocTypeSQL),
				store.KeyLanguage: store.String("sql"),
			},
			want: "Source: capital_calc.sql (sql)",
		},
		{
			name: "plain text",
			md: store.Metadata{
				store.KeyFilename: store.String("readme.txt"),
				store.KeyDocType:  store.String(store.DocTypeText),
			},
			want: "Source: readme.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, citation(tt.md))
		})
	}
}

func TestSearchOverFetchesAndReRanks(t *testing.T) {
	retriever := &stubRetriever{results: []store.SearchResult{
		textResult("Sunny weather is expected across the region", "notes.txt", 0.6),
		pdfResult("Basel III capital requirements for banks", "basel_iii.pdf", 0.55, store.RegTypeBaselDocument),
	}}
	e := newTestEnhancer(t, retriever, &stubChat{answer: "ok"})

	results, err := e.Search(context.Background(), Query{Text: "weather portfolio", K: 4})
	require.NoError(t, err)

	assert.Equal(t, 4*DefaultOverFetch, retriever.lastK)
	// 0.55*0.7 + 0.5*0.3 = 0.535 beats 0.6*0.7 = 0.42.
	require.Len(t, results, 2)
	assert.Equal(t, "basel_iii.pdf", results[0].Metadata.GetString(store.KeyFilename))
	assert.InDelta(t, 0.5, results[0].RegulatoryScore, 1e-9)
	assert.Equal(t, "notes.txt", results[1].Metadata.GetString(store.KeyFilename))
}

func TestSearchDocTypeWhitelist(t *testing.T) {
	retriever := &stubRetriever{results: []store.SearchResult{
		textResult("plain note", "notes.txt", 0.9),
		pdfResult("Basel text", "basel_iii.pdf", 0.4, ""),
	}}
	e := newTestEnhancer(t, retriever, &stubChat{answer: "ok"})

	results, err := e.Search(context.Background(), Query{
		Text:     "anything",
		K:        4,
		DocTypes: []string{store.DocTypePDF},
	})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "basel_iii.pdf", results[0].Metadata.GetString(store.KeyFilename))
}

func TestSearchPriorityBoost(t *testing.T) {
	retriever := &stubRetriever{results: []store.SearchResult{
		pdfResult("first doc", "alpha.pdf", 0.6, ""),
		pdfResult("second doc", "basel_iii.pdf", 0.5, ""),
	}}
	e := newTestEnhancer(t, retriever, &stubChat{answer: "ok"})

	results, err := e.Search(context.Background(), Query{
		Text:            "anything",
		K:               4,
		PrioritySources: []string{"BASEL"},
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "basel_iii.pdf", results[0].Metadata.GetString(store.KeyFilename))
	assert.InDelta(t, 0.75, results[0].Score, 1e-9)
	assert.InDelta(t, 0.6, results[1].Score, 1e-9)
}

func TestSearchTruncatesToK(t *testing.T) {
	retriever := &stubRetriever{results: []store.SearchResult{
		pdfResult("a", "a.pdf", 0.9, ""),
		pdfResult("b", "b.pdf", 0.8, ""),
		pdfResult("c", "c.pdf", 0.7, ""),
	}}
	e := newTestEnhancer(t, retriever, &stubChat{answer: "ok"})

	results, err := e.Search(context.Background(), Query{Text: "anything", K: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRunEnhancedPath(t *testing.T) {
	metrics := telemetry.NewMetrics()
	retriever := &stubRetriever{results: []store.SearchResult{
		pdfResult("Basel III capital requirements for banks", "basel_iii.pdf", 0.8, store.RegTypeBaselDocument),
	}}
	llm := &stubChat{answer: "# Capital Requirements\n\nCET1 must exceed 4.5%."}
	e := newTestEnhancer(t, retriever, llm, WithMetrics(metrics))

	result, err := e.Run(context.Background(), Query{
		Text: "What are the Basel III capital requirements?",
		Role: Role("data_engineer"),
	})
	require.NoError(t, err)

	assert.Equal(t, llm.answer, result.Response)
	assert.True(t, result.RegulatoryContext)
	assert.False(t, result.Fallback)
	assert.Equal(t, RoleDataEngineer, result.Role)

	require.Len(t, result.Sources, 1)
	src := result.Sources[0]
	assert.Equal(t, "basel_iii.pdf", src.Filename)
	assert.Equal(t, store.DocTypePDF, src.DocType)
	assert.Equal(t, store.RegTypeBaselDocument, src.RegulatoryType)
	assert.Equal(t, "Source: basel_iii.pdf, Page 3", src.SourceLocation)
	assert.InDelta(t, 0.8, src.RelevanceScore, 1e-9)
	assert.Greater(t, src.RegulatoryScore, 0.0)

	require.Len(t, llm.messages, 1)
	messages := llm.messages[0]
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, "Regulatory Reporting Copilot")
	assert.Contains(t, messages[0].Content, "**As a Data Engineer, you need:**")
	assert.Equal(t, chat.RoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "Regulatory Context:")
	assert.Contains(t, messages[1].Content, "## PDF DOCUMENTS")
	assert.Contains(t, messages[1].Content, "[Source: basel_iii.pdf, Page 3]")
	assert.True(t, strings.HasSuffix(messages[1].Content,
		"Focus on accuracy, compliance implications, and precise citations."))

	stats := metrics.Stats()
	assert.Equal(t, int64(1), stats.KindCounts[telemetry.KindRegulatory])
}

func TestRunUnknownRoleGetsGeneralGuidance(t *testing.T) {
	retriever := &stubRetriever{results: []store.SearchResult{
		pdfResult("Basel text", "basel_iii.pdf", 0.8, ""),
	}}
	llm := &stubChat{answer: "ok"}
	e := newTestEnhancer(t, retriever, llm)

	result, err := e.Run(context.Background(), Query{Text: "capital", Role: Role("cfo")})
	require.NoError(t, err)

	assert.Equal(t, RoleGeneral, result.Role)
	assert.Contains(t, llm.messages[0][0].Content, "**As a General User, you need:**")
}

func TestRunNoResults(t *testing.T) {
	llm := &stubChat{answer: "unused"}
	e := newTestEnhancer(t, &stubRetriever{}, llm)

	result, err := e.Run(context.Background(), Query{Text: "unknown topic"})
	require.NoError(t, err)

	assert.Equal(t, noResultsResponse, result.Response)
	assert.Empty(t, result.Sources)
	assert.Equal(t, noResultsMetadata, result.Metadata)
	assert.False(t, result.RegulatoryContext)
	assert.Zero(t, llm.calls)
}

func TestRunFallsBackOnChatError(t *testing.T) {
	retriever := &stubRetriever{results: []store.SearchResult{
		pdfResult("Basel text", "basel_iii.pdf", 0.8, store.RegTypeBaselDocument),
	}}
	llm := &stubChat{answer: "plain answer", err: errors.New("rate limited"), failFirst: true}
	e := newTestEnhancer(t, retriever, llm)

	result, err := e.Run(context.Background(), Query{Text: "capital requirements"})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.False(t, result.RegulatoryContext)
	assert.Equal(t, "plain answer", result.Response)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "basel_iii.pdf", result.Sources[0].Filename)
	assert.Zero(t, result.Sources[0].RegulatoryScore)
	assert.Equal(t, 2, llm.calls)

	// The fallback uses the plain grounded prompt, not the regulatory one.
	assert.NotContains(t, llm.messages[1][0].Content, "Regulatory Reporting Copilot")
}

func TestRunFallsBackOnRetrieverError(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("index offline")}
	e := newTestEnhancer(t, retriever, &stubChat{answer: "unused"})

	result, err := e.Run(context.Background(), Query{Text: "capital requirements"})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.False(t, result.RegulatoryContext)
	assert.Contains(t, result.Response, "System Issue Encountered")
}

func TestRunPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retriever := &stubRetriever{err: context.Canceled}
	e := newTestEnhancer(t, retriever, &stubChat{answer: "unused"})

	_, err := e.Run(ctx, Query{Text: "capital requirements"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFormatContextGroupsByDocType(t *testing.T) {
	results := []ScoredResult{
		{
			SearchResult:    pdfResult("Basel text.", "basel_iii.pdf", 0.9, ""),
			RegulatoryScore: 0.5,
		},
		{
			SearchResult: store.SearchResult{
				Text:     "Sheet C 01.00 data.",
				Score:    0.8,
				Metadata: excelMetadata("corep.xlsx", "C 01.00", 12, 3),
			},
			RegulatoryScore: 0.7,
		},
	}

	contextBlock, metadataInfo := formatContext(results)

	assert.Equal(t,
		"## PDF DOCUMENTS\n\n---\n\n"+
			"[Source: basel_iii.pdf, Page 3]\nBasel text.\n\n---\n\n"+
			"\n\n---\n\n"+
			"## EXCEL DOCUMENTS\n\n---\n\n"+
			"[Source: corep.xlsx, Sheet 'C 01.00' (Rows: 1-12, Cols: A-C)]\nSheet C 01.00 data.\n\n---\n\n",
		contextBlock)
	assert.Equal(t,
		"Source: basel_iii.pdf, Page 3, Relevance: 0.900, Regulatory: 0.500 | "+
			"Source: corep.xlsx, Sheet 'C 01.00' (Rows: 1-12, Cols: A-C), Relevance: 0.800, Regulatory: 0.700",
		metadataInfo)
}

func TestFormatContextKeepsRankOrderWithinGroup(t *testing.T) {
	results := []ScoredResult{
		{SearchResult: pdfResult("first", "a.pdf", 0.9, "")},
		{SearchResult: store.SearchResult{
			Text:     "excel row",
			Score:    0.85,
			Metadata: excelMetadata("x.xlsx", "Data", 2, 2),
		}},
		{SearchResult: pdfResult("second", "b.pdf", 0.8, "")},
	}

	contextBlock, _ := formatContext(results)

	pdfHeading := strings.Index(contextBlock, "## PDF DOCUMENTS")
	excelHeading := strings.Index(contextBlock, "## EXCEL DOCUMENTS")
	first := strings.Index(contextBlock, "first")
	second := strings.Index(contextBlock, "second")

	require.NotEqual(t, -1, pdfHeading)
	require.NotEqual(t, -1, excelHeading)
	assert.Less(t, pdfHeading, excelHeading)
	assert.Less(t, first, second)
	assert.Less(t, second, excelHeading)
}

func TestStreamRelaysParagraphs(t *testing.T) {
	retriever := &stubRetriever{results: []store.SearchResult{
		pdfResult("Basel text", "basel_iii.pdf", 0.8, ""),
	}}
	llm := &stubChat{answer: "# Title\n\nBody."}
	e := newTestEnhancer(t, retriever, llm)

	var streamed strings.Builder
	result, err := e.Stream(context.Background(), Query{Text: "capital"}, func(p string) error {
		streamed.WriteString(p)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "# Title\n\nBody.\n\n", streamed.String())
	assert.True(t, result.RegulatoryContext)
}
