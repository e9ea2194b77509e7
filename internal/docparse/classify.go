package docparse

import (
	"strings"

	"github.com/ovokpus/regcopilot/internal/store"
)

// containsAny reports whether s (already lowercased) holds any of the terms.
func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// classifyExcel tags a workbook from its filename first, then its sheet
// names. COREP capital templates and FINREP financial templates dominate the
// regulatory corpus, so they get first claim.
func classifyExcel(filename string, sheetNames []string) string {
	name := strings.ToLower(filename)
	sheets := strings.ToLower(strings.Join(sheetNames, " "))

	switch {
	case containsAny(name, "corep", "capital", "own funds"):
		return store.RegTypeCOREPTemplate
	case containsAny(name, "finrep", "financial", "ifrs"):
		return store.RegTypeFINREPTemplate
	case containsAny(name, "mapping", "lineage", "source"):
		return store.RegTypeDataMapping
	case containsAny(sheets, "corep", "capital"):
		return store.RegTypeCOREPTemplate
	case containsAny(sheets, "finrep", "financial"):
		return store.RegTypeFINREPTemplate
	default:
		return store.RegTypeRegulatoryTemplate
	}
}

// classifyCSV tags an export from its filename, then its column headers.
// Jira exports are recognized either way.
func classifyCSV(filename string, columns []string) string {
	name := strings.ToLower(filename)
	cols := strings.ToLower(strings.Join(columns, " "))

	switch {
	case containsAny(name, "jira", "issue", "ticket"):
		return store.RegTypeJiraExport
	case containsAny(cols, "issue", "key", "status", "assignee"):
		return store.RegTypeJiraExport
	case containsAny(name, "mapping", "lineage", "source"):
		return store.RegTypeDataMapping
	default:
		return store.RegTypeRegulatoryData
	}
}

// classifyWord tags policies and guidance by filename, then by content
// keywords.
func classifyWord(filename, content string) string {
	name := strings.ToLower(filename)
	text := strings.ToLower(content)

	switch {
	case containsAny(name, "policy", "procedure", "manual"):
		return store.RegTypeRegulatoryPolicy
	case containsAny(name, "corep", "finrep", "basel"):
		return store.RegTypeRegulatoryGuidance
	case containsAny(text, "policy", "procedure", "shall", "must"):
		return store.RegTypeRegulatoryPolicy
	case containsAny(text, "capital", "liquidity", "risk management"):
		return store.RegTypeRegulatoryGuidance
	default:
		return store.RegTypeRegulatoryDocument
	}
}

// classifyCode tags scripts and queries. Lineage/ETL filenames outrank
// content sniffing so a lineage file full of SELECTs stays data_lineage.
func classifyCode(filename, content string) string {
	name := strings.ToLower(filename)
	text := strings.ToLower(content)

	switch {
	case containsAny(name, "lineage", "etl", "mapping"):
		return store.RegTypeDataLineage
	case containsAny(name, "corep", "finrep", "basel"):
		return store.RegTypeRegulatoryCalculation
	case containsAny(text, "select", "from", "join", "where"):
		return store.RegTypeSQLQuery
	default:
		return store.RegTypeRegulatoryScript
	}
}

// languageFor maps a code extension to its fence tag.
func languageFor(ext string) string {
	switch ext {
	case ".sql":
		return "sql"
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}
