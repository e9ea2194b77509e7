package docparse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ovokpus/regcopilot/internal/store"
)

func TestClassifyExcel(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		sheets   []string
		want     string
	}{
		{"corep filename", "COREP_C01.xlsx", []string{"Data"}, store.RegTypeCOREPTemplate},
		{"capital filename", "capital_adequacy.xlsx", nil, store.RegTypeCOREPTemplate},
		{"own funds filename", "own funds Q3.xlsx", nil, store.RegTypeCOREPTemplate},
		{"finrep filename", "FINREP_F01.xlsx", []string{"Data"}, store.RegTypeFINREPTemplate},
		{"ifrs filename", "ifrs9_stages.xlsx", nil, store.RegTypeFINREPTemplate},
		{"mapping filename", "data_mapping.xlsx", nil, store.RegTypeDataMapping},
		{"lineage filename", "lineage_overview.xlsx", nil, store.RegTypeDataMapping},
		{"corep sheet", "template.xlsx", []string{"COREP C 01.00"}, store.RegTypeCOREPTemplate},
		{"capital sheet", "template.xlsx", []string{"Capital"}, store.RegTypeCOREPTemplate},
		{"financial sheet", "template.xlsx", []string{"Financial Assets"}, store.RegTypeFINREPTemplate},
		{"filename beats sheet", "finrep.xlsx", []string{"Capital"}, store.RegTypeFINREPTemplate},
		{"no signal", "template.xlsx", []string{"Sheet1"}, store.RegTypeRegulatoryTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyExcel(tt.filename, tt.sheets))
		})
	}
}

func TestClassifyCSV(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		columns  []string
		want     string
	}{
		{"jira filename", "jira_export.csv", []string{"a", "b"}, store.RegTypeJiraExport},
		{"ticket filename", "open_tickets.csv", nil, store.RegTypeJiraExport},
		{"jira columns", "backlog.csv", []string{"Issue Type", "Key", "Status"}, store.RegTypeJiraExport},
		{"assignee column", "backlog.csv", []string{"Assignee"}, store.RegTypeJiraExport},
		{"mapping filename", "field_mapping.csv", []string{"from", "to"}, store.RegTypeDataMapping},
		{"source filename", "source_systems.csv", nil, store.RegTypeDataMapping},
		{"no signal", "amounts.csv", []string{"amount", "currency"}, store.RegTypeRegulatoryData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCSV(tt.filename, tt.columns))
		})
	}
}

func TestClassifyWord(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     string
	}{
		{"policy filename", "credit_policy.docx", "text", store.RegTypeRegulatoryPolicy},
		{"manual filename", "reporting manual.docx", "text", store.RegTypeRegulatoryPolicy},
		{"basel filename", "basel_iii_overview.docx", "text", store.RegTypeRegulatoryGuidance},
		{"policy content", "notes.docx", "All staff shall follow this procedure.", store.RegTypeRegulatoryPolicy},
		{"must keyword outranks liquidity", "notes.docx", "Liquidity coverage must exceed 100%.", store.RegTypeRegulatoryPolicy},
		{"capital content", "notes.docx", "Tier 1 capital ratios improved.", store.RegTypeRegulatoryGuidance},
		{"no signal", "agenda.docx", "Lunch at noon.", store.RegTypeRegulatoryDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyWord(tt.filename, tt.content))
		})
	}
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     string
	}{
		{"lineage filename wins over sql content", "lineage_queries.sql", "SELECT * FROM t", store.RegTypeDataLineage},
		{"etl filename", "etl_load.py", "print('x')", store.RegTypeDataLineage},
		{"corep filename", "corep_calc.py", "x = 1", store.RegTypeRegulatoryCalculation},
		{"sql content", "report.sql", "SELECT exposure FROM positions", store.RegTypeSQLQuery},
		{"join content", "report.sql", "a JOIN b ON a.id = b.id", store.RegTypeSQLQuery},
		{"no signal", "helper.py", "import os", store.RegTypeRegulatoryScript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyCode(tt.filename, tt.content))
		})
	}
}

func TestLanguageFor(t *testing.T) {
	assert.Equal(t, "sql", languageFor(".sql"))
	assert.Equal(t, "python", languageFor(".py"))
	assert.Equal(t, "javascript", languageFor(".js"))
	assert.Equal(t, "typescript", languageFor(".ts"))
	assert.Equal(t, "markdown", languageFor(".md"))
	assert.Equal(t, "text", languageFor(".zig"))
	assert.Equal(t, "text", languageFor(""))
}
