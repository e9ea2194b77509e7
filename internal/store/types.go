// Package store provides the in-memory cosine index and the chunk metadata
// model. This is the retrieval layer all indexed content flows through.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reserved metadata keys validated at insertion.
const (
	// KeyFilename is required on every chunk.
	KeyFilename = "filename"
	// KeyDocType is the parser family (pdf, excel, ...).
	KeyDocType = "doc_type"
	// KeySourceLocation is a human-readable provenance pointer ("Page 3").
	KeySourceLocation = "source_location"
	// KeyChunkIndex is the per-file chunk ordinal.
	KeyChunkIndex = "chunk_index"
	// KeySource is "preloaded" or "user_uploaded".
	KeySource = "source"
	// KeyIsOriginal marks preloaded-corpus chunks, which are immutable.
	KeyIsOriginal = "is_original"
	// KeyRegulatoryType is the domain classification tag.
	KeyRegulatoryType = "regulatory_type"
	// KeyUploadTime is the RFC3339 ingestion timestamp.
	KeyUploadTime = "upload_time"
)

// Common parser-specific metadata keys. Not validated beyond their value kind.
const (
	KeyPageNumber  = "page_number"
	KeyTotalPages  = "total_pages"
	KeySheetName   = "sheet_name"
	KeyMaxRow      = "max_row"
	KeyMaxColumn   = "max_column"
	KeySlideNumber = "slide_number"
	KeyTotalSlides = "total_slides"
	KeyLanguage    = "language"
	KeyLineCount   = "line_count"
	KeyCodeType    = "code_type"
)

// Document type values for KeyDocType.
const (
	DocTypePDF        = "pdf"
	DocTypeExcel      = "excel"
	DocTypePowerPoint = "powerpoint"
	DocTypeWord       = "word"
	DocTypeCSV        = "csv"
	DocTypeHTML       = "html"
	DocTypeSQL        = "sql"
	DocTypeMarkdown   = "markdown"
	DocTypeText       = "text"
	DocTypeCode       = "code"
)

// Source values for KeySource.
const (
	SourcePreloaded    = "preloaded"
	SourceUserUploaded = "user_uploaded"
)

// Regulatory classification values for KeyRegulatoryType.
const (
	RegTypeCOREPTemplate         = "corep_template"
	RegTypeFINREPTemplate        = "finrep_template"
	RegTypeBaselDocument         = "basel_document"
	RegTypeDataMapping           = "data_mapping"
	RegTypeRegulatoryPolicy      = "regulatory_policy"
	RegTypeRegulatoryGuidance    = "regulatory_guidance"
	RegTypeRegulatoryDocument    = "regulatory_document"
	RegTypeRegulatoryCalculation = "regulatory_calculation"
	RegTypeDataLineage           = "data_lineage"
	RegTypeJiraExport            = "jira_export"
	RegTypeRegulatoryTemplate    = "regulatory_template"
	RegTypeRegulatoryData        = "regulatory_data"
	RegTypeSQLQuery              = "sql_query"
	RegTypeRegulatoryScript      = "regulatory_script"
	RegTypeSteeringCommittee     = "steering_committee"
)

var docTypes = map[string]struct{}{
	DocTypePDF: {}, DocTypeExcel: {}, DocTypePowerPoint: {}, DocTypeWord: {},
	DocTypeCSV: {}, DocTypeHTML: {}, DocTypeSQL: {}, DocTypeMarkdown: {},
	DocTypeText: {}, DocTypeCode: {},
}

// Kind enumerates the scalar kinds a metadata Value can hold.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindTime
)

// Value is a tagged metadata scalar: exactly one of string, int, bool, or
// timestamp. The zero Value is the empty string.
type Value struct {
	kind Kind
	str  string
	num  int
	b    bool
	ts   time.Time
}

// String creates a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int creates an integer Value.
func Int(i int) Value { return Value{kind: KindInt, num: i} }

// Bool creates a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time creates a timestamp Value, truncated to second precision so values
// survive an RFC3339 round trip unchanged.
func Time(t time.Time) Value { return Value{kind: KindTime, ts: t.Truncate(time.Second)} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string payload, or "" for other kinds.
func (v Value) AsString() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// AsInt returns the integer payload, or 0 for other kinds.
func (v Value) AsInt() int {
	if v.kind != KindInt {
		return 0
	}
	return v.num
}

// AsBool returns the boolean payload, or false for other kinds.
func (v Value) AsBool() bool {
	if v.kind != KindBool {
		return false
	}
	return v.b
}

// AsTime returns the timestamp payload, or the zero time for other kinds.
func (v Value) AsTime() time.Time {
	if v.kind != KindTime {
		return time.Time{}
	}
	return v.ts
}

// Any returns the payload as a plain Go value for JSON payload building.
// Timestamps render as RFC3339 strings.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.num
	case KindBool:
		return v.b
	case KindTime:
		return v.ts.Format(time.RFC3339)
	default:
		return v.str
	}
}

// MarshalJSON emits the raw scalar (timestamps as RFC3339 strings).
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// Metadata is the open key/value bag attached to every chunk. Values are
// tagged scalars; reserved keys are checked by ValidateReserved at insertion.
type Metadata map[string]Value

// GetString returns the string value for key, or "" when absent or not a string.
func (m Metadata) GetString(key string) string { return m[key].AsString() }

// GetInt returns the integer value for key, or 0 when absent or not an int.
func (m Metadata) GetInt(key string) int { return m[key].AsInt() }

// GetBool returns the boolean value for key, or false when absent or not a bool.
func (m Metadata) GetBool(key string) bool { return m[key].AsBool() }

// GetTime returns the timestamp for key, or the zero time.
func (m Metadata) GetTime(key string) time.Time { return m[key].AsTime() }

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Clone returns a shallow copy (Values are immutable scalars).
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Plain renders the metadata as a plain map for JSON payloads.
func (m Metadata) Plain() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

// timeKeys are coerced from RFC3339 strings when decoding metadata JSON.
var timeKeys = map[string]struct{}{KeyUploadTime: {}}

// UnmarshalJSON decodes a JSON object into tagged values: booleans and
// integers keep their kind, strings stay strings except for timestamp keys.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Metadata, len(raw))
	for k, rv := range raw {
		v, err := decodeValue(k, rv)
		if err != nil {
			return fmt.Errorf("metadata key %q: %w", k, err)
		}
		out[k] = v
	}
	*m = out
	return nil
}

func decodeValue(key string, raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var x any
	if err := dec.Decode(&x); err != nil {
		return Value{}, err
	}

	switch t := x.(type) {
	case bool:
		return Bool(t), nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("non-integer number %s", t)
		}
		return Int(int(i)), nil
	case string:
		if _, isTime := timeKeys[key]; isTime {
			ts, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return Value{}, fmt.Errorf("not an RFC3339 timestamp: %q", t)
			}
			return Time(ts), nil
		}
		return String(t), nil
	case nil:
		return Value{}, errors.New("null is not a valid metadata value")
	default:
		return Value{}, fmt.Errorf("unsupported metadata value %v", t)
	}
}

// ErrInvalidMetadata wraps all reserved-key schema violations.
var ErrInvalidMetadata = errors.New("invalid metadata")

// ValidateReserved is the single schema check applied at insertion.
// It validates the reserved keys' kinds and value ranges; unknown keys pass.
func ValidateReserved(m Metadata) error {
	fn, ok := m[KeyFilename]
	if !ok || fn.Kind() != KindString || strings.TrimSpace(fn.AsString()) == "" {
		return fmt.Errorf("%w: %s is required and must be a nonempty string", ErrInvalidMetadata, KeyFilename)
	}

	if v, ok := m[KeyDocType]; ok {
		if v.Kind() != KindString {
			return fmt.Errorf("%w: %s must be a string", ErrInvalidMetadata, KeyDocType)
		}
		if _, known := docTypes[v.AsString()]; !known {
			return fmt.Errorf("%w: unknown %s %q", ErrInvalidMetadata, KeyDocType, v.AsString())
		}
	}

	if v, ok := m[KeySourceLocation]; ok && v.Kind() != KindString {
		return fmt.Errorf("%w: %s must be a string", ErrInvalidMetadata, KeySourceLocation)
	}

	if v, ok := m[KeyChunkIndex]; ok {
		if v.Kind() != KindInt || v.AsInt() < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidMetadata, KeyChunkIndex)
		}
	}

	if v, ok := m[KeySource]; ok {
		if v.Kind() != KindString || (v.AsString() != SourcePreloaded && v.AsString() != SourceUserUploaded) {
			return fmt.Errorf("%w: %s must be %q or %q", ErrInvalidMetadata, KeySource, SourcePreloaded, SourceUserUploaded)
		}
	}

	if v, ok := m[KeyIsOriginal]; ok {
		if v.Kind() != KindBool {
			return fmt.Errorf("%w: %s must be a boolean", ErrInvalidMetadata, KeyIsOriginal)
		}
		// is_original is true exactly for preloaded chunks.
		if src, ok := m[KeySource]; ok {
			preloaded := src.AsString() == SourcePreloaded
			if v.AsBool() != preloaded {
				return fmt.Errorf("%w: %s=%v conflicts with %s=%q",
					ErrInvalidMetadata, KeyIsOriginal, v.AsBool(), KeySource, src.AsString())
			}
		}
	}

	if v, ok := m[KeyRegulatoryType]; ok && v.Kind() != KindString {
		return fmt.Errorf("%w: %s must be a string", ErrInvalidMetadata, KeyRegulatoryType)
	}

	if v, ok := m[KeyUploadTime]; ok && v.Kind() != KindTime {
		return fmt.Errorf("%w: %s must be an RFC3339 timestamp", ErrInvalidMetadata, KeyUploadTime)
	}

	return nil
}

// DimensionError indicates a vector width conflicting with the index.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// SearchResult is one scored retrieval hit.
type SearchResult struct {
	Text     string
	Score    float64
	Metadata Metadata
}

// SnapshotEntry is a vectorless (text, metadata) pair used for
// preloaded-corpus caching and rebuilds.
type SnapshotEntry struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Index is the retrieval contract the knowledge base depends on. An ANN
// backend may be substituted without changing it.
type Index interface {
	// Insert adds or overwrites the entry for text. Duplicate texts keep
	// their original insertion rank.
	Insert(text string, vector []float32, metadata Metadata) error

	// Search returns the top-k entries by cosine similarity, ties broken by
	// insertion order. k<=0 or an empty index yields an empty result.
	Search(query []float32, k int) ([]SearchResult, error)

	// GetMetadata returns the metadata stored for text.
	GetMetadata(text string) (Metadata, bool)

	// DeleteByFilename atomically removes every entry whose filename matches,
	// returning the removed count.
	DeleteByFilename(filename string) int

	// Snapshot enumerates (text, metadata) pairs in insertion order.
	Snapshot() []SnapshotEntry

	// Restore replaces the index contents with vectorless entries; vectors
	// are materialized by subsequent Inserts.
	Restore(entries []SnapshotEntry) error

	// Len returns the number of entries, materialized or not.
	Len() int

	// Dimensions returns the fixed vector width, or 0 before the first
	// vector-bearing insert.
	Dimensions() int
}
