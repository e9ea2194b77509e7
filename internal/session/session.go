// Package session tracks per-conversation state for the chat endpoints.
//
// A session records which documents a caller uploaded during a conversation
// and a fingerprint of the API key it last used, so key changes can be
// detected without retaining the key itself. Sessions live in memory only:
// a restart starts from an empty registry while the shared knowledge base
// is reseeded from its snapshot.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// fingerprintLen is the number of hex characters kept from the key digest.
const fingerprintLen = 12

// Summary describes a session in list responses.
type Summary struct {
	// ID is the generated session identifier.
	ID string `json:"session_id"`

	// DocumentCount is the number of documents uploaded via this session.
	DocumentCount int `json:"document_count"`

	// CreatedAt is when the session was first created.
	CreatedAt time.Time `json:"created_at"`
}

// Detail describes a single session including the documents it uploaded.
type Detail struct {
	// ID is the generated session identifier.
	ID string `json:"session_id"`

	// DocumentCount is the number of documents uploaded via this session.
	DocumentCount int `json:"document_count"`

	// Documents lists the uploaded document filenames in upload order.
	Documents []string `json:"documents"`

	// CreatedAt is when the session was first created.
	CreatedAt time.Time `json:"created_at"`

	// KeyFingerprint identifies the API key the session last used.
	// This is computed bookkeeping, never serialized.
	KeyFingerprint string `json:"-"`
}

// ListResult is the payload for session list requests.
type ListResult struct {
	TotalSessions int       `json:"total_sessions"`
	Sessions      []Summary `json:"sessions"`
}

// Fingerprint derives a short stable identifier from an API key. An empty
// key yields an empty fingerprint.
func Fingerprint(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
