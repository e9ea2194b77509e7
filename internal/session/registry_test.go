package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
)

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(""))
	assert.Len(t, Fingerprint("sk-test-key"), fingerprintLen)
	assert.Equal(t, Fingerprint("sk-test-key"), Fingerprint("sk-test-key"))
	assert.NotEqual(t, Fingerprint("sk-one"), Fingerprint("sk-two"))
}

func TestGetOrCreateMintsSession(t *testing.T) {
	r := NewRegistry()

	detail, created := r.GetOrCreate("", "sk-test")
	require.True(t, created)

	_, err := uuid.Parse(detail.ID)
	require.NoError(t, err, "session id should be a valid UUID")
	assert.Equal(t, Fingerprint("sk-test"), detail.KeyFingerprint)
	assert.Empty(t, detail.Documents)
	assert.False(t, detail.CreatedAt.IsZero())
	assert.Equal(t, 1, r.Len())
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	r := NewRegistry()

	first, created := r.GetOrCreate("", "sk-test")
	require.True(t, created)

	second, created := r.GetOrCreate(first.ID, "sk-test")
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, r.Len())
}

func TestGetOrCreateUnknownIDMintsFresh(t *testing.T) {
	r := NewRegistry()

	detail, created := r.GetOrCreate("no-such-session", "sk-test")
	require.True(t, created)
	assert.NotEqual(t, "no-such-session", detail.ID)
}

func TestGetOrCreateRotatesFingerprint(t *testing.T) {
	r := NewRegistry()

	first, _ := r.GetOrCreate("", "sk-old")
	require.Equal(t, Fingerprint("sk-old"), first.KeyFingerprint)

	rekeyed, created := r.GetOrCreate(first.ID, "sk-new")
	assert.False(t, created)
	assert.Equal(t, Fingerprint("sk-new"), rekeyed.KeyFingerprint)

	// An empty key leaves the stored fingerprint alone.
	unchanged, _ := r.GetOrCreate(first.ID, "")
	assert.Equal(t, Fingerprint("sk-new"), unchanged.KeyFingerprint)
}

func TestGetUnknownSession(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("missing")
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeSessionNotFound, rcerrors.GetCode(err))
}

func TestDelete(t *testing.T) {
	r := NewRegistry()
	detail, _ := r.GetOrCreate("", "sk-test")

	require.NoError(t, r.Delete(detail.ID))
	assert.Equal(t, 0, r.Len())

	err := r.Delete(detail.ID)
	require.Error(t, err)
	assert.Equal(t, rcerrors.ErrCodeSessionNotFound, rcerrors.GetCode(err))
}

func TestAppendDocument(t *testing.T) {
	r := NewRegistry()
	detail, _ := r.GetOrCreate("", "sk-test")

	require.NoError(t, r.AppendDocument(detail.ID, "basel_iii.pdf"))
	require.NoError(t, r.AppendDocument(detail.ID, "corep_template.xlsx"))
	// Re-uploading the same document keeps a single entry.
	require.NoError(t, r.AppendDocument(detail.ID, "basel_iii.pdf"))

	got, err := r.Get(detail.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"basel_iii.pdf", "corep_template.xlsx"}, got.Documents)
	assert.Equal(t, 2, got.DocumentCount)

	err = r.AppendDocument("missing", "x.pdf")
	assert.Equal(t, rcerrors.ErrCodeSessionNotFound, rcerrors.GetCode(err))
}

func TestDetailCopiesDocuments(t *testing.T) {
	r := NewRegistry()
	detail, _ := r.GetOrCreate("", "sk-test")
	require.NoError(t, r.AppendDocument(detail.ID, "a.pdf"))

	got, err := r.Get(detail.ID)
	require.NoError(t, err)
	got.Documents[0] = "mutated.pdf"

	again, err := r.Get(detail.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, again.Documents)
}

func TestListOrdersOldestFirst(t *testing.T) {
	r := NewRegistry()

	first, _ := r.GetOrCreate("", "sk-test")
	second, _ := r.GetOrCreate("", "sk-test")
	require.NoError(t, r.AppendDocument(second.ID, "doc.pdf"))

	result := r.List()
	require.Equal(t, 2, result.TotalSessions)
	require.Len(t, result.Sessions, 2)
	assert.Equal(t, first.ID, result.Sessions[0].ID)
	assert.Equal(t, second.ID, result.Sessions[1].ID)
	assert.Equal(t, 1, result.Sessions[1].DocumentCount)
}

func TestEvictionDropsOldest(t *testing.T) {
	r := NewRegistryWithOptions(Options{MaxSessions: 2})

	first, _ := r.GetOrCreate("", "sk-test")
	second, _ := r.GetOrCreate("", "sk-test")
	third, _ := r.GetOrCreate("", "sk-test")

	assert.Equal(t, 2, r.Len())

	_, err := r.Get(first.ID)
	assert.Error(t, err, "oldest session should be evicted")
	_, err = r.Get(second.ID)
	assert.NoError(t, err)
	_, err = r.Get(third.ID)
	assert.NoError(t, err)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	detail, _ := r.GetOrCreate("", "sk-test")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.AppendDocument(detail.ID, fmt.Sprintf("doc-%d.pdf", n))
			_, _ = r.Get(detail.ID)
			_ = r.List()
		}(i)
	}
	wg.Wait()

	got, err := r.Get(detail.ID)
	require.NoError(t, err)
	assert.Equal(t, 16, got.DocumentCount)
}
