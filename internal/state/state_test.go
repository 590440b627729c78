package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/alexjbarnes/checklist-sync/internal/models"
)

func testDB(t *testing.T) *State {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "state.db")
	s, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, stateFilePerm, info.Mode().Perm())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	s1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.SetToken(&oauth2.Token{AccessToken: "persist-me"}))
	require.NoError(t, s1.Close())

	s2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	tok, err := s2.Token()
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "persist-me", tok.AccessToken)
}

// --- Token ---

func TestToken_NilByDefault(t *testing.T) {
	s := testDB(t)
	tok, err := s.Token()
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestSetToken_RoundTrip(t *testing.T) {
	s := testDB(t)
	expiry := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SetToken(&oauth2.Token{
		AccessToken:  "ya29.abc",
		RefreshToken: "1//refresh",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}))

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "ya29.abc", tok.AccessToken)
	assert.Equal(t, "1//refresh", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, expiry.Equal(tok.Expiry))
}

func TestSetToken_Overwrite(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetToken(&oauth2.Token{AccessToken: "first"}))
	require.NoError(t, s.SetToken(&oauth2.Token{AccessToken: "second"}))

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)
}

func TestDeleteToken(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.SetToken(&oauth2.Token{AccessToken: "gone"}))
	require.NoError(t, s.DeleteToken())

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestDeleteToken_Missing(t *testing.T) {
	s := testDB(t)
	assert.NoError(t, s.DeleteToken())
}

// --- Status ---

func TestStatus_NilByDefault(t *testing.T) {
	s := testDB(t)
	r, err := s.Status()
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestSetStatus_RoundTrip(t *testing.T) {
	s := testDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := models.PassReport{
		State:      "IN_SYNC",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Uploaded:   1,
		Downloaded: 2,
		Unchanged:  3,
	}
	require.NoError(t, s.SetStatus(want))

	got, err := s.Status()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.State, got.State)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, 1, got.Uploaded)
	assert.Equal(t, 2, got.Downloaded)
	assert.Equal(t, 3, got.Unchanged)
	assert.Empty(t, got.Error)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "state.db", filepath.Base(p))
	assert.Equal(t, ".checklist-sync", filepath.Base(filepath.Dir(p)))
}
