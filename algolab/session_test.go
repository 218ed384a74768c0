package algolab

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *SessionStore {
	t.Helper()
	st, err := NewSessionStore(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)
	return st
}

func testSession(expiresIn time.Duration) *Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &Session{
		Token:     "tok-1",
		Hash:      "hash-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(expiresIn),
		Metadata:  SessionMetadata{Username: "TR12345", Hostname: "www.example.com"},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	st := tempStore(t)
	saved := testSession(DefaultSessionTTL)
	require.NoError(t, st.Save(saved))

	loaded, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.Token, loaded.Token)
	assert.Equal(t, saved.Hash, loaded.Hash)
	assert.True(t, saved.IssuedAt.Equal(loaded.IssuedAt))
	assert.True(t, saved.ExpiresAt.Equal(loaded.ExpiresAt))
	assert.Equal(t, saved.Metadata, loaded.Metadata)
	assert.True(t, loaded.Valid(time.Now()))
}

func TestSessionDocumentShape(t *testing.T) {
	st := tempStore(t)
	require.NoError(t, st.Save(testSession(time.Hour)))

	data, err := os.ReadFile(st.Path())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, float64(1), doc["schema"])
	assert.Equal(t, "tok-1", doc["token"])
	assert.Equal(t, "hash-1", doc["hash"])
	assert.Contains(t, doc, "issuedAt")
	assert.Contains(t, doc, "expiresAt")
	meta, ok := doc["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "TR12345", meta["username"])
	assert.Equal(t, "www.example.com", meta["hostname"])
}

func TestSessionFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no POSIX permissions on windows")
	}
	st := tempStore(t)
	require.NoError(t, st.Save(testSession(time.Hour)))

	info, err := os.Stat(st.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissingFile(t *testing.T) {
	st := tempStore(t)
	s, err := st.Load()
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadMalformedFile(t *testing.T) {
	st := tempStore(t)
	require.NoError(t, os.WriteFile(st.Path(), []byte("{not json"), 0o600))

	s, err := st.Load()
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadSchemaMismatch(t *testing.T) {
	st := tempStore(t)
	doc := `{"schema":2,"token":"t","hash":"h","issuedAt":"2026-01-01T00:00:00Z","expiresAt":"2999-01-01T00:00:00Z","metadata":{"username":"u","hostname":"h"}}`
	require.NoError(t, os.WriteFile(st.Path(), []byte(doc), 0o600))

	s, err := st.Load()
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadExpiredSessionRemovesFile(t *testing.T) {
	st := tempStore(t)
	require.NoError(t, st.Save(testSession(time.Millisecond)))
	time.Sleep(5 * time.Millisecond)

	s, err := st.Load()
	assert.NoError(t, err)
	assert.Nil(t, s)

	_, statErr := os.Stat(st.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestSaveRejectsEmptySession(t *testing.T) {
	st := tempStore(t)
	err := st.Save(&Session{})
	assert.True(t, IsFatal(err))
	assert.Error(t, st.Save(nil))
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	st := tempStore(t)
	require.NoError(t, st.Save(testSession(time.Hour)))

	entries, err := os.ReadDir(filepath.Dir(st.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session.json", entries[0].Name())
}

func TestClear(t *testing.T) {
	st := tempStore(t)
	require.NoError(t, st.Save(testSession(time.Hour)))
	require.NoError(t, st.Clear())

	s, err := st.Load()
	assert.NoError(t, err)
	assert.Nil(t, s)

	// clearing twice is fine
	assert.NoError(t, st.Clear())
}

func TestSessionValid(t *testing.T) {
	now := time.Now()
	assert.False(t, (*Session)(nil).Valid(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Hour)}).Valid(now))
	assert.False(t, testSession(-time.Hour).Valid(now))
	assert.True(t, testSession(time.Hour).Valid(now))
}
