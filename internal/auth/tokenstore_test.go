package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privateprompt/pkg/types"
)

func TestFileTokenStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session", "token.json")
	store := NewFileTokenStore(path)

	expiresAt := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	err := store.Save(types.Session{Credential: "tok-123", ExpiresAt: expiresAt})
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", loaded.Credential)
	assert.True(t, loaded.ExpiresAt.Equal(expiresAt))
}

func TestFileTokenStore_LoadAbsent(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "token.json"))

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFileTokenStore_LoadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "garbage{{"},
		{"empty credential", `{"credential":"","expiresAt":123}`},
		{"missing expiry", `{"credential":"tok"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "token.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			store := NewFileTokenStore(path)
			_, err := store.Load()
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestFileTokenStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := NewFileTokenStore(path)

	require.NoError(t, store.Save(types.Session{Credential: "tok", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Clear())

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	// Clearing again is not an error.
	assert.NoError(t, store.Clear())
}
