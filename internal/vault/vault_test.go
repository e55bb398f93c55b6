package vault

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmdesk/internal/store"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, zerolog.Nop())
}

func TestSaveIsUpsert(t *testing.T) {
	v := newTestVault(t)

	id, err := v.Save("OPENAI", "sk-first")
	require.NoError(t, err)

	again, err := v.Save("OPENAI", "sk-latest")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	keys, err := v.All()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "sk-latest", keys[0].Key)

	secret, err := v.Get("OPENAI")
	require.NoError(t, err)
	assert.Equal(t, "sk-latest", secret)
}

func TestGetMissing(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Get("OPENAI")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteReportsCount(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Save("MISTRAL", "sk-m")
	require.NoError(t, err)

	deleted, err := v.Delete("MISTRAL")
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	deleted, err = v.Delete("MISTRAL")
	require.NoError(t, err)
	assert.EqualValues(t, 0, deleted)
}

func TestRefreshProjectsRecognizedProviders(t *testing.T) {
	v := newTestVault(t)

	// t.Setenv restores the previous value after the test.
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("CUSTOMLLC_API_KEY")

	_, err := v.Save("OPENAI", "sk-openai")
	require.NoError(t, err)
	_, err = v.Save("CUSTOMLLC", "sk-custom")
	require.NoError(t, err)

	creds, err := v.Refresh()
	require.NoError(t, err)

	assert.Equal(t, Credentials{"OPENAI": "sk-openai"}, creds)
	assert.Equal(t, "sk-openai", os.Getenv("OPENAI_API_KEY"))

	// Unrecognized services stay in the store but never reach the
	// environment projection.
	assert.Empty(t, os.Getenv("CUSTOMLLC_API_KEY"))
	keys, err := v.All()
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestStatusCoversAllRecognizedProviders(t *testing.T) {
	creds := Credentials{"OPENAI": "sk-openai", "XAI": "sk-xai"}

	status := creds.Status()
	assert.Equal(t, map[string]bool{
		"OPENAI":    true,
		"ANTHROPIC": false,
		"GEMINI":    false,
		"XAI":       true,
		"MISTRAL":   false,
	}, status)
}
