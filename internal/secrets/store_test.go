package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreFetchDelete(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")

	_, err := FetchAPIKey()
	require.Error(t, err)

	require.NoError(t, StoreAPIKey("  gm-test-key-123  "))
	got, err := FetchAPIKey()
	require.NoError(t, err)
	require.Equal(t, "gm-test-key-123", got)

	// Overwrite takes effect.
	require.NoError(t, StoreAPIKey("gm-second"))
	got, err = FetchAPIKey()
	require.NoError(t, err)
	require.Equal(t, "gm-second", got)

	require.NoError(t, DeleteAPIKey())
	_, err = FetchAPIKey()
	require.Error(t, err)

	// Deleting twice is fine.
	require.NoError(t, DeleteAPIKey())
}

func TestStoreRejectsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	require.Error(t, StoreAPIKey("   "))
}
