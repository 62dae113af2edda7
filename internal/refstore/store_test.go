package refstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "refs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// pngBytes is an 8-byte PNG signature plus padding, enough for sniffing.
var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)

func TestSetGetOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTest(t)

	_, ok, err := s.Get(ctx, "ketchup")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "ketchup", "image/png", pngBytes))
	ref, ok, err := s.Get(ctx, "ketchup")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "image/png", ref.MIME)
	require.Equal(t, pngBytes, ref.Data)

	// Overwrite replaces, never duplicates.
	other := append([]byte(nil), pngBytes...)
	other[len(other)-1] = 0xFF
	require.NoError(t, s.Set(ctx, "ketchup", "image/png", other))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	ref, _, err = s.Get(ctx, "ketchup")
	require.NoError(t, err)
	require.Equal(t, other, ref.Data)
}

func TestSetSniffsMIME(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.Set(ctx, "straws", "", pngBytes))
	ref, ok, err := s.Get(ctx, "straws")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "image/png", ref.MIME)
}

func TestSetRejectsEmpty(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	require.Error(t, s.Set(context.Background(), "ketchup", "image/png", nil))
}

func TestAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.Set(ctx, "ketchup", "image/png", pngBytes))
	require.NoError(t, s.Set(ctx, "straws", "image/png", pngBytes))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "ketchup")
	require.Contains(t, all, "straws")
}

func TestSeedDefaultsOnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.SeedDefaults(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	// A calibrated reference must survive a restart's re-seed attempt.
	require.NoError(t, s.Set(ctx, "ketchup", "image/png", pngBytes))
	require.NoError(t, s.SeedDefaults(ctx))
	ref, ok, err := s.Get(ctx, "ketchup")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pngBytes, ref.Data)
}
