package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adapters(t *testing.T) map[string]Adapter {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Adapter{
		"memory": NewMemoryAdapter(),
		"sqlite": sqlite,
	}
}

func TestAdapters(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := a.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, a.Set(ctx, "session/b", json.RawMessage(`{"n":1}`)))
			require.NoError(t, a.Set(ctx, "session/a", json.RawMessage(`{"n":2}`)))
			require.NoError(t, a.Set(ctx, "other", json.RawMessage(`true`)))

			v, ok, err := a.Get(ctx, "session/b")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"n":1}`, string(v))

			t.Run("overwrite", func(t *testing.T) {
				require.NoError(t, a.Set(ctx, "session/b", json.RawMessage(`{"n":3}`)))
				v, _, err := a.Get(ctx, "session/b")
				require.NoError(t, err)
				assert.JSONEq(t, `{"n":3}`, string(v))
			})

			t.Run("keys by prefix", func(t *testing.T) {
				keys, err := a.Keys(ctx, "session/")
				require.NoError(t, err)
				assert.Equal(t, []string{"session/a", "session/b"}, keys)

				all, err := a.Keys(ctx, "")
				require.NoError(t, err)
				assert.Len(t, all, 3)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, a.Delete(ctx, "other"))
				require.NoError(t, a.Delete(ctx, "other"))
				_, ok, err := a.Get(ctx, "other")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("closed", func(t *testing.T) {
				require.NoError(t, a.Close())
				_, _, err := a.Get(ctx, "session/a")
				assert.ErrorIs(t, err, ErrAdapterClosed)
				assert.ErrorIs(t, a.Set(ctx, "k", json.RawMessage(`1`)), ErrAdapterClosed)
			})
		})
	}
}

func TestMemoryAdapter_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	raw := json.RawMessage(`"abc"`)
	require.NoError(t, m.Set(ctx, "k", raw))
	raw[1] = 'x'

	v, _, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(v))
}

func TestSQLiteAdapter_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runchat.db")

	a, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "session/1", json.RawMessage(`{"ok":true}`)))
	require.NoError(t, a.Close())

	b, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer b.Close()

	v, ok, err := b.Get(ctx, "session/1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(v))
}

func TestSQLiteAdapter_InMemory(t *testing.T) {
	ctx := context.Background()
	a, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Set(ctx, "k", json.RawMessage(`1`)))
	_, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryAdapter_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "k/" + string(rune('a'+i))
			_ = m.Set(ctx, key, json.RawMessage(`1`))
			_, _, _ = m.Get(ctx, key)
		}()
	}
	wg.Wait()

	keys, err := m.Keys(ctx, "k/")
	require.NoError(t, err)
	assert.Len(t, keys, 20)
}
