package tunecache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/kerneltune/internal/kernel"
)

func openCache(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tune.db")
	c, err := Open(path)
	require.NoError(t, err)
	return c, path
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	c, _ := openCache(t)
	defer c.Close()

	_, ok, err := c.Get(ctx, "Conv_CPU_Float32", "sig")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "Conv_CPU_Float32", "sig", &kernel.BaseRecord{TimeMs: 2.5}))
	rec, ok, err := c.Get(ctx, "Conv_CPU_Float32", "sig")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &kernel.BaseRecord{TimeMs: 2.5}, rec)

	// Same key replaces.
	require.NoError(t, c.Put(ctx, "Conv_CPU_Float32", "sig", &kernel.BaseRecord{TimeMs: 1}))
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, _, err = c.Get(ctx, "Conv_CPU_Float32", "sig")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Time())
}

func TestPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	c, path := openCache(t)
	require.NoError(t, c.Put(ctx, "b", "s2", &kernel.BaseRecord{TimeMs: 3}))
	require.NoError(t, c.Put(ctx, "a", "s1", &kernel.BaseRecord{TimeMs: 4}))
	require.NoError(t, c.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	entries, err := c.Entries(ctx)
	require.NoError(t, err)
	want := []Entry{
		{Kernel: "a", Signature: "s1", Kind: kernel.BaseKind, TimeMs: 4},
		{Kernel: "b", Signature: "s2", Kind: kernel.BaseKind, TimeMs: 3},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownKind(t *testing.T) {
	ctx := context.Background()
	c, _ := openCache(t)
	defer c.Close()

	_, err := c.conn.ExecContext(ctx,
		"INSERT INTO perf_records (kernel, signature, kind, payload, time_ms) VALUES ('k', 's', 'mystery', '{}', 1)")
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "k", "s")
	assert.False(t, ok)
	kind, _ := kernel.KindOf(err)
	assert.Equal(t, kernel.KindConfig, kind)
}
