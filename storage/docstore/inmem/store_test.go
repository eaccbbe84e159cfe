package inmemstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/storage/docstore/inmem"
	"github.com/trezcool/kupanda/tests"
)

func TestStore(t *testing.T) {
	testutil.RunDocStoreSuite(t, inmemstore.Open())
}

func TestStore_Get_returnsCopies(t *testing.T) {
	store := inmemstore.Open()
	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, []core.WriteOp{{Kind: core.OpSet, Path: "col/a", Data: core.Fields{"n": 1}}}))

	doc, err := store.Get(ctx, "col/a")
	require.NoError(t, err)
	doc.Data["n"] = 2

	doc, err = store.Get(ctx, "col/a")
	require.NoError(t, err)
	assert.Equal(t, float64(1), doc.Data["n"])
}

func TestStore_SetCommitHook(t *testing.T) {
	store := inmemstore.Open(2)
	ctx := context.Background()
	assert.Equal(t, 2, store.MaxBatchOps())

	var seen []int
	store.SetCommitHook(func(n int, ops []core.WriteOp) error {
		seen = append(seen, n)
		if n == 2 {
			return context.DeadlineExceeded
		}
		return nil
	})

	require.NoError(t, store.Commit(ctx, []core.WriteOp{{Kind: core.OpSet, Path: "col/a"}}))
	require.Error(t, store.Commit(ctx, []core.WriteOp{{Kind: core.OpSet, Path: "col/b"}}))

	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, 1, store.Commits())
	n, _ := store.Count(ctx, "col")
	assert.Equal(t, 1, n, "a failed commit applies nothing")
}

func TestStore_closed(t *testing.T) {
	testutil.CheckClosedStore(t, inmemstore.Open())
}
