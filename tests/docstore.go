package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kupanda/core"
)

// RunDocStoreSuite checks the behaviour every core.DocStore backend shares.
// store must be empty and have a MaxBatchOps of at least 3.
func RunDocStoreSuite(t *testing.T, store core.DocStore) {
	ctx := context.Background()

	t.Run("set, query and count", func(t *testing.T) {
		require.NoError(t, store.Commit(ctx, []core.WriteOp{
			{Kind: core.OpSet, Path: "suite/b", Data: core.Fields{"n": 2, "tags": []interface{}{"x"}}},
			{Kind: core.OpSet, Path: "suite/a", Data: core.Fields{"n": 1, "nested": core.Fields{"k": "v"}}},
			{Kind: core.OpSet, Path: "suite/a/sub/z", Data: core.Fields{"n": 9}},
		}))

		docs, err := store.Query(ctx, "suite")
		require.NoError(t, err)
		require.Len(t, docs, 2, "only direct children")
		assert.Equal(t, "suite/a", docs[0].Path)
		assert.Equal(t, "a", docs[0].ID())
		assert.Equal(t, core.Fields{"n": float64(1), "nested": map[string]interface{}{"k": "v"}}, docs[0].Data)
		assert.Equal(t, core.Fields{"n": float64(2), "tags": []interface{}{"x"}}, docs[1].Data)

		n, err := store.Count(ctx, "suite")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.Count(ctx, "suite/a/sub")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("merge and delete", func(t *testing.T) {
		require.NoError(t, store.Commit(ctx, []core.WriteOp{
			{Kind: core.OpMerge, Path: "suite/b", Data: core.Fields{"m": "x", "n": 3}},
			{Kind: core.OpMerge, Path: "suite/c", Data: core.Fields{"created": true}},
			{Kind: core.OpDelete, Path: "suite/a"},
		}))

		doc, err := store.Get(ctx, "suite/b")
		require.NoError(t, err)
		assert.Equal(t, core.Fields{"n": float64(3), "m": "x", "tags": []interface{}{"x"}}, doc.Data)

		doc, err = store.Get(ctx, "suite/c")
		require.NoError(t, err)
		assert.Equal(t, true, doc.Data["created"], "merge creates missing documents")

		_, err = store.Get(ctx, "suite/a")
		assert.Equal(t, core.ErrDocNotFound, errors.Cause(err))

		// deleting a missing document is not an error
		require.NoError(t, store.Commit(ctx, []core.WriteOp{{Kind: core.OpDelete, Path: "suite/missing"}}))
	})

	t.Run("set replaces", func(t *testing.T) {
		require.NoError(t, store.Commit(ctx, []core.WriteOp{{Kind: core.OpSet, Path: "suite/b", Data: core.Fields{"only": "this"}}}))
		doc, err := store.Get(ctx, "suite/b")
		require.NoError(t, err)
		assert.Equal(t, core.Fields{"only": "this"}, doc.Data)
	})

	t.Run("invalid batches apply nothing", func(t *testing.T) {
		tooMany := make([]core.WriteOp, 0, store.MaxBatchOps()+1)
		for i := 0; i <= store.MaxBatchOps(); i++ {
			tooMany = append(tooMany, core.WriteOp{Kind: core.OpSet, Path: fmt.Sprintf("atomic/d%d", i)})
		}
		err := store.Commit(ctx, tooMany)
		assert.Equal(t, core.ErrBatchTooLarge, errors.Cause(err))

		err = store.Commit(ctx, []core.WriteOp{
			{Kind: core.OpSet, Path: "atomic/ok"},
			{Kind: core.OpSet, Path: "atomic"},
		})
		assert.Equal(t, core.ErrInvalidPath, errors.Cause(err))

		n, err := store.Count(ctx, "atomic")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("empty collection", func(t *testing.T) {
		docs, err := store.Query(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

// CheckClosedStore closes store and checks every call then fails with core.ErrStoreClosed.
func CheckClosedStore(t *testing.T, store core.DocStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Close())

	_, err := store.Get(ctx, "suite/a")
	assert.True(t, core.IsShutdown(err), "Get: %v", err)
	_, err = store.Query(ctx, "suite")
	assert.True(t, core.IsShutdown(err), "Query: %v", err)
	_, err = store.Count(ctx, "suite")
	assert.True(t, core.IsShutdown(err), "Count: %v", err)
	err = store.Commit(ctx, []core.WriteOp{{Kind: core.OpSet, Path: "suite/a"}})
	assert.True(t, core.IsShutdown(err), "Commit: %v", err)
}
