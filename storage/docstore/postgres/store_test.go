package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/storage/database"
	"github.com/trezcool/kupanda/tests"
)

func Test_statement(t *testing.T) {
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		op       core.WriteOp
		wantStmt string
		wantArgs []interface{}
		wantErr  bool
	}{
		{
			name:     "set",
			op:       core.WriteOp{Kind: core.OpSet, Path: "schools/s/classes/c1", Data: core.Fields{"name": "Class 1"}},
			wantStmt: setStmt,
			wantArgs: []interface{}{"schools/s/classes/c1", "schools/s/classes", `{"name":"Class 1"}`, now},
		},
		{
			name:     "merge without data",
			op:       core.WriteOp{Kind: core.OpMerge, Path: "a/b"},
			wantStmt: mergeStmt,
			wantArgs: []interface{}{"a/b", "a", `{}`, now},
		},
		{
			name:     "delete",
			op:       core.WriteOp{Kind: core.OpDelete, Path: "a/b"},
			wantStmt: deleteStmt,
			wantArgs: []interface{}{"a/b"},
		},
		{name: "unknown kind", op: core.WriteOp{Kind: 42, Path: "a/b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, args, err := statement(tt.op, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("statement() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.wantStmt, stmt)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

// openTestStore needs a reachable postgres: set TEST_DATABASE_HOST (and the TEST_DATABASE_* credentials).
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST not set")
	}
	conf := core.NewTestConfig()
	conf.Database.Host = os.Getenv("TEST_DATABASE_HOST")
	if v := os.Getenv("TEST_DATABASE_USER"); v != "" {
		conf.Database.User = v
	}
	conf.Database.Password = os.Getenv("TEST_DATABASE_PASSWORD")
	conf.Database.Name = "kupanda_test"

	ctx := context.Background()
	require.NoError(t, database.CreateIfNotExist(ctx, conf))
	db, err := database.Open(conf)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db.DB, "up"))
	_, err = db.ExecContext(ctx, "TRUNCATE documents")
	require.NoError(t, err)

	store := New(db, 10)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	testutil.RunDocStoreSuite(t, openTestStore(t))
}
