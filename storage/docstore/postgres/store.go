package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/kupanda/core"
)

const (
	getQuery   = `SELECT path, data, updated_at FROM documents WHERE path = $1`
	queryQuery = `SELECT path, data, updated_at FROM documents WHERE collection = $1 ORDER BY path`
	countQuery = `SELECT COUNT(*) FROM documents WHERE collection = $1`

	setStmt = `INSERT INTO documents (path, collection, data, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, $4, $4)
ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	// jsonb || replaces top-level keys only, which is what a merge is
	mergeStmt = `INSERT INTO documents (path, collection, data, created_at, updated_at)
VALUES ($1, $2, $3::jsonb, $4, $4)
ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	deleteStmt = `DELETE FROM documents WHERE path = $1`
)

var nowFunc = time.Now // mockable

// Store keeps every document in one JSONB table; a batch is one transaction.
type Store struct {
	db     *sqlx.DB
	maxOps int
	closed atomic.Bool
}

var _ core.DocStore = (*Store)(nil) // interface compliance check

type documentRow struct {
	Path      string    `db:"path" boil:"path"`
	Data      null.JSON `db:"data" boil:"data"`
	UpdatedAt null.Time `db:"updated_at" boil:"updated_at"`
}

func (row documentRow) document() (core.Document, error) {
	doc := core.Document{Path: row.Path, Data: core.Fields{}}
	if row.Data.Valid {
		if err := row.Data.Unmarshal(&doc.Data); err != nil {
			return core.Document{}, errors.Wrapf(err, "decoding %q", row.Path)
		}
	}
	return doc, nil
}

func New(db *sqlx.DB, maxBatchOps int) *Store {
	if maxBatchOps <= 0 {
		maxBatchOps = core.DefaultMaxBatchOps
	}
	return &Store{db: db, maxOps: maxBatchOps}
}

func (s *Store) MaxBatchOps() int { return s.maxOps }

func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return errors.WithStack(core.ErrStoreClosed)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (core.Document, error) {
	if err := s.checkOpen(); err != nil {
		return core.Document{}, err
	}
	var row documentRow
	if err := s.db.GetContext(ctx, &row, getQuery, path); err != nil {
		if err == sql.ErrNoRows {
			return core.Document{}, errors.Wrapf(core.ErrDocNotFound, "%q", path)
		}
		return core.Document{}, errors.Wrapf(err, "getting %q", path)
	}
	return row.document()
}

func (s *Store) Query(ctx context.Context, collection string) ([]core.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rows []*documentRow
	if err := queries.Raw(queryQuery, collection).Bind(ctx, s.db, &rows); err != nil {
		if err == sql.ErrNoRows {
			return []core.Document{}, nil
		}
		return nil, errors.Wrapf(err, "querying %q", collection)
	}

	docs := make([]core.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, countQuery, collection); err != nil {
		return 0, errors.Wrapf(err, "counting %q", collection)
	}
	return n, nil
}

// statement returns the SQL and arguments of op.
func statement(op core.WriteOp, now time.Time) (string, []interface{}, error) {
	if op.Kind == core.OpDelete {
		return deleteStmt, []interface{}{op.Path}, nil
	}

	data := op.Data
	if data == nil {
		data = core.Fields{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", nil, errors.Wrapf(err, "encoding %q", op.Path)
	}
	collection, _ := core.SplitPath(op.Path)
	args := []interface{}{op.Path, collection, string(b), now}

	switch op.Kind {
	case core.OpSet:
		return setStmt, args, nil
	case core.OpMerge:
		return mergeStmt, args, nil
	default:
		return "", nil, errors.Errorf("invalid op kind %v on %q", op.Kind, op.Path)
	}
}

func (s *Store) Commit(ctx context.Context, ops []core.WriteOp) (err error) {
	if err = s.checkOpen(); err != nil {
		return err
	}
	if err = core.ValidateBatch(ops, s.maxOps); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		q    string
		args []interface{}
	)
	now := nowFunc().UTC()
	for _, op := range ops {
		if q, args, err = statement(op, now); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return errors.Wrapf(err, "%s %q", op.Kind, op.Path)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}
