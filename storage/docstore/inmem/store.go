package inmemstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
)

// CommitHook is called with the 1-based commit number before a batch is applied.
// A non-nil error aborts that batch without applying any of its ops.
type CommitHook func(n int, ops []core.WriteOp) error

type Store struct {
	sync.RWMutex
	table      map[string]core.Fields // {path: data}
	maxOps     int
	commits    int
	commitHook CommitHook
	closed     bool
}

var _ core.DocStore = (*Store)(nil) // interface compliance check

func Open(maxBatchOps ...int) *Store {
	limit := core.DefaultMaxBatchOps
	if len(maxBatchOps) > 0 && maxBatchOps[0] > 0 {
		limit = maxBatchOps[0]
	}
	return &Store{table: make(map[string]core.Fields), maxOps: limit}
}

// SetCommitHook installs hook for subsequent commits.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.Lock()
	defer s.Unlock()
	s.commitHook = hook
}

// Commits returns the number of successfully applied batches.
func (s *Store) Commits() int {
	s.RLock()
	defer s.RUnlock()
	return s.commits
}

func (s *Store) MaxBatchOps() int { return s.maxOps }

func (s *Store) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, err
	}
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return core.Document{}, errors.Wrapf(core.ErrStoreClosed, "getting %q", path)
	}

	data, ok := s.table[path]
	if !ok {
		return core.Document{}, errors.Wrapf(core.ErrDocNotFound, "%q", path)
	}
	return core.Document{Path: path, Data: data.Clone()}, nil
}

func (s *Store) children(collection string) []string {
	prefix := collection + "/"
	paths := make([]string, 0)
	for p := range s.table {
		if strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func (s *Store) Query(ctx context.Context, collection string) ([]core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return nil, errors.Wrapf(core.ErrStoreClosed, "querying %q", collection)
	}

	paths := s.children(collection)
	docs := make([]core.Document, 0, len(paths))
	for _, p := range paths {
		docs = append(docs, core.Document{Path: p, Data: s.table[p].Clone()})
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return 0, errors.Wrapf(core.ErrStoreClosed, "counting %q", collection)
	}
	return len(s.children(collection)), nil
}

func (s *Store) Commit(ctx context.Context, ops []core.WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := core.ValidateBatch(ops, s.maxOps); err != nil {
		return err
	}

	// stored as a hosted store would: through JSON
	data := make([]core.Fields, len(ops))
	for i, op := range ops {
		if op.Kind == core.OpDelete {
			continue
		}
		f, err := core.ToFields(op.Data)
		if err != nil {
			return errors.Wrapf(err, "%s %q", op.Kind, op.Path)
		}
		if f == nil {
			f = core.Fields{}
		}
		data[i] = f
	}

	s.Lock()
	defer s.Unlock()
	if s.closed {
		return errors.Wrap(core.ErrStoreClosed, "committing batch")
	}

	if s.commitHook != nil {
		if err := s.commitHook(s.commits+1, ops); err != nil {
			return err
		}
	}

	// all ops were validated: apply them under the same lock so readers never see a partial batch
	for i, op := range ops {
		switch op.Kind {
		case core.OpSet:
			s.table[op.Path] = data[i]
		case core.OpMerge:
			doc, ok := s.table[op.Path]
			if !ok {
				doc = make(core.Fields, len(data[i]))
			}
			for k, v := range data[i] {
				doc[k] = v
			}
			s.table[op.Path] = doc
		case core.OpDelete:
			delete(s.table, op.Path)
		}
	}
	s.commits++
	return nil
}
