package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/trezcool/kupanda/core"
)

var documentsBucket = []byte("documents")

// Store is an embedded single-file store: keys are document paths, values their JSON.
// A batch is one read-write bolt transaction.
type Store struct {
	db     *bolt.DB
	maxOps int
}

var _ core.DocStore = (*Store)(nil) // interface compliance check

func Open(path string, maxBatchOps int) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating bucket")
	}

	if maxBatchOps <= 0 {
		maxBatchOps = core.DefaultMaxBatchOps
	}
	return &Store{db: db, maxOps: maxBatchOps}, nil
}

func (s *Store) MaxBatchOps() int { return s.maxOps }

func (s *Store) Close() error { return s.db.Close() }

func closedOr(err error) error {
	if err == bolt.ErrDatabaseNotOpen {
		return errors.WithStack(core.ErrStoreClosed)
	}
	return err
}

func decode(path string, raw []byte) (core.Document, error) {
	var data core.Fields
	if err := json.Unmarshal(raw, &data); err != nil {
		return core.Document{}, errors.Wrapf(err, "decoding %q", path)
	}
	if data == nil {
		data = core.Fields{}
	}
	return core.Document{Path: path, Data: data}, nil
}

func (s *Store) Get(ctx context.Context, path string) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, err
	}
	var doc core.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(documentsBucket).Get([]byte(path))
		if raw == nil {
			return errors.Wrapf(core.ErrDocNotFound, "%q", path)
		}
		var err error
		doc, err = decode(path, raw)
		return err
	})
	return doc, closedOr(err)
}

// children calls fn with the direct children of collection, in key order.
func children(tx *bolt.Tx, collection string, fn func(k, v []byte) error) error {
	prefix := []byte(collection + "/")
	c := tx.Bucket(documentsBucket).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if bytes.IndexByte(k[len(prefix):], '/') >= 0 {
			continue // nested collection
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string) ([]core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := make([]core.Document, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return children(tx, collection, func(k, v []byte) error {
			doc, err := decode(string(k), v)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(closedOr(err), "querying %q", collection)
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		return children(tx, collection, func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, closedOr(err)
}

func (s *Store) Commit(ctx context.Context, ops []core.WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := core.ValidateBatch(ops, s.maxOps); err != nil {
		return err
	}

	// returning an error from Update rolls the whole batch back
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket)
		for _, op := range ops {
			key := []byte(op.Path)
			switch op.Kind {
			case core.OpDelete:
				if err := b.Delete(key); err != nil {
					return errors.Wrapf(err, "deleting %q", op.Path)
				}
			case core.OpSet:
				if err := put(b, key, op.Data); err != nil {
					return err
				}
			case core.OpMerge:
				data := core.Fields{}
				if raw := b.Get(key); raw != nil {
					doc, err := decode(op.Path, raw)
					if err != nil {
						return err
					}
					data = doc.Data
				}
				for k, v := range op.Data {
					data[k] = v
				}
				if err := put(b, key, data); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return closedOr(err)
}

func put(b *bolt.Bucket, key []byte, data core.Fields) error {
	if data == nil {
		data = core.Fields{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}
	return errors.Wrapf(b.Put(key, raw), "writing %q", key)
}
