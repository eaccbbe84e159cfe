package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMaxBatchOps is the provider limit of operations per atomic batch.
const DefaultMaxBatchOps = 400

var (
	ErrDocNotFound   = errors.New("document not found")
	ErrBatchTooLarge = errors.New("batch exceeds the maximum number of operations")
	ErrInvalidPath   = errors.New("invalid document path")

	// ErrStoreClosed is returned by a DocStore used after Close; nothing can be served anymore.
	ErrStoreClosed = NewShutdownError("document store is closed")
)

// OpKind is the kind of a single write in a batch.
type OpKind int

const (
	// OpSet replaces the whole document, creating it if needed.
	OpSet OpKind = iota + 1
	// OpMerge writes the given top-level fields into the document, creating it if needed.
	OpMerge
	// OpDelete removes the document. Deleting a missing document is not an error.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpMerge:
		return "merge"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

type (
	// Fields is the JSON-compatible content of a document.
	Fields map[string]interface{}

	Document struct {
		Path string
		Data Fields
	}

	// WriteOp is one operation of an atomic batch.
	WriteOp struct {
		Kind OpKind
		Path string
		Data Fields // nil for OpDelete
	}

	// DocStore is the capability set the transition engine needs from a hosted document database:
	// collection queries, single document reads and atomic batched writes bounded by MaxBatchOps.
	DocStore interface {
		Get(ctx context.Context, path string) (Document, error)
		// Query returns the documents directly under collection, ordered by path.
		Query(ctx context.Context, collection string) ([]Document, error)
		Count(ctx context.Context, collection string) (int, error)
		// Commit applies all ops atomically: either every op is applied or none is.
		Commit(ctx context.Context, ops []WriteOp) error
		MaxBatchOps() int
		// Close releases the store; any later call fails with ErrStoreClosed.
		Close() error
	}
)

func (d Document) ID() string {
	_, id := SplitPath(d.Path)
	return id
}

// Decode unmarshals the document data into dst.
func (d Document) Decode(dst interface{}) error {
	return d.Data.Decode(dst)
}

// Decode unmarshals the fields into dst through their JSON representation.
func (f Fields) Decode(dst interface{}) error {
	b, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshalling fields")
	}
	return errors.Wrap(json.Unmarshal(b, dst), "unmarshalling fields")
}

// Clone deep copies the fields.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Fields:
		return val.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Fields(val).Clone())
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// ToFields encodes src (a struct tagged for JSON) to Fields.
func ToFields(src interface{}) (Fields, error) {
	b, err := json.Marshal(src)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling document")
	}
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshalling document")
	}
	return f, nil
}

// JoinPath joins path segments with "/".
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath returns the parent collection and the id of a document path.
func SplitPath(path string) (collection, id string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// ValidateDocPath checks that path addresses a document (an even number of non-empty segments).
func ValidateDocPath(path string) error {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 0 {
		return errors.Wrapf(ErrInvalidPath, "%q", path)
	}
	for _, s := range segs {
		if s == "" {
			return errors.Wrapf(ErrInvalidPath, "%q", path)
		}
	}
	return nil
}

// ValidateBatch checks the batch against the store limit and the op paths.
func ValidateBatch(ops []WriteOp, max int) error {
	if max > 0 && len(ops) > max {
		return errors.Wrapf(ErrBatchTooLarge, "%d > %d", len(ops), max)
	}
	for _, op := range ops {
		if err := ValidateDocPath(op.Path); err != nil {
			return err
		}
		switch op.Kind {
		case OpSet, OpMerge, OpDelete:
		default:
			return errors.Errorf("invalid op kind %v on %q", op.Kind, op.Path)
		}
	}
	return nil
}
