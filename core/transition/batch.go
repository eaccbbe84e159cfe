package transition

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trezcool/kupanda/core"
)

var tracer = otel.Tracer("github.com/trezcool/kupanda/core/transition")

// Chunk statuses
const (
	ChunkCommitted ChunkStatus = "committed"
	ChunkFailed    ChunkStatus = "failed"
	ChunkPending   ChunkStatus = "pending"
)

type (
	ChunkStatus string

	ChunkResult struct {
		Index   int           `json:"index"`
		Size    int           `json:"size"`
		Status  ChunkStatus   `json:"status"`
		Elapsed time.Duration `json:"elapsed_ns,omitempty"`
		Error   string        `json:"error,omitempty"`
	}

	// CommitReport enumerates which chunks of an op list were committed, which failed and which were never sent.
	CommitReport struct {
		Ops       int           `json:"ops"`
		ChunkSize int           `json:"chunk_size"`
		Chunks    []ChunkResult `json:"chunks"`
		Committed int           `json:"committed"`
		Failed    int           `json:"failed"`
		Pending   int           `json:"pending"`
	}
)

// OK reports whether every chunk was committed.
func (r CommitReport) OK() bool {
	return r.Failed == 0 && r.Pending == 0
}

// CommittedOps is the number of ops applied to the store.
func (r CommitReport) CommittedOps() int {
	var n int
	for _, c := range r.Chunks {
		if c.Status == ChunkCommitted {
			n += c.Size
		}
	}
	return n
}

// ChunkCommitError reports the chunk a chunked commit stopped at.
// Chunks before Index stay applied; nothing is rolled back.
type ChunkCommitError struct {
	Stage  string
	Index  int
	Chunks int
	Err    error
}

func (e *ChunkCommitError) Error() string {
	return fmt.Sprintf("%s: committing chunk %d of %d: %v", e.Stage, e.Index+1, e.Chunks, e.Err)
}

func (e *ChunkCommitError) Unwrap() error { return e.Err }

// Chunk splits ops into consecutive chunks of at most size ops, in order.
func Chunk(ops []core.WriteOp, size int) [][]core.WriteOp {
	if size <= 0 {
		size = core.DefaultMaxBatchOps
	}
	chunks := make([][]core.WriteOp, 0, (len(ops)+size-1)/size)
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		chunks = append(chunks, ops[start:end:end])
	}
	return chunks
}

// Committer commits op lists in size-bounded atomic chunks, one at a time.
type Committer struct {
	store    core.DocStore
	stage    string
	observer Observer
}

func NewCommitter(store core.DocStore, stage string, observer Observer) *Committer {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Committer{store: store, stage: stage, observer: observer}
}

// ChunkSize bounds size by the store limit; size <= 0 means the store limit.
func (c *Committer) ChunkSize(size int) int {
	limit := c.store.MaxBatchOps()
	if limit <= 0 {
		limit = core.DefaultMaxBatchOps
	}
	if size <= 0 || size > limit {
		return limit
	}
	return size
}

// CommitChunked commits each chunk of ops as one atomic batch, awaiting each before sending the next.
// It stops at the first failed chunk and returns a *ChunkCommitError; earlier chunks stay committed.
// A cancelled ctx stops before the next chunk, never in the middle of one.
func (c *Committer) CommitChunked(ctx context.Context, ops []core.WriteOp, chunkSize int) (CommitReport, error) {
	size := c.ChunkSize(chunkSize)
	chunks := Chunk(ops, size)

	report := CommitReport{
		Ops:       len(ops),
		ChunkSize: size,
		Chunks:    make([]ChunkResult, len(chunks)),
		Pending:   len(chunks),
	}
	for i, ch := range chunks {
		report.Chunks[i] = ChunkResult{Index: i, Size: len(ch), Status: ChunkPending}
	}

	for i, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return report, &ChunkCommitError{Stage: c.stage, Index: i, Chunks: len(chunks), Err: err}
		}

		start := time.Now()
		err := c.commitChunk(ctx, i, len(chunks), ch)
		elapsed := time.Since(start)

		res := &report.Chunks[i]
		res.Elapsed = elapsed
		report.Pending--
		if err != nil {
			res.Status = ChunkFailed
			res.Error = err.Error()
			report.Failed++
			c.observer.ChunkFailed(c.stage, i, len(ch), err)
			return report, &ChunkCommitError{Stage: c.stage, Index: i, Chunks: len(chunks), Err: err}
		}
		res.Status = ChunkCommitted
		report.Committed++
		c.observer.ChunkCommitted(c.stage, i, len(ch), elapsed)
	}
	return report, nil
}

func (c *Committer) commitChunk(ctx context.Context, index, total int, ops []core.WriteOp) error {
	ctx, span := tracer.Start(ctx, "transition.commitChunk", trace.WithAttributes(
		attribute.String("transition.stage", c.stage),
		attribute.Int("transition.chunk.index", index),
		attribute.Int("transition.chunk.total", total),
		attribute.Int("transition.chunk.size", len(ops)),
	))
	defer span.End()

	if err := c.store.Commit(ctx, ops); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
