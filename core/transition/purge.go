package transition

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

const StagePurge = "purge attendance history"

// PurgeJob deletes the attendance history of a whole school.
type PurgeJob struct {
	store     core.DocStore
	committer *Committer
}

func NewPurgeJob(store core.DocStore, observer Observer) *PurgeJob {
	return &PurgeJob{store: store, committer: NewCommitter(store, StagePurge, observer)}
}

// BuildOps returns one delete per attendance history document of the school, not only of one class.
func (j *PurgeJob) BuildOps(ctx context.Context, sess school.Session) ([]core.WriteOp, error) {
	docs, err := j.store.Query(ctx, sess.Paths().AttendanceHistory())
	if err != nil {
		return nil, errors.Wrap(err, "querying attendance history")
	}
	ops := make([]core.WriteOp, 0, len(docs))
	for _, doc := range docs {
		ops = append(ops, core.WriteOp{Kind: core.OpDelete, Path: doc.Path})
	}
	return ops, nil
}

// Run builds and commits the purge.
func (j *PurgeJob) Run(ctx context.Context, sess school.Session, chunkSize int) (CommitReport, error) {
	if err := sess.Validate(); err != nil {
		return CommitReport{}, err
	}
	ops, err := j.BuildOps(ctx, sess)
	if err != nil {
		return CommitReport{}, err
	}
	return j.committer.CommitChunked(ctx, ops, chunkSize)
}
