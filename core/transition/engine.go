package transition

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

const StageMove = "move students"

// States
const (
	StateIdle           State = "idle"
	StatePurgingHistory State = "purging_history"
	StateMovingStudents State = "moving_students"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

var nowFunc = time.Now // mockable

// State of one engine invocation. Failed is terminal: there is no rollback.
type State string

type (
	Request struct {
		Class      school.Class
		Candidates []school.Candidate
		ChunkSize  int // overrides Options.ChunkSize when > 0
	}

	Result struct {
		RunID      string           `json:"run_id"`
		SchoolID   string           `json:"school_id"`
		ClassID    string           `json:"class_id"`
		ClassName  string           `json:"class_name"`
		State      State            `json:"state"`
		Purge      CommitReport     `json:"purge"`
		Moves      CommitReport     `json:"moves"`
		Counts     Counts           `json:"counts"`
		Skipped    []SkippedStudent `json:"skipped"`
		Classes    []school.Class   `json:"classes,omitempty"`
		StartedAt  time.Time        `json:"started_at"`
		FinishedAt time.Time        `json:"finished_at"`
		Error      string           `json:"error,omitempty"`
	}

	Options struct {
		ChunkSize int
		Locker    Locker
		Observer  Observer
		MailSvc   core.EmailService // optional
	}
)

// Engine runs the annual transition of a class: history purge, then student moves, then a class list reload.
type Engine struct {
	store     core.DocStore
	roster    *school.RosterService
	planner   Planner
	purge     *PurgeJob
	moves     *Committer
	locker    Locker
	observer  Observer
	mailSvc   core.EmailService
	logger    core.Logger
	chunkSize int
}

func NewEngine(store core.DocStore, roster *school.RosterService, logger core.Logger, opts Options) *Engine {
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Engine{
		store:     store,
		roster:    roster,
		purge:     NewPurgeJob(store, opts.Observer),
		moves:     NewCommitter(store, StageMove, opts.Observer),
		locker:    opts.Locker,
		observer:  opts.Observer,
		mailSvc:   opts.MailSvc,
		logger:    logger,
		chunkSize: opts.ChunkSize,
	}
}

func (e *Engine) setState(res *Result, to State) {
	from := res.State
	res.State = to
	e.observer.StateChanged(from, to)
}

func (e *Engine) fail(res *Result, sess school.Session, err error) (Result, error) {
	e.setState(res, StateFailed)
	res.FinishedAt = nowFunc().UTC()
	res.Error = err.Error()
	e.logger.Error(fmt.Sprintf("transition %s of class %q failed: %v", res.RunID, res.ClassID, err), err, sess,
		map[string]interface{}{"purge": res.Purge, "moves": res.Moves})
	e.notify(sess, res)
	return *res, err
}

// Run carries out req for sess. The roster in req is used as is: it is not re-read before writing,
// so the last writer wins with data computed from the point-in-time read of the roster.
//
// On error the returned Result tells which chunks were committed; a *ChunkCommitError (see errors.As)
// means some chunks may already be applied.
func (e *Engine) Run(ctx context.Context, sess school.Session, req Request) (Result, error) {
	res := Result{
		RunID:     uuid.New().String(),
		SchoolID:  sess.SchoolID,
		ClassID:   req.Class.ID,
		ClassName: req.Class.Name,
		State:     StateIdle,
		Skipped:   []SkippedStudent{},
	}
	if err := sess.Validate(); err != nil {
		return res, err
	}
	if req.Class.ID == "" {
		return res, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "this field is required"})
	}

	release, err := e.locker.Acquire(ctx, lockKey(sess.SchoolID, req.Class.ID))
	if err != nil {
		return res, err
	}
	defer release()

	chunkSize := e.chunkSize
	if req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	res.StartedAt = nowFunc().UTC()
	e.logger.Info(fmt.Sprintf("transition %s of class %q started: %d student(s)", res.RunID, req.Class.ID, len(req.Candidates)), sess)

	// history first: move ops must not be clobbered by a later purge
	e.setState(&res, StatePurgingHistory)
	purgeOps, err := e.purge.BuildOps(ctx, sess)
	if err != nil {
		return e.fail(&res, sess, err)
	}
	if res.Purge, err = e.purge.committer.CommitChunked(ctx, purgeOps, chunkSize); err != nil {
		return e.fail(&res, sess, err)
	}

	e.setState(&res, StateMovingStudents)
	plan, err := e.planner.Plan(sess, req.Class.ID, req.Candidates, nowFunc())
	if err != nil {
		return e.fail(&res, sess, errors.Wrap(err, "planning moves"))
	}
	res.Counts = plan.Counts
	res.Skipped = plan.Skipped()
	if res.Moves, err = e.moves.CommitChunked(ctx, plan.Ops, chunkSize); err != nil {
		return e.fail(&res, sess, err)
	}

	e.setState(&res, StateDone)
	res.FinishedAt = nowFunc().UTC()

	// headcounts are recounted rather than maintained
	if res.Classes, err = e.roster.LoadClasses(ctx, sess); err != nil {
		e.logger.Warn(fmt.Sprintf("transition %s: reloading classes: %v", res.RunID, err), err, sess)
	}

	e.logger.Info(fmt.Sprintf("transition %s of class %q done: %+v", res.RunID, req.Class.ID, res.Counts), sess)
	e.notify(sess, &res)
	return res, nil
}

// PurgeHistory runs the attendance history purge alone.
func (e *Engine) PurgeHistory(ctx context.Context, sess school.Session) (CommitReport, error) {
	return e.purge.Run(ctx, sess, e.chunkSize)
}

type reportData struct {
	AdminName     string
	ClassName     string
	RunID         string
	State         State
	PurgedOps     int
	PurgeChunks   int
	MoveCommitted int
	MovePending   int
	Error         string
	Counts
}

func (e *Engine) notify(sess school.Session, res *Result) {
	if e.mailSvc == nil || sess.AdminEmail == "" {
		return
	}
	className := res.ClassName
	if className == "" {
		className = res.ClassID
	}
	e.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: sess.AdminName, Address: sess.AdminEmail}},
		Subject:      fmt.Sprintf("Class transition %s", res.State),
		TemplateName: "transition_report",
		TemplateData: reportData{
			AdminName:     sess.AdminName,
			ClassName:     className,
			RunID:         res.RunID,
			State:         res.State,
			PurgedOps:     res.Purge.CommittedOps(),
			PurgeChunks:   res.Purge.Committed,
			MoveCommitted: res.Moves.Committed,
			MovePending:   res.Moves.Pending + res.Moves.Failed,
			Error:         res.Error,
			Counts:        res.Counts,
		},
	})
}
