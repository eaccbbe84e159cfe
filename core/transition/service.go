package transition

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

var ErrNoDraft = errors.New("no roster selected for this class")

type (
	ServiceInterface interface {
		Classes(ctx context.Context, sess school.Session) ([]school.Class, error)
		Select(ctx context.Context, sess school.Session, classID string) (school.Roster, error)
		Draft(sess school.Session, classID string) (school.Roster, error)
		Discard(sess school.Session, classID string) error
		SetDecision(sess school.Session, classID, studentID string, decision school.Decision) error
		SetAllDecisions(sess school.Session, classID string, decision school.Decision) error
		UpdateCandidate(sess school.Session, classID, studentID string, uc UpdateCandidate) (school.Candidate, error)
		Commit(ctx context.Context, sess school.Session, classID string, chunkSize int) (Result, error)
		PurgeHistory(ctx context.Context, sess school.Session) (CommitReport, error)
	}

	// draft is the roster an admin is editing, with its decisions.
	draft struct {
		roster    school.Roster
		decisions *DecisionStore
	}

	// Service keeps one draft per school: selecting a class replaces the previous draft.
	Service struct {
		roster   *school.RosterService
		engine   *Engine
		logger   core.Logger
		passMark float64

		mu     sync.Mutex
		drafts map[string]*draft // {schoolID: draft}
	}
)

var _ ServiceInterface = (*Service)(nil) // interface compliance check

func NewService(roster *school.RosterService, engine *Engine, logger core.Logger, conf *core.Config) *Service {
	passMark := DefaultPassMark
	if conf != nil && conf.Transition.PassMark > 0 {
		passMark = conf.Transition.PassMark
	}
	return &Service{
		roster:   roster,
		engine:   engine,
		logger:   logger,
		passMark: passMark,
		drafts:   make(map[string]*draft),
	}
}

func (svc *Service) draftOf(sess school.Session, classID string) (*draft, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	d, ok := svc.drafts[sess.SchoolID]
	if !ok || d.roster.Class.ID != classID {
		return nil, errors.Wrapf(ErrNoDraft, "%q", classID)
	}
	return d, nil
}

func (svc *Service) Classes(ctx context.Context, sess school.Session) ([]school.Class, error) {
	return svc.roster.LoadClasses(ctx, sess)
}

// Select loads the roster of classID and makes it the school's draft.
func (svc *Service) Select(ctx context.Context, sess school.Session, classID string) (school.Roster, error) {
	roster, err := svc.roster.SelectClass(ctx, sess, classID)
	if err != nil {
		return roster, err
	}

	svc.mu.Lock()
	svc.drafts[sess.SchoolID] = &draft{roster: roster, decisions: NewDecisionStore(roster.Candidates, svc.passMark)}
	svc.mu.Unlock()

	return roster, nil
}

// Draft returns the roster being edited, with the current decisions.
func (svc *Service) Draft(sess school.Session, classID string) (school.Roster, error) {
	d, err := svc.draftOf(sess, classID)
	if err != nil {
		return school.Roster{Candidates: []school.Candidate{}}, err
	}
	roster := d.roster
	roster.Candidates = d.decisions.Candidates()
	return roster, nil
}

func (svc *Service) Discard(sess school.Session, classID string) error {
	if _, err := svc.draftOf(sess, classID); err != nil {
		return err
	}
	svc.mu.Lock()
	delete(svc.drafts, sess.SchoolID)
	svc.mu.Unlock()
	return nil
}

func (svc *Service) SetDecision(sess school.Session, classID, studentID string, decision school.Decision) error {
	d, err := svc.draftOf(sess, classID)
	if err != nil {
		return err
	}
	return d.decisions.SetDecision(studentID, decision)
}

func (svc *Service) SetAllDecisions(sess school.Session, classID string, decision school.Decision) error {
	d, err := svc.draftOf(sess, classID)
	if err != nil {
		return err
	}
	return d.decisions.SetAllDecisions(decision)
}

// UpdateCandidate applies the decision, the exam score and the result of one student at once: an explicit result
// wins over the one derived from the exam score.
func (svc *Service) UpdateCandidate(sess school.Session, classID, studentID string, uc UpdateCandidate) (school.Candidate, error) {
	d, err := svc.draftOf(sess, classID)
	if err != nil {
		return school.Candidate{}, err
	}
	return d.decisions.Update(studentID, uc.Decision, uc.ExamScore, uc.Result)
}

// Commit runs the transition of the draft of classID. The draft is dropped once the run is done;
// it is kept after a failure so that the admin can review it.
func (svc *Service) Commit(ctx context.Context, sess school.Session, classID string, chunkSize int) (Result, error) {
	d, err := svc.draftOf(sess, classID)
	if err != nil {
		return Result{}, err
	}

	res, err := svc.engine.Run(ctx, sess, Request{
		Class:      d.roster.Class,
		Candidates: d.decisions.Candidates(),
		ChunkSize:  chunkSize,
	})
	if err != nil {
		return res, err
	}

	svc.mu.Lock()
	if cur, ok := svc.drafts[sess.SchoolID]; ok && cur == d {
		delete(svc.drafts, sess.SchoolID)
	}
	svc.mu.Unlock()
	return res, nil
}

func (svc *Service) PurgeHistory(ctx context.Context, sess school.Session) (CommitReport, error) {
	return svc.engine.PurgeHistory(ctx, sess)
}
