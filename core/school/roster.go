package school

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
)

var (
	ErrClassNotFound = errors.New("class not found")

	nowFunc = time.Now // mockable
)

// LoadError reports a failed roster or class list read. Nothing is retried; callers may reselect.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string { return "load failed: " + e.Op + ": " + e.Err.Error() }
func (e *LoadError) Cause() error  { return e.Err }
func (e *LoadError) Unwrap() error { return e.Err }

func IsLoadFailure(err error) bool {
	for err != nil {
		if _, ok := err.(*LoadError); ok {
			return true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = cause.Cause()
	}
	return false
}

type RosterService struct {
	store  core.DocStore
	logger core.Logger
}

func NewRosterService(store core.DocStore, logger core.Logger) *RosterService {
	return &RosterService{store: store, logger: logger}
}

// LoadClasses fetches all classes of the school with live headcounts, in promotion order.
func (svc *RosterService) LoadClasses(ctx context.Context, sess Session) ([]Class, error) {
	if err := sess.Validate(); err != nil {
		return []Class{}, err
	}
	paths := sess.Paths()

	docs, err := svc.store.Query(ctx, paths.Classes())
	if err != nil {
		return []Class{}, &LoadError{Op: "querying classes", Err: err}
	}

	classes := make([]Class, 0, len(docs))
	for _, doc := range docs {
		var cls Class
		if err := doc.Decode(&cls); err != nil {
			return []Class{}, &LoadError{Op: "decoding class " + doc.ID(), Err: err}
		}
		cls.ID = doc.ID()

		cls.StudentCount, err = svc.store.Count(ctx, paths.Roster(cls.ID))
		if err != nil {
			return []Class{}, &LoadError{Op: "counting students of class " + cls.ID, Err: err}
		}
		classes = append(classes, cls)
	}

	SortClasses(classes)
	return classes, nil
}

// SelectClass loads the roster of classID and resolves each student's promotion and demotion destinations.
// Every candidate starts as promote / pass with an empty exam score.
func (svc *RosterService) SelectClass(ctx context.Context, sess Session, classID string) (Roster, error) {
	empty := Roster{Candidates: []Candidate{}}

	classes, err := svc.LoadClasses(ctx, sess)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("selecting class %q: %v", classID, err), err, sess)
		return empty, err
	}

	prev, next, found := Neighbours(classes, classID)
	if !found {
		return empty, &LoadError{Op: "selecting class " + classID, Err: ErrClassNotFound}
	}
	var cls Class
	for _, c := range classes {
		if c.ID == classID {
			cls = c
			break
		}
	}

	docs, err := svc.store.Query(ctx, sess.Paths().Roster(classID))
	if err != nil {
		err = &LoadError{Op: "querying roster of class " + classID, Err: err}
		svc.logger.Warn(err.Error(), err, sess)
		return empty, err
	}

	candidates := make([]Candidate, 0, len(docs))
	for _, doc := range docs {
		st, err := StudentFromDocument(doc)
		if err != nil {
			return empty, &LoadError{Op: "reading roster of class " + classID, Err: err}
		}
		cand := Candidate{
			Student:       st,
			ExamScore:     "",
			Result:        ResultPass,
			Decision:      DecisionPromote,
			NextClassID:   GraduateClassID,
			NextClassName: "Graduate",
		}
		if next != nil {
			cand.NextClassID = next.ID
			cand.NextClassName = next.Name
		}
		if prev != nil {
			cand.PreviousClassID = prev.ID
			cand.PreviousClassName = prev.Name
		}
		candidates = append(candidates, cand)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].RollNo != candidates[j].RollNo {
			return lessRollNo(candidates[i].RollNo, candidates[j].RollNo)
		}
		return candidates[i].Name < candidates[j].Name
	})

	return Roster{
		Class:      cls,
		Classes:    classes,
		Candidates: candidates,
		LoadedAt:   nowFunc().UTC(),
	}, nil
}
