package transition

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

// DefaultPassMark is the lowest exam score that passes.
const DefaultPassMark = 33.0

var ErrStudentNotFound = errors.New("student not found in roster")

// ParseExamScore parses a raw exam score. Only finite numbers are scores.
func ParseExamScore(raw string) (float64, bool) {
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, false
	}
	return score, true
}

// DecisionStore holds the per-student transition inputs of one roster while the admin edits them.
// It never touches the document store.
type DecisionStore struct {
	mu       sync.RWMutex
	order    []string
	byID     map[string]*school.Candidate
	passMark float64
}

func NewDecisionStore(candidates []school.Candidate, passMark ...float64) *DecisionStore {
	ds := &DecisionStore{
		order:    make([]string, 0, len(candidates)),
		byID:     make(map[string]*school.Candidate, len(candidates)),
		passMark: DefaultPassMark,
	}
	if len(passMark) > 0 {
		ds.passMark = passMark[0]
	}
	for _, c := range candidates {
		c := c
		if _, dup := ds.byID[c.ID]; dup {
			continue
		}
		ds.order = append(ds.order, c.ID)
		ds.byID[c.ID] = &c
	}
	return ds
}

func invalidField(field, msg string) error {
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: msg})
}

func (ds *DecisionStore) get(id string) (*school.Candidate, error) {
	c, ok := ds.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrStudentNotFound, "%q", id)
	}
	return c, nil
}

func (ds *DecisionStore) SetDecision(studentID string, decision school.Decision) error {
	if !decision.IsValid() {
		return invalidField("decision", "invalid decision")
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	c, err := ds.get(studentID)
	if err != nil {
		return err
	}
	c.Decision = decision
	return nil
}

// SetAllDecisions overwrites the decision of every student of the roster.
func (ds *DecisionStore) SetAllDecisions(decision school.Decision) error {
	if !decision.IsValid() {
		return invalidField("decision", "invalid decision")
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for _, c := range ds.byID {
		c.Decision = decision
	}
	return nil
}

// SetExamScore stores raw as given. When raw is a number, the result is derived from the pass mark;
// otherwise the result is left untouched.
func (ds *DecisionStore) SetExamScore(studentID, raw string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	c, err := ds.get(studentID)
	if err != nil {
		return err
	}
	ds.setExamScore(c, raw)
	return nil
}

func (ds *DecisionStore) setExamScore(c *school.Candidate, raw string) {
	c.ExamScore = raw
	if score, ok := ParseExamScore(raw); ok {
		if score >= ds.passMark {
			c.Result = school.ResultPass
		} else {
			c.Result = school.ResultFail
		}
	}
}

// SetResult is a manual override, independent of the exam score.
func (ds *DecisionStore) SetResult(studentID string, result school.Result) error {
	if !result.IsValid() {
		return invalidField("result", "invalid result")
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()

	c, err := ds.get(studentID)
	if err != nil {
		return err
	}
	c.Result = result
	return nil
}

// Update applies the given inputs of one student together: nothing is changed unless all of them are valid.
// The exam score is applied before the result, so an explicit result overrides the derived one.
func (ds *DecisionStore) Update(studentID string, decision *school.Decision, examScore *string, result *school.Result) (school.Candidate, error) {
	var flds []core.FieldError
	if decision != nil && !decision.IsValid() {
		flds = append(flds, core.FieldError{Field: "decision", Error: "invalid decision"})
	}
	if result != nil && !result.IsValid() {
		flds = append(flds, core.FieldError{Field: "result", Error: "invalid result"})
	}
	if len(flds) > 0 {
		return school.Candidate{}, core.NewValidationError(nil, flds...)
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	c, err := ds.get(studentID)
	if err != nil {
		return school.Candidate{}, err
	}
	if decision != nil {
		c.Decision = *decision
	}
	if examScore != nil {
		ds.setExamScore(c, *examScore)
	}
	if result != nil {
		c.Result = *result
	}
	return *c, nil
}

func (ds *DecisionStore) Get(studentID string) (school.Candidate, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	c, err := ds.get(studentID)
	if err != nil {
		return school.Candidate{}, err
	}
	return *c, nil
}

// Candidates returns a copy of the roster, in roster order.
func (ds *DecisionStore) Candidates() []school.Candidate {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	out := make([]school.Candidate, 0, len(ds.order))
	for _, id := range ds.order {
		out = append(out, *ds.byID[id])
	}
	return out
}

func (ds *DecisionStore) Len() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.order)
}
