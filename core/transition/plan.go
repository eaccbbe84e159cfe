package transition

import (
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

// Step is what happens to one student. It is one of PromoteStep, DemoteStep, RetainStep, LeaveStep or SkipStep.
type Step interface {
	Kind() string
}

type (
	// PromoteStep moves the student to the next class, or to the alumni registry when Graduate is set.
	PromoteStep struct {
		ToClassID   string
		ToClassName string
		Graduate    bool
	}

	// DemoteStep moves the student to the previous class.
	DemoteStep struct {
		ToClassID   string
		ToClassName string
	}

	// RetainStep keeps the student in place, with the year reset.
	RetainStep struct{}

	// LeaveStep removes the student from the roster and the master registry, without archiving.
	LeaveStep struct{}

	// SkipStep leaves the record untouched.
	SkipStep struct {
		Reason string
	}
)

func (s PromoteStep) Kind() string {
	if s.Graduate {
		return "graduate"
	}
	return "promote"
}
func (DemoteStep) Kind() string { return "demote" }
func (RetainStep) Kind() string { return "retain" }
func (LeaveStep) Kind() string  { return "leave" }
func (SkipStep) Kind() string   { return "skip" }

const skipNoPreviousClass = "demote requested but the class has no previous class"

// StepFor resolves the decision of c. Unknown decisions retain.
func StepFor(c school.Candidate) Step {
	switch c.Decision {
	case school.DecisionPromote:
		if c.Graduates() {
			return PromoteStep{ToClassID: school.GraduateClassID, Graduate: true}
		}
		return PromoteStep{ToClassID: c.NextClassID, ToClassName: c.NextClassName}
	case school.DecisionDemote:
		if c.PreviousClassID == "" {
			return SkipStep{Reason: skipNoPreviousClass}
		}
		return DemoteStep{ToClassID: c.PreviousClassID, ToClassName: c.PreviousClassName}
	case school.DecisionLeave:
		return LeaveStep{}
	default:
		return RetainStep{}
	}
}

// ResetSnapshot clears the year-scoped fields. Every relocated or retained record gets the same one.
type ResetSnapshot struct {
	UpdatedAt time.Time
}

func NewResetSnapshot(now time.Time) ResetSnapshot {
	return ResetSnapshot{UpdatedAt: now.UTC()}
}

func (r ResetSnapshot) Apply(st *school.Student) {
	st.Status = nil
	st.AcademicScores = []school.Score{}
	st.Homework = 0
	st.Attendance = school.Attendance{Percentage: 0}
	st.Wellness = school.Wellness{}
	updatedAt := r.UpdatedAt
	st.UpdatedAt = &updatedAt
}

type resetFields struct {
	Status         *string           `json:"status"`
	AcademicScores []school.Score    `json:"academicScores"`
	Homework       float64           `json:"homework"`
	Attendance     school.Attendance `json:"attendance"`
	Wellness       school.Wellness   `json:"wellness"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

func (r ResetSnapshot) fields() resetFields {
	return resetFields{
		AcademicScores: []school.Score{},
		UpdatedAt:      r.UpdatedAt,
	}
}

// Fields is the reset as a partial document.
func (r ResetSnapshot) Fields() (core.Fields, error) {
	return core.ToFields(r.fields())
}

type retainFields struct {
	resetFields
	ExamScore  *float64      `json:"examScore"`
	Result     school.Result `json:"result"`
	Retained   bool          `json:"retained"`
	RetainedAt time.Time     `json:"retainedAt"`
}

type masterFields struct {
	ClassID   string    `json:"classId"`
	ClassName string    `json:"className"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Counts tallies a plan by step kind.
type Counts struct {
	Promoted  int `json:"promoted"`
	Graduated int `json:"graduated"`
	Demoted   int `json:"demoted"`
	Retained  int `json:"retained"`
	Left      int `json:"left"`
	Skipped   int `json:"skipped"`
}

type (
	PlannedStudent struct {
		Candidate school.Candidate
		Step      Step
	}

	SkippedStudent struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}

	// Plan is the ordered list of writes that carries out the decisions of a roster.
	Plan struct {
		SchoolID string
		ClassID  string
		Reset    ResetSnapshot
		Students []PlannedStudent
		Ops      []core.WriteOp
		Counts   Counts
	}
)

func (p Plan) Skipped() []SkippedStudent {
	skipped := make([]SkippedStudent, 0, p.Counts.Skipped)
	for _, ps := range p.Students {
		if s, ok := ps.Step.(SkipStep); ok {
			skipped = append(skipped, SkippedStudent{ID: ps.Candidate.ID, Name: ps.Candidate.Name, Reason: s.Reason})
		}
	}
	return skipped
}

type Planner struct{}

// Plan converts the decisions of the roster of classID into write ops, student by student in roster order.
func (Planner) Plan(sess school.Session, classID string, candidates []school.Candidate, now time.Time) (Plan, error) {
	now = now.UTC()
	plan := Plan{
		SchoolID: sess.SchoolID,
		ClassID:  classID,
		Reset:    NewResetSnapshot(now),
		Students: make([]PlannedStudent, 0, len(candidates)),
		Ops:      make([]core.WriteOp, 0, 2*len(candidates)),
	}
	b := opBuilder{paths: sess.Paths(), classID: classID, reset: plan.Reset, now: now}

	for _, c := range candidates {
		step := StepFor(c)
		ops, err := b.build(c, step)
		if err != nil {
			return Plan{}, errors.Wrapf(err, "planning student %q", c.ID)
		}
		plan.Students = append(plan.Students, PlannedStudent{Candidate: c, Step: step})
		plan.Ops = append(plan.Ops, ops...)
		plan.Counts.add(step)
	}
	return plan, nil
}

func (c *Counts) add(step Step) {
	switch s := step.(type) {
	case PromoteStep:
		if s.Graduate {
			c.Graduated++
		} else {
			c.Promoted++
		}
	case DemoteStep:
		c.Demoted++
	case RetainStep:
		c.Retained++
	case LeaveStep:
		c.Left++
	case SkipStep:
		c.Skipped++
	}
}

type opBuilder struct {
	paths   school.Paths
	classID string
	reset   ResetSnapshot
	now     time.Time
}

func (b opBuilder) build(c school.Candidate, step Step) ([]core.WriteOp, error) {
	source := b.paths.RosterStudent(b.classID, c.ID)

	switch s := step.(type) {
	case PromoteStep:
		if s.Graduate {
			return b.graduate(c, source)
		}
		return b.relocate(c, source, s.ToClassID, s.ToClassName, func(st *school.Student, at *time.Time) { st.PromotedAt = at })
	case DemoteStep:
		return b.relocate(c, source, s.ToClassID, s.ToClassName, func(st *school.Student, at *time.Time) { st.DemotedAt = at })
	case LeaveStep:
		return []core.WriteOp{
			{Kind: core.OpDelete, Path: source},
			{Kind: core.OpDelete, Path: b.paths.MasterStudent(c.ID)},
		}, nil
	case RetainStep:
		return b.retain(c, source)
	default: // SkipStep
		return nil, nil
	}
}

// record returns the stored student with the year reset and the markers of earlier transitions cleared.
func (b opBuilder) record(c school.Candidate) school.Student {
	st := c.Student
	st.PreviousClassID = ""
	st.ExamScore = nil
	st.Result = ""
	st.Retained = false
	st.PromotedAt, st.DemotedAt, st.GraduatedAt, st.RetainedAt = nil, nil, nil, nil
	b.reset.Apply(&st)
	return st
}

func (b opBuilder) relocate(c school.Candidate, source, toClassID, toClassName string, mark func(*school.Student, *time.Time)) ([]core.WriteOp, error) {
	if toClassID == "" {
		return nil, errors.New("no destination class")
	}
	st := b.record(c)
	st.ClassID = toClassID
	st.ClassName = toClassName
	st.PreviousClassID = b.classID
	at := b.now
	mark(&st, &at)

	data, err := st.Fields()
	if err != nil {
		return nil, err
	}
	master, err := core.ToFields(masterFields{ClassID: toClassID, ClassName: toClassName, UpdatedAt: b.now})
	if err != nil {
		return nil, err
	}
	return []core.WriteOp{
		{Kind: core.OpSet, Path: b.paths.RosterStudent(toClassID, c.ID), Data: data},
		{Kind: core.OpDelete, Path: source},
		{Kind: core.OpMerge, Path: b.paths.MasterStudent(c.ID), Data: master},
	}, nil
}

func (b opBuilder) graduate(c school.Candidate, source string) ([]core.WriteOp, error) {
	st := b.record(c)
	st.ClassID = school.GraduateClassID
	st.ClassName = ""
	st.PreviousClassID = b.classID
	st.ExamScore = examScorePtr(c.ExamScore)
	st.Result = c.Result
	at := b.now
	st.GraduatedAt = &at

	data, err := st.Fields()
	if err != nil {
		return nil, err
	}
	return []core.WriteOp{
		{Kind: core.OpSet, Path: b.paths.AlumniStudent(c.ID), Data: data},
		{Kind: core.OpDelete, Path: source},
		{Kind: core.OpDelete, Path: b.paths.MasterStudent(c.ID)},
	}, nil
}

func (b opBuilder) retain(c school.Candidate, source string) ([]core.WriteOp, error) {
	data, err := core.ToFields(retainFields{
		resetFields: b.reset.fields(),
		ExamScore:   examScorePtr(c.ExamScore),
		Result:      c.Result,
		Retained:    true,
		RetainedAt:  b.now,
	})
	if err != nil {
		return nil, err
	}
	return []core.WriteOp{{Kind: core.OpMerge, Path: source, Data: data}}, nil
}

func examScorePtr(raw string) *float64 {
	if score, ok := ParseExamScore(raw); ok {
		return &score
	}
	return nil
}
