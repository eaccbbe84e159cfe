package school

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
)

// GraduateClassID is the destination of students promoted out of the last class.
const GraduateClassID = "graduate"

// Decisions
const (
	DecisionPromote Decision = "promote"
	DecisionRetain  Decision = "retain"
	DecisionDemote  Decision = "demote"
	DecisionLeave   Decision = "leave"
)

// Results
const (
	ResultPass Result = "pass"
	ResultFail Result = "fail"
)

var (
	Decisions = []Decision{DecisionPromote, DecisionRetain, DecisionDemote, DecisionLeave}
	Results   = []Result{ResultPass, ResultFail}
)

type (
	Decision string
	Result   string
)

func (d Decision) IsValid() bool {
	for _, dd := range Decisions {
		if d == dd {
			return true
		}
	}
	return false
}

func (r Result) IsValid() bool {
	return r == ResultPass || r == ResultFail
}

// Session is the explicit identity an invocation runs for.
type Session struct {
	SchoolID   string `json:"school_id"`
	AdminName  string `json:"admin_name,omitempty"`
	AdminEmail string `json:"admin_email,omitempty"`
}

func (s Session) Validate() error {
	if core.CleanString(s.SchoolID) == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "school_id", Error: "this field is required"})
	}
	return core.ValidateDocPath(core.JoinPath("schools", s.SchoolID))
}

func (s Session) Paths() Paths {
	return Paths{SchoolID: s.SchoolID}
}

type Class struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	StudentCount int    `json:"student_count"`
}

func (c Class) OrderKey() int {
	return OrderKey(c.Name)
}

type (
	Score struct {
		Subject string  `json:"subject"`
		Marks   float64 `json:"marks"`
	}

	Attendance struct {
		Percentage float64 `json:"percentage"`
	}

	Wellness struct {
		Behavior *string `json:"behavior"`
		Health   *string `json:"health"`
		Hygiene  *string `json:"hygiene"`
	}
)

// Student is a student record as stored in a roster, the master registry or the alumni registry.
type Student struct {
	ID        string `json:"-"`
	RollNo    string `json:"rollNo"`
	Name      string `json:"name"`
	ClassID   string `json:"classId"`
	ClassName string `json:"className,omitempty"`

	// year-scoped
	Status         *string    `json:"status"`
	AcademicScores []Score    `json:"academicScores"`
	Homework       float64    `json:"homework"`
	Attendance     Attendance `json:"attendance"`
	Wellness       Wellness   `json:"wellness"`

	// transition markers
	PreviousClassID string     `json:"previousClassId,omitempty"`
	ExamScore       *float64   `json:"examScore,omitempty"`
	Result          Result     `json:"result,omitempty"`
	Retained        bool       `json:"retained,omitempty"`
	PromotedAt      *time.Time `json:"promotedAt,omitempty"`
	DemotedAt       *time.Time `json:"demotedAt,omitempty"`
	GraduatedAt     *time.Time `json:"graduatedAt,omitempty"`
	RetainedAt      *time.Time `json:"retainedAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`

	// Extra holds the stored fields not modelled above; they travel with the record.
	Extra core.Fields `json:"-"`
}

var studentKeys = map[string]struct{}{
	"rollNo": {}, "name": {}, "classId": {}, "className": {},
	"status": {}, "academicScores": {}, "homework": {}, "attendance": {}, "wellness": {},
	"previousClassId": {}, "examScore": {}, "result": {}, "retained": {},
	"promotedAt": {}, "demotedAt": {}, "graduatedAt": {}, "retainedAt": {}, "updatedAt": {},
}

// StudentFromDocument decodes a stored student, keeping unknown fields in Extra.
// Known fields holding a value of the wrong type (eg. a numeric rollNo or an empty examScore) are coerced
// when possible, otherwise kept in Extra instead of failing the whole record.
func StudentFromDocument(doc core.Document) (Student, error) {
	clean, extra := tolerantFields(doc.Data)
	var st Student
	if err := clean.Decode(&st); err != nil {
		return Student{}, errors.Wrapf(err, "decoding student %q", doc.Path)
	}
	st.ID = doc.ID()
	if len(extra) > 0 {
		st.Extra = extra
	}
	return st, nil
}

func tolerantFields(data core.Fields) (clean, extra core.Fields) {
	clean = make(core.Fields, len(data))
	extra = make(core.Fields)
	for k, v := range data {
		if _, known := studentKeys[k]; !known {
			extra[k] = v
			continue
		}
		if decodesAs(k, v) {
			clean[k] = v
			continue
		}
		if c, ok := coerce(v); ok && decodesAs(k, c) {
			clean[k] = c
			continue
		}
		extra[k] = v
	}
	return clean, extra
}

func decodesAs(key string, v interface{}) bool {
	var st Student
	return core.Fields{key: v}.Decode(&st) == nil
}

// coerce swaps a number for its string form and a numeric string for its number; blank strings become null.
func coerce(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

// Fields encodes the student for storage with its Extra fields; off-type values of known fields are not written back.
func (st Student) Fields() (core.Fields, error) {
	f, err := core.ToFields(st)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding student %q", st.ID)
	}
	for k, v := range st.Extra.Clone() {
		if _, known := studentKeys[k]; !known {
			f[k] = v
		}
	}
	return f, nil
}

// Candidate is a roster student with the session-only inputs of the annual transition.
type Candidate struct {
	Student

	ExamScore string   `json:"examScore"` // raw input
	Result    Result   `json:"result"`
	Decision  Decision `json:"decision"`

	NextClassID       string `json:"nextClassId"`
	NextClassName     string `json:"nextClassName"`
	PreviousClassID   string `json:"previousClassId"`
	PreviousClassName string `json:"previousClassName"`
}

func (c Candidate) Graduates() bool {
	return c.NextClassID == GraduateClassID
}

// MarshalJSON exposes the candidate with its id for API consumers.
func (c Candidate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID                string   `json:"id"`
		RollNo            string   `json:"roll_no"`
		Name              string   `json:"name"`
		ClassID           string   `json:"class_id"`
		ExamScore         string   `json:"exam_score"`
		Result            Result   `json:"result"`
		Decision          Decision `json:"decision"`
		NextClassID       string   `json:"next_class_id"`
		NextClassName     string   `json:"next_class_name"`
		PreviousClassID   *string  `json:"previous_class_id"`
		PreviousClassName *string  `json:"previous_class_name"`
	}{
		ID:                c.ID,
		RollNo:            c.RollNo,
		Name:              c.Name,
		ClassID:           c.ClassID,
		ExamScore:         c.ExamScore,
		Result:            c.Result,
		Decision:          c.Decision,
		NextClassID:       c.NextClassID,
		NextClassName:     c.NextClassName,
		PreviousClassID:   strPtrOrNil(c.PreviousClassID),
		PreviousClassName: strPtrOrNil(c.PreviousClassName),
	})
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Roster is the point-in-time snapshot of a selected class.
type Roster struct {
	Class      Class       `json:"class"`
	Classes    []Class     `json:"classes"`
	Candidates []Candidate `json:"students"`
	LoadedAt   time.Time   `json:"loaded_at"`
}
