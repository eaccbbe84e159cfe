package transition

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

func newCandidates(ids ...string) []school.Candidate {
	cands := make([]school.Candidate, 0, len(ids))
	for _, id := range ids {
		cands = append(cands, school.Candidate{
			Student:  school.Student{ID: id, Name: "Student " + id},
			Result:   school.ResultPass,
			Decision: school.DecisionPromote,
		})
	}
	return cands
}

func TestParseExamScore(t *testing.T) {
	tests := []struct {
		raw    string
		want   float64
		wantOk bool
	}{
		{raw: "45", want: 45, wantOk: true},
		{raw: " 32.5 ", want: 32.5, wantOk: true},
		{raw: "0", want: 0, wantOk: true},
		{raw: "", wantOk: false},
		{raw: "abc", wantOk: false},
		{raw: "NaN", wantOk: false},
		{raw: "Inf", wantOk: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseExamScore(tt.raw)
			if ok != tt.wantOk || got != tt.want {
				t.Errorf("ParseExamScore(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestDecisionStore_SetExamScore(t *testing.T) {
	tests := []struct {
		name       string
		initResult school.Result
		raw        string
		wantResult school.Result
	}{
		{name: "at pass mark", initResult: school.ResultFail, raw: "33", wantResult: school.ResultPass},
		{name: "above pass mark", initResult: school.ResultFail, raw: "45", wantResult: school.ResultPass},
		{name: "below pass mark", initResult: school.ResultPass, raw: "32.9", wantResult: school.ResultFail},
		{name: "not a number keeps result", initResult: school.ResultFail, raw: "abc", wantResult: school.ResultFail},
		{name: "empty keeps result", initResult: school.ResultPass, raw: "", wantResult: school.ResultPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands := newCandidates("a")
			cands[0].Result = tt.initResult
			ds := NewDecisionStore(cands)

			require.NoError(t, ds.SetExamScore("a", tt.raw))
			got, err := ds.Get("a")
			require.NoError(t, err)
			assert.Equal(t, tt.raw, got.ExamScore)
			if got.Result != tt.wantResult {
				t.Errorf("Result = %v, want %v", got.Result, tt.wantResult)
			}
		})
	}
}

func TestDecisionStore_customPassMark(t *testing.T) {
	ds := NewDecisionStore(newCandidates("a"), 50)
	require.NoError(t, ds.SetExamScore("a", "45"))
	got, _ := ds.Get("a")
	assert.Equal(t, school.ResultFail, got.Result)
}

func TestDecisionStore_SetResult(t *testing.T) {
	ds := NewDecisionStore(newCandidates("a"))
	require.NoError(t, ds.SetExamScore("a", "80"))
	require.NoError(t, ds.SetResult("a", school.ResultFail))

	got, _ := ds.Get("a")
	assert.Equal(t, school.ResultFail, got.Result, "manual result overrides the derived one")
	assert.Equal(t, "80", got.ExamScore)

	err := ds.SetResult("a", school.Result("maybe"))
	assert.True(t, core.IsValidationError(err))
}

func TestDecisionStore_SetDecision(t *testing.T) {
	ds := NewDecisionStore(newCandidates("a", "b"))

	require.NoError(t, ds.SetDecision("b", school.DecisionLeave))
	a, _ := ds.Get("a")
	b, _ := ds.Get("b")
	assert.Equal(t, school.DecisionPromote, a.Decision)
	assert.Equal(t, school.DecisionLeave, b.Decision)

	err := ds.SetDecision("a", school.Decision("expel"))
	assert.True(t, core.IsValidationError(err))

	err = ds.SetDecision("zz", school.DecisionRetain)
	assert.Equal(t, ErrStudentNotFound, errors.Cause(err))
}

func TestDecisionStore_SetAllDecisions(t *testing.T) {
	ds := NewDecisionStore(newCandidates("a", "b", "c"))
	require.NoError(t, ds.SetDecision("b", school.DecisionLeave))
	require.NoError(t, ds.SetAllDecisions(school.DecisionRetain))

	for _, c := range ds.Candidates() {
		assert.Equal(t, school.DecisionRetain, c.Decision, c.ID)
	}
	assert.True(t, core.IsValidationError(ds.SetAllDecisions("")))
}

func TestDecisionStore_Candidates(t *testing.T) {
	ds := NewDecisionStore(newCandidates("c", "a", "b", "a"))
	assert.Equal(t, 3, ds.Len())

	ids := make([]string, 0, 3)
	for _, c := range ds.Candidates() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "roster order, duplicates dropped")

	// copies: editing them does not change the store
	cands := ds.Candidates()
	cands[0].Decision = school.DecisionLeave
	got, _ := ds.Get("c")
	assert.Equal(t, school.DecisionPromote, got.Decision)
}

func TestDecisionStore_Update(t *testing.T) {
	dec := func(s string) *school.Decision { d := school.Decision(s); return &d }
	res := func(s string) *school.Result { r := school.Result(s); return &r }
	str := func(s string) *string { return &s }

	tests := []struct {
		name         string
		id           string
		decision     *school.Decision
		examScore    *string
		result       *school.Result
		wantErr      error
		wantFields   []string
		wantDecision school.Decision
		wantScore    string
		wantResult   school.Result
	}{
		{name: "nothing", id: "A", wantDecision: school.DecisionPromote, wantResult: school.ResultPass},
		{name: "all valid", id: "A", decision: dec("retain"), examScore: str("12"), wantDecision: school.DecisionRetain, wantScore: "12", wantResult: school.ResultFail},
		{name: "explicit result wins", id: "A", examScore: str("12"), result: res("pass"), wantDecision: school.DecisionPromote, wantScore: "12", wantResult: school.ResultPass},
		{name: "invalid result keeps valid decision out", id: "A", decision: dec("leave"), examScore: str("5"), result: res("maybe"), wantFields: []string{"result"}, wantDecision: school.DecisionPromote, wantResult: school.ResultPass},
		{name: "both invalid", id: "A", decision: dec("skip"), result: res("maybe"), wantFields: []string{"decision", "result"}, wantDecision: school.DecisionPromote, wantResult: school.ResultPass},
		{name: "unknown student", id: "Z", decision: dec("leave"), wantErr: ErrStudentNotFound, wantDecision: school.DecisionPromote, wantResult: school.ResultPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := NewDecisionStore(newCandidates("A", "B"))
			_, err := ds.Update(tt.id, tt.decision, tt.examScore, tt.result)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.wantFields != nil:
				var verr *core.ValidationError
				require.True(t, errors.As(err, &verr), "err = %v", err)
				fields := make([]string, 0, len(verr.Fields))
				for _, f := range verr.Fields {
					fields = append(fields, f.Field)
				}
				assert.Equal(t, tt.wantFields, fields)
			default:
				require.NoError(t, err)
			}

			c, err := ds.Get("A")
			require.NoError(t, err)
			assert.Equal(t, tt.wantDecision, c.Decision)
			assert.Equal(t, tt.wantScore, c.ExamScore)
			assert.Equal(t, tt.wantResult, c.Result)
		})
	}
}
