package transition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

var (
	planSess = school.Session{SchoolID: "sch-1"}
	planNow  = time.Date(2026, 3, 31, 17, 0, 0, 0, time.UTC)
)

func class5Candidate(id string, decision school.Decision) school.Candidate {
	status := "present"
	return school.Candidate{
		Student: school.Student{
			ID:             id,
			RollNo:         "1",
			Name:           "Student " + id,
			ClassID:        "c5",
			ClassName:      "Class 5",
			Status:         &status,
			AcademicScores: []school.Score{{Subject: "math", Marks: 70}},
			Homework:       80,
			Attendance:     school.Attendance{Percentage: 91},
			Extra:          core.Fields{"parentPhone": "+243000000"},
		},
		Result:            school.ResultPass,
		Decision:          decision,
		NextClassID:       "c6",
		NextClassName:     "Class 6",
		PreviousClassID:   "c4",
		PreviousClassName: "Class 4",
	}
}

func opsOf(ops []core.WriteOp) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Kind.String()+" "+op.Path)
	}
	return out
}

func TestStepFor(t *testing.T) {
	grad := class5Candidate("a", school.DecisionPromote)
	grad.NextClassID = school.GraduateClassID
	firstClass := class5Candidate("a", school.DecisionDemote)
	firstClass.PreviousClassID = ""

	tests := []struct {
		name string
		cand school.Candidate
		want Step
	}{
		{name: "promote", cand: class5Candidate("a", school.DecisionPromote), want: PromoteStep{ToClassID: "c6", ToClassName: "Class 6"}},
		{name: "graduate", cand: grad, want: PromoteStep{ToClassID: school.GraduateClassID, Graduate: true}},
		{name: "demote", cand: class5Candidate("a", school.DecisionDemote), want: DemoteStep{ToClassID: "c4", ToClassName: "Class 4"}},
		{name: "demote without previous class", cand: firstClass, want: SkipStep{Reason: skipNoPreviousClass}},
		{name: "retain", cand: class5Candidate("a", school.DecisionRetain), want: RetainStep{}},
		{name: "leave", cand: class5Candidate("a", school.DecisionLeave), want: LeaveStep{}},
		{name: "unknown decision", cand: class5Candidate("a", school.Decision("")), want: RetainStep{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StepFor(tt.cand); got != tt.want {
				t.Errorf("StepFor() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestPlanner_Plan_ops(t *testing.T) {
	paths := planSess.Paths()
	grad := class5Candidate("g", school.DecisionPromote)
	grad.NextClassID = school.GraduateClassID
	noPrev := class5Candidate("n", school.DecisionDemote)
	noPrev.PreviousClassID = ""

	tests := []struct {
		name    string
		cand    school.Candidate
		wantOps []string
	}{
		{
			name: "promote",
			cand: class5Candidate("a", school.DecisionPromote),
			wantOps: []string{
				"set " + paths.RosterStudent("c6", "a"),
				"delete " + paths.RosterStudent("c5", "a"),
				"merge " + paths.MasterStudent("a"),
			},
		},
		{
			name: "graduate",
			cand: grad,
			wantOps: []string{
				"set " + paths.AlumniStudent("g"),
				"delete " + paths.RosterStudent("c5", "g"),
				"delete " + paths.MasterStudent("g"),
			},
		},
		{
			name: "demote",
			cand: class5Candidate("d", school.DecisionDemote),
			wantOps: []string{
				"set " + paths.RosterStudent("c4", "d"),
				"delete " + paths.RosterStudent("c5", "d"),
				"merge " + paths.MasterStudent("d"),
			},
		},
		{name: "retain", cand: class5Candidate("r", school.DecisionRetain), wantOps: []string{"merge " + paths.RosterStudent("c5", "r")}},
		{
			name: "leave",
			cand: class5Candidate("l", school.DecisionLeave),
			wantOps: []string{
				"delete " + paths.RosterStudent("c5", "l"),
				"delete " + paths.MasterStudent("l"),
			},
		},
		{name: "skip", cand: noPrev, wantOps: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Planner{}.Plan(planSess, "c5", []school.Candidate{tt.cand}, planNow)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOps, opsOf(plan.Ops))
		})
	}
}

func TestPlanner_Plan_promoteRecord(t *testing.T) {
	cand := class5Candidate("a", school.DecisionPromote)
	plan, err := Planner{}.Plan(planSess, "c5", []school.Candidate{cand}, planNow)
	require.NoError(t, err)
	require.Len(t, plan.Ops, 3)

	data := plan.Ops[0].Data
	assert.Equal(t, "c6", data["classId"])
	assert.Equal(t, "Class 6", data["className"])
	assert.Equal(t, "c5", data["previousClassId"])
	assert.Equal(t, planNow.Format(time.RFC3339), data["promotedAt"])
	assert.Equal(t, planNow.Format(time.RFC3339), data["updatedAt"])
	assert.Equal(t, "+243000000", data["parentPhone"], "unmodelled fields travel with the record")

	// year-scoped fields reset
	assert.Nil(t, data["status"])
	assert.Equal(t, []interface{}{}, data["academicScores"])
	assert.Equal(t, float64(0), data["homework"])
	assert.Equal(t, map[string]interface{}{"percentage": float64(0)}, data["attendance"])
	assert.Equal(t, map[string]interface{}{"behavior": nil, "health": nil, "hygiene": nil}, data["wellness"])

	master := plan.Ops[2].Data
	assert.Equal(t, core.Fields{"classId": "c6", "className": "Class 6", "updatedAt": planNow.Format(time.RFC3339)}, master)
}

func TestPlanner_Plan_clearsOldMarkers(t *testing.T) {
	cand := class5Candidate("a", school.DecisionDemote)
	earlier := planNow.AddDate(-1, 0, 0)
	cand.Student.PromotedAt = &earlier
	cand.Student.Retained = true
	cand.Student.RetainedAt = &earlier

	plan, err := Planner{}.Plan(planSess, "c5", []school.Candidate{cand}, planNow)
	require.NoError(t, err)

	data := plan.Ops[0].Data
	assert.Equal(t, "c4", data["classId"])
	assert.Equal(t, planNow.Format(time.RFC3339), data["demotedAt"])
	for _, key := range []string{"promotedAt", "retained", "retainedAt", "graduatedAt"} {
		_, ok := data[key]
		assert.False(t, ok, key)
	}
}

func TestPlanner_Plan_graduateRecord(t *testing.T) {
	cand := class5Candidate("g", school.DecisionPromote)
	cand.NextClassID = school.GraduateClassID
	cand.ExamScore = "78.5"

	plan, err := Planner{}.Plan(planSess, "c5", []school.Candidate{cand}, planNow)
	require.NoError(t, err)

	data := plan.Ops[0].Data
	assert.Equal(t, school.GraduateClassID, data["classId"])
	assert.Equal(t, "c5", data["previousClassId"])
	assert.Equal(t, 78.5, data["examScore"])
	assert.Equal(t, "pass", data["result"])
	assert.Equal(t, planNow.Format(time.RFC3339), data["graduatedAt"])
	assert.Equal(t, 1, plan.Counts.Graduated)
}

func TestPlanner_Plan_retainRecord(t *testing.T) {
	tests := []struct {
		name      string
		examScore string
		wantScore interface{}
	}{
		{name: "numeric score", examScore: "21", wantScore: float64(21)},
		{name: "non-numeric score", examScore: "absent", wantScore: nil},
		{name: "no score", examScore: "", wantScore: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := class5Candidate("r", school.DecisionRetain)
			cand.ExamScore = tt.examScore
			cand.Result = school.ResultFail

			plan, err := Planner{}.Plan(planSess, "c5", []school.Candidate{cand}, planNow)
			require.NoError(t, err)
			require.Len(t, plan.Ops, 1)

			data := plan.Ops[0].Data
			assert.Equal(t, tt.wantScore, data["examScore"])
			assert.Equal(t, "fail", data["result"])
			assert.Equal(t, true, data["retained"])
			assert.Equal(t, planNow.Format(time.RFC3339), data["retainedAt"])
			assert.Equal(t, float64(0), data["homework"])
			_, hasName := data["name"]
			assert.False(t, hasName, "retain merges only the reset and the markers")
		})
	}
}

func TestPlanner_Plan_counts(t *testing.T) {
	noPrev := class5Candidate("s", school.DecisionDemote)
	noPrev.PreviousClassID = ""
	grad := class5Candidate("g", school.DecisionPromote)
	grad.NextClassID = school.GraduateClassID

	cands := []school.Candidate{
		class5Candidate("a", school.DecisionPromote),
		class5Candidate("b", school.DecisionPromote),
		grad,
		class5Candidate("d", school.DecisionDemote),
		class5Candidate("r", school.DecisionRetain),
		class5Candidate("l", school.DecisionLeave),
		noPrev,
	}
	plan, err := Planner{}.Plan(planSess, "c5", cands, planNow)
	require.NoError(t, err)

	assert.Equal(t, Counts{Promoted: 2, Graduated: 1, Demoted: 1, Retained: 1, Left: 1, Skipped: 1}, plan.Counts)
	assert.Len(t, plan.Ops, 3+3+3+3+1+2)
	assert.Equal(t, []SkippedStudent{{ID: "s", Name: "Student s", Reason: skipNoPreviousClass}}, plan.Skipped())
	assert.Len(t, plan.Students, len(cands))
}

func TestResetSnapshot_Apply(t *testing.T) {
	st := class5Candidate("a", school.DecisionPromote).Student
	NewResetSnapshot(planNow).Apply(&st)

	assert.Nil(t, st.Status)
	assert.Empty(t, st.AcademicScores)
	assert.NotNil(t, st.AcademicScores)
	assert.Zero(t, st.Homework)
	assert.Zero(t, st.Attendance.Percentage)
	assert.Equal(t, school.Wellness{}, st.Wellness)
	require.NotNil(t, st.UpdatedAt)
	assert.True(t, planNow.Equal(*st.UpdatedAt))
	assert.Equal(t, "Student a", st.Name, "identity fields are kept")
}
