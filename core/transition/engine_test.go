package transition_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/core/transition"
	"github.com/trezcool/kupanda/storage/docstore/inmem"
	"github.com/trezcool/kupanda/tests"
)

var errBoom = errors.New("boom")

type mailRecorder struct {
	mu   sync.Mutex
	msgs []*core.EmailMessage
}

func (m *mailRecorder) SendMessages(msgs ...*core.EmailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
}

type stateRecorder struct {
	transition.NopObserver
	mu     sync.Mutex
	states []transition.State
}

func (o *stateRecorder) StateChanged(_, to transition.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

type engineFixture struct {
	store  *inmemstore.Store
	roster *school.RosterService
	engine *transition.Engine
	mail   *mailRecorder
	obs    *stateRecorder
}

func newEngineFixture(t *testing.T) engineFixture {
	t.Helper()
	store := inmemstore.Open()
	logger := testutil.NewLogger()
	roster := school.NewRosterService(store, logger)
	mail := &mailRecorder{}
	obs := &stateRecorder{}
	testutil.CreateStandardClasses(t, store, testutil.Session)
	return engineFixture{
		store:  store,
		roster: roster,
		mail:   mail,
		obs:    obs,
		engine: transition.NewEngine(store, roster, logger, transition.Options{Observer: obs, MailSvc: mail}),
	}
}

func (f engineFixture) request(t *testing.T, classID string, decisions map[string]school.Decision) transition.Request {
	t.Helper()
	roster, err := f.roster.SelectClass(context.Background(), testutil.Session, classID)
	require.NoError(t, err)
	for i, c := range roster.Candidates {
		if d, ok := decisions[c.ID]; ok {
			roster.Candidates[i].Decision = d
		}
	}
	return transition.Request{Class: roster.Class, Candidates: roster.Candidates}
}

func TestEngine_Run(t *testing.T) {
	f := newEngineFixture(t)
	sess := testutil.Session
	paths := sess.Paths()
	testutil.CreateStudent(t, f.store, sess, "c5", "A", "1", "Amani")
	testutil.CreateStudent(t, f.store, sess, "c5", "B", "2", "Baraka")
	testutil.CreateStudent(t, f.store, sess, "c5", "C", "3", "Chausiku")
	testutil.CreateAttendanceHistory(t, f.store, sess, 10)

	req := f.request(t, "c5", map[string]school.Decision{
		"A": school.DecisionPromote,
		"B": school.DecisionRetain,
		"C": school.DecisionLeave,
	})
	res, err := f.engine.Run(context.Background(), sess, req)
	require.NoError(t, err)

	assert.Equal(t, transition.StateDone, res.State)
	assert.Equal(t, []transition.State{
		transition.StatePurgingHistory, transition.StateMovingStudents, transition.StateDone,
	}, f.obs.states)
	assert.Equal(t, transition.Counts{Promoted: 1, Retained: 1, Left: 1}, res.Counts)
	assert.Equal(t, 10, res.Purge.CommittedOps())
	assert.Equal(t, 3+1+2, res.Moves.CommittedOps())
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	// A is in Class 6, with the year reset
	a := testutil.MustGet(t, f.store, paths.RosterStudent("c6", "A"))
	assert.Equal(t, "c6", a.Data["classId"])
	assert.Equal(t, "c5", a.Data["previousClassId"])
	assert.Equal(t, float64(0), a.Data["homework"])
	assert.Equal(t, "+243000000", a.Data["parentPhone"])
	assert.False(t, testutil.Exists(t, f.store, paths.RosterStudent("c5", "A")))
	assert.Equal(t, "c6", testutil.MustGet(t, f.store, paths.MasterStudent("A")).Data["classId"])

	// B stays in Class 5, retained
	b := testutil.MustGet(t, f.store, paths.RosterStudent("c5", "B"))
	assert.Equal(t, true, b.Data["retained"])
	assert.Equal(t, "Baraka", b.Data["name"])
	assert.Equal(t, float64(0), b.Data["homework"])
	assert.NotNil(t, b.Data["retainedAt"])

	// C is gone
	assert.False(t, testutil.Exists(t, f.store, paths.RosterStudent("c5", "C")))
	assert.False(t, testutil.Exists(t, f.store, paths.MasterStudent("C")))

	// history purged
	n, _ := f.store.Count(context.Background(), paths.AttendanceHistory())
	assert.Zero(t, n)

	// reloaded headcounts
	counts := make(map[string]int, len(res.Classes))
	for _, c := range res.Classes {
		counts[c.ID] = c.StudentCount
	}
	assert.Equal(t, 1, counts["c5"])
	assert.Equal(t, 1, counts["c6"])

	// report mailed to the admin
	require.Len(t, f.mail.msgs, 1)
	msg := f.mail.msgs[0]
	assert.Equal(t, "transition_report", msg.TemplateName)
	assert.Equal(t, sess.AdminEmail, msg.To[0].Address)
}

func TestEngine_Run_graduates(t *testing.T) {
	f := newEngineFixture(t)
	sess := testutil.Session
	paths := sess.Paths()
	testutil.CreateStudent(t, f.store, sess, "c10", "G", "1", "Gift")

	res, err := f.engine.Run(context.Background(), sess, f.request(t, "c10", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Graduated)

	g := testutil.MustGet(t, f.store, paths.AlumniStudent("G"))
	assert.Equal(t, school.GraduateClassID, g.Data["classId"])
	assert.Equal(t, "c10", g.Data["previousClassId"])
	assert.NotNil(t, g.Data["graduatedAt"])
	assert.False(t, testutil.Exists(t, f.store, paths.RosterStudent("c10", "G")))
	assert.False(t, testutil.Exists(t, f.store, paths.MasterStudent("G")))
}

func TestEngine_Run_demotes(t *testing.T) {
	f := newEngineFixture(t)
	sess := testutil.Session
	paths := sess.Paths()
	testutil.CreateStudent(t, f.store, sess, "prep", "D", "1", "Daudi")
	testutil.CreateStudent(t, f.store, sess, "nursery", "N", "1", "Neema")

	res, err := f.engine.Run(context.Background(), sess, f.request(t, "prep", map[string]school.Decision{"D": school.DecisionDemote}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Demoted)
	d := testutil.MustGet(t, f.store, paths.RosterStudent("nursery", "D"))
	assert.Equal(t, "nursery", d.Data["classId"])
	assert.NotNil(t, d.Data["demotedAt"])

	// nursery has no previous class: the student is skipped and left as is
	res, err = f.engine.Run(context.Background(), sess, f.request(t, "nursery", map[string]school.Decision{
		"N": school.DecisionDemote,
		"D": school.DecisionRetain,
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Skipped)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "N", res.Skipped[0].ID)
	n := testutil.MustGet(t, f.store, paths.RosterStudent("nursery", "N"))
	assert.Equal(t, float64(82), n.Data["homework"], "skipped record untouched")
}

func TestEngine_Run_chunked(t *testing.T) {
	f := newEngineFixture(t)
	sess := testutil.Session
	ids := testutil.CreateStudents(t, f.store, sess, "c3", "s", 450)
	testutil.CreateAttendanceHistory(t, f.store, sess, 450)
	before := f.store.Commits()

	decisions := make(map[string]school.Decision, len(ids))
	for _, id := range ids {
		decisions[id] = school.DecisionRetain
	}
	res, err := f.engine.Run(context.Background(), sess, f.request(t, "c3", decisions))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Purge.Committed)
	assert.Equal(t, 2, res.Moves.Committed, "450 single-op retains take 2 chunks of 400")
	assert.Equal(t, 4, f.store.Commits()-before)
	assert.Equal(t, 450, res.Counts.Retained)
}

func TestEngine_Run_chunkFailure(t *testing.T) {
	f := newEngineFixture(t)
	sess := testutil.Session
	paths := sess.Paths()
	ids := testutil.CreateStudents(t, f.store, sess, "c3", "s", 300) // 900 promote ops: 3 chunks
	testutil.CreateAttendanceHistory(t, f.store, sess, 5)

	before := f.store.Commits()
	f.store.SetCommitHook(func(n int, _ []core.WriteOp) error {
		if n == before+3 { // purge, move chunk 1, then move chunk 2 fails
			return errBoom
		}
		return nil
	})

	res, err := f.engine.Run(context.Background(), sess, f.request(t, "c3", nil))
	require.Error(t, err)

	var chunkErr *transition.ChunkCommitError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, transition.StageMove, chunkErr.Stage)
	assert.Equal(t, 1, chunkErr.Index)

	assert.Equal(t, transition.StateFailed, res.State)
	assert.Equal(t, transition.StateFailed, f.obs.states[len(f.obs.states)-1])
	assert.NotEmpty(t, res.Error)
	assert.True(t, res.Purge.OK())
	assert.Equal(t, 1, res.Moves.Committed)
	assert.Equal(t, 1, res.Moves.Failed)
	assert.Equal(t, 1, res.Moves.Pending)

	// the first chunk stays applied: 400 ops = the first 133 students and one op of the 134th
	assert.True(t, testutil.Exists(t, f.store, paths.RosterStudent("c4", ids[0])))
	assert.True(t, testutil.Exists(t, f.store, paths.RosterStudent("c3", ids[len(ids)-1])))
	assert.False(t, testutil.Exists(t, f.store, paths.RosterStudent("c4", ids[len(ids)-1])))

	require.Len(t, f.mail.msgs, 1, "the failure is reported too")
}

func TestEngine_Run_inProgress(t *testing.T) {
	f := newEngineFixture(t)
	sess := testutil.Session
	testutil.CreateStudent(t, f.store, sess, "c5", "A", "1", "Amani")
	req := f.request(t, "c5", nil)

	started := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	f.store.SetCommitHook(func(int, []core.WriteOp) error {
		once.Do(func() {
			close(started)
			<-unblock
		})
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Run(context.Background(), sess, req)
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never committed")
	}

	_, err := f.engine.Run(context.Background(), sess, req)
	assert.Equal(t, transition.ErrTransitionInProgress, errors.Cause(err))

	close(unblock)
	require.NoError(t, <-done)

	// the class is free again once the first run is over
	_, err = f.engine.Run(context.Background(), sess, f.request(t, "c6", nil))
	assert.NoError(t, err)
}

func TestEngine_Run_invalid(t *testing.T) {
	f := newEngineFixture(t)
	tests := []struct {
		name string
		sess school.Session
		req  transition.Request
	}{
		{name: "no school", sess: school.Session{}, req: transition.Request{Class: school.Class{ID: "c5"}}},
		{name: "no class", sess: testutil.Session, req: transition.Request{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.engine.Run(context.Background(), tt.sess, tt.req)
			assert.True(t, core.IsValidationError(err))
			assert.Equal(t, transition.StateIdle, res.State)
		})
	}
	assert.Empty(t, f.mail.msgs)
}
