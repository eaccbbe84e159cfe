package testutil

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/services/logger"
)

// Session is the school the fixtures are written for.
var Session = school.Session{SchoolID: "sch-1", AdminName: "Principal", AdminEmail: "principal@test.cd"}

func NewLogger() core.Logger {
	return logsvc.NewDiscardLogger()
}

func commit(t *testing.T, store core.DocStore, ops ...core.WriteOp) {
	t.Helper()
	if err := store.Commit(context.Background(), ops); err != nil {
		t.Fatalf("store.Commit() failed: %v", err)
	}
}

func CreateClass(t *testing.T, store core.DocStore, sess school.Session, id, name string) school.Class {
	t.Helper()
	commit(t, store, core.WriteOp{
		Kind: core.OpSet,
		Path: sess.Paths().Class(id),
		Data: core.Fields{"name": name},
	})
	return school.Class{ID: id, Name: name}
}

// CreateStandardClasses creates Nursery, Prep and Class 1 to Class 10, in a shuffled insertion order.
// Ids are "nursery", "prep" and "c1".."c10".
func CreateStandardClasses(t *testing.T, store core.DocStore, sess school.Session) map[string]school.Class {
	t.Helper()
	classes := make(map[string]school.Class, 12)
	for _, n := range []int{7, 2, 10, 1, 5, 9, 3, 6, 4, 8} {
		id := "c" + strconv.Itoa(n)
		classes[id] = CreateClass(t, store, sess, id, fmt.Sprintf("Class %d", n))
	}
	classes["prep"] = CreateClass(t, store, sess, "prep", "Prep")
	classes["nursery"] = CreateClass(t, store, sess, "nursery", "Nursery")
	return classes
}

// CreateStudent files a student with a year's worth of data in the roster of classID and in the master registry.
func CreateStudent(t *testing.T, store core.DocStore, sess school.Session, classID, id, rollNo, name string) school.Student {
	t.Helper()
	status := "present"
	behavior := "good"
	st := school.Student{
		ID:             id,
		RollNo:         rollNo,
		Name:           name,
		ClassID:        classID,
		Status:         &status,
		AcademicScores: []school.Score{{Subject: "math", Marks: 71}, {Subject: "english", Marks: 64}},
		Homework:       82,
		Attendance:     school.Attendance{Percentage: 93.5},
		Wellness:       school.Wellness{Behavior: &behavior},
		Extra:          core.Fields{"parentPhone": "+243000000"},
	}
	data, err := st.Fields()
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	paths := sess.Paths()
	commit(t, store,
		core.WriteOp{Kind: core.OpSet, Path: paths.RosterStudent(classID, id), Data: data},
		core.WriteOp{Kind: core.OpSet, Path: paths.MasterStudent(id), Data: core.Fields{"name": name, "rollNo": rollNo, "classId": classID}},
	)
	return st
}

// CreateStudents files n students named "<prefix>-<i>" in classID, committing in store-sized batches.
func CreateStudents(t *testing.T, store core.DocStore, sess school.Session, classID, prefix string, n int) []string {
	t.Helper()
	paths := sess.Paths()
	ids := make([]string, 0, n)
	ops := make([]core.WriteOp, 0, store.MaxBatchOps())
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-%04d", prefix, i)
		ids = append(ids, id)
		ops = append(ops,
			core.WriteOp{Kind: core.OpSet, Path: paths.RosterStudent(classID, id), Data: core.Fields{"name": id, "rollNo": strconv.Itoa(i), "classId": classID}},
			core.WriteOp{Kind: core.OpSet, Path: paths.MasterStudent(id), Data: core.Fields{"name": id, "classId": classID}},
		)
		if len(ops)+2 > store.MaxBatchOps() {
			commit(t, store, ops...)
			ops = ops[:0]
		}
	}
	if len(ops) > 0 {
		commit(t, store, ops...)
	}
	return ids
}

// CreateAttendanceHistory files n attendance history records for the school.
func CreateAttendanceHistory(t *testing.T, store core.DocStore, sess school.Session, n int) {
	t.Helper()
	ops := make([]core.WriteOp, 0, store.MaxBatchOps())
	for i := 0; i < n; i++ {
		ops = append(ops, core.WriteOp{
			Kind: core.OpSet,
			Path: core.JoinPath(sess.Paths().AttendanceHistory(), uuid.New().String()),
			Data: core.Fields{"date": fmt.Sprintf("2025-%02d-%02d", i%12+1, i%28+1), "present": i%3 != 0},
		})
		if len(ops) == store.MaxBatchOps() {
			commit(t, store, ops...)
			ops = ops[:0]
		}
	}
	if len(ops) > 0 {
		commit(t, store, ops...)
	}
}

func MustGet(t *testing.T, store core.DocStore, path string) core.Document {
	t.Helper()
	doc, err := store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("store.Get(%q) failed: %v", path, err)
	}
	return doc
}

func Exists(t *testing.T, store core.DocStore, path string) bool {
	t.Helper()
	_, err := store.Get(context.Background(), path)
	return err == nil
}

func Count(t *testing.T, store core.DocStore, collection string) int {
	t.Helper()
	n, err := store.Count(context.Background(), collection)
	if err != nil {
		t.Fatalf("store.Count(%q) failed: %v", collection, err)
	}
	return n
}
