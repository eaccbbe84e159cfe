package school

import "github.com/trezcool/kupanda/core"

// Paths builds the document store locations of a school.
type Paths struct {
	SchoolID string
}

func (p Paths) root() string { return core.JoinPath("schools", p.SchoolID) }

func (p Paths) Classes() string { return core.JoinPath(p.root(), "classes") }

func (p Paths) Class(classID string) string { return core.JoinPath(p.Classes(), classID) }

// Roster is the per-class copy of the students filed under classID.
func (p Paths) Roster(classID string) string { return core.JoinPath(p.Class(classID), "students") }

func (p Paths) RosterStudent(classID, studentID string) string {
	return core.JoinPath(p.Roster(classID), studentID)
}

// Master is the school-wide registry of active students.
func (p Paths) Master() string { return core.JoinPath(p.root(), "students") }

func (p Paths) MasterStudent(studentID string) string { return core.JoinPath(p.Master(), studentID) }

func (p Paths) Alumni() string { return core.JoinPath(p.root(), "alumni") }

func (p Paths) AlumniStudent(studentID string) string { return core.JoinPath(p.Alumni(), studentID) }

func (p Paths) AttendanceHistory() string { return core.JoinPath(p.root(), "attendanceHistory") }
