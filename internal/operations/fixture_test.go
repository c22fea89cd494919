package operations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db/memdb"
	"semaphore/credentials/internal/model"
)

var (
	admin    = model.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222221"), Role: model.RoleAdmin}
	academic = model.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), Role: model.RoleAcademic}
	faculty  = model.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222224"), Role: model.RoleFaculty}
	student  = model.Actor{ID: uuid.MustParse("22222222-2222-2222-2222-222222222223"), Role: model.RoleStudent}
)

type countingNotifier struct {
	count int
}

func (n *countingNotifier) Notify() { n.count++ }

type fixture struct {
	ctx      context.Context
	store    *memdb.Store
	svc      *Service
	notifier *countingNotifier
	now      time.Time
	program  model.Program
	courses  map[string]model.Course
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		store:    memdb.New(),
		notifier: &countingNotifier{},
		now:      time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC),
		courses:  map[string]model.Course{},
	}
	f.svc = NewService(f.store, Options{
		Institution: "EFREI",
		Notifier:    f.notifier,
		Now:         func() time.Time { return f.now },
	})
	program, err := f.svc.CreateProgram(f.ctx, admin, ProgramInput{
		Code:              "CSE",
		Name:              "Computer Science",
		DegreeName:        "Bachelor of Computer Science",
		RequiredCredits:   6,
		RequiredSemesters: 1,
	})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	f.program = program
	for _, c := range []CourseInput{
		{ProgramID: program.ID, Code: "CS101", Name: "Programming", Credits: 4},
		{ProgramID: program.ID, Code: "MA101", Name: "Calculus", Credits: 2},
		{ProgramID: program.ID, Code: "PH101", Name: "Physics", Credits: 3},
	} {
		course, err := f.svc.CreateCourse(f.ctx, admin, c)
		if err != nil {
			t.Fatalf("create course %s: %v", c.Code, err)
		}
		f.courses[course.Code] = course
	}
	return f
}

func (f *fixture) register(t *testing.T, enrollment string) model.Student {
	t.Helper()
	s, err := f.svc.RegisterStudent(f.ctx, admin, StudentInput{
		ProgramID:        f.program.ID,
		EnrollmentNumber: enrollment,
		FirstName:        "Ada",
		LastName:         "Lovelace",
		WalletAddress:    "0x00000000000000000000000000000000000000a1",
		AdmissionYear:    2024,
		CurrentSemester:  1,
	})
	if err != nil {
		t.Fatalf("register student: %v", err)
	}
	return s
}

func grade(g string) CourseEntry {
	return CourseEntry{Grade: g}
}

func marks(internal, external float64) CourseEntry {
	return CourseEntry{InternalMarks: &internal, ExternalMarks: &external}
}

func (f *fixture) result(t *testing.T, studentID uuid.UUID, semester int, entries map[string]CourseEntry) model.SemesterResult {
	t.Helper()
	in := SemesterResultInput{StudentID: studentID, Semester: semester, AcademicYear: "2024-2025"}
	for code, e := range entries {
		e.CourseCode = code
		in.Courses = append(in.Courses, e)
	}
	r, err := f.svc.CreateSemesterResult(f.ctx, faculty, in)
	if err != nil {
		t.Fatalf("create semester result: %v", err)
	}
	return r
}

// advance walks a result along the happy path up to target.
func (f *fixture) advance(t *testing.T, id uuid.UUID, target model.ResultStatus) model.SemesterResult {
	t.Helper()
	path := []struct {
		status model.ResultStatus
		actor  model.Actor
	}{
		{model.ResultReviewed, faculty},
		{model.ResultApproved, academic},
		{model.ResultIssued, admin},
		{model.ResultWithheld, admin},
	}
	var r model.SemesterResult
	for _, step := range path {
		var err error
		if r, err = f.svc.TransitionResult(f.ctx, step.actor, id, step.status, ""); err != nil {
			t.Fatalf("transition to %s: %v", step.status, err)
		}
		if step.status == target {
			return r
		}
	}
	t.Fatalf("unreachable target %s", target)
	return r
}

func (f *fixture) pendingOutbox(t *testing.T) []model.OutboxEvent {
	t.Helper()
	events, err := f.store.Queries().ListPendingOutbox(f.ctx, 0)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	return events
}

func countKind(events []model.OutboxEvent, kind model.JobKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func expectCode(t *testing.T, err error, kind Kind, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if KindOf(err) != kind || !IsCode(err, code) {
		t.Fatalf("expected %s/%s, got %v (%s)", kind, code, err, KindOf(err))
	}
}
