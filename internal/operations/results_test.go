package operations

import (
	"testing"

	"github.com/google/uuid"

	"semaphore/credentials/internal/model"
)

var allStatuses = []model.ResultStatus{
	model.ResultDraft,
	model.ResultReviewed,
	model.ResultApproved,
	model.ResultIssued,
	model.ResultWithheld,
}

func TestCreateSemesterResultComputesTotals(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	r := f.result(t, s.ID, 1, map[string]CourseEntry{
		"CS101": grade("A"),
		"MA101": marks(35, 60),
	})
	if r.Status != model.ResultDraft {
		t.Fatalf("expected DRAFT, got %s", r.Status)
	}
	if r.SGPA != 9.33 || r.TotalCredits != 6 || r.EarnedCredits != 6 {
		t.Fatalf("unexpected totals sgpa=%v total=%d earned=%d", r.SGPA, r.TotalCredits, r.EarnedCredits)
	}
	stored, err := f.svc.GetSemesterResult(f.ctx, r.ID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if len(stored.Courses) != 2 {
		t.Fatalf("expected 2 course results, got %d", len(stored.Courses))
	}
	for _, c := range stored.Courses {
		if c.CourseCode == "MA101" && (c.Grade != "A+" || c.GradePoints != 10) {
			t.Fatalf("expected 95 marks to grade A+, got %s/%v", c.Grade, c.GradePoints)
		}
	}
}

func TestCreateSemesterResultRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")

	in := SemesterResultInput{StudentID: s.ID, Semester: 1, AcademicYear: "2024-2025", Courses: []CourseEntry{marks(70, 50)}}
	in.Courses[0].CourseCode = "CS101"
	_, err := f.svc.CreateSemesterResult(f.ctx, faculty, in)
	expectCode(t, err, KindBadRequest, ErrInvalidMarks)

	in.Courses = []CourseEntry{{CourseCode: "XX999", Grade: "A"}}
	_, err = f.svc.CreateSemesterResult(f.ctx, faculty, in)
	expectCode(t, err, KindBadRequest, ErrUnknownCourse)

	in.Courses = []CourseEntry{{CourseCode: "CS101", Grade: "Z"}}
	_, err = f.svc.CreateSemesterResult(f.ctx, faculty, in)
	expectCode(t, err, KindBadRequest, ErrInvalidGrade)

	f.result(t, s.ID, 1, map[string]CourseEntry{"CS101": grade("B")})
	in.Courses = []CourseEntry{{CourseCode: "CS101", Grade: "A"}}
	_, err = f.svc.CreateSemesterResult(f.ctx, faculty, in)
	expectCode(t, err, KindConflict, ErrSemesterResultExists)

	_, err = f.svc.CreateSemesterResult(f.ctx, student, in)
	expectCode(t, err, KindForbidden, ErrRoleNotAllowed)
}

func TestInvalidTransitionsLeaveStatusUnchanged(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	for i, from := range allStatuses {
		r := f.result(t, s.ID, i+1, map[string]CourseEntry{"CS101": grade("A")})
		if from != model.ResultDraft {
			f.advance(t, r.ID, from)
		}
		for _, to := range allStatuses {
			if CanTransition(from, to) {
				continue
			}
			_, err := f.svc.TransitionResult(f.ctx, admin, r.ID, to, "")
			expectCode(t, err, KindBadRequest, ErrInvalidTransition)
			after, err := f.svc.GetSemesterResult(f.ctx, r.ID)
			if err != nil {
				t.Fatalf("get result: %v", err)
			}
			if after.Status != from {
				t.Fatalf("%s -> %s changed status to %s", from, to, after.Status)
			}
		}
	}
}

func TestReviewedCannotSkipToIssued(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	r := f.result(t, s.ID, 1, map[string]CourseEntry{"CS101": grade("A")})
	f.advance(t, r.ID, model.ResultReviewed)

	_, err := f.svc.TransitionResult(f.ctx, faculty, r.ID, model.ResultIssued, "")
	expectCode(t, err, KindBadRequest, ErrInvalidTransition)
	after, _ := f.svc.GetSemesterResult(f.ctx, r.ID)
	if after.Status != model.ResultReviewed {
		t.Fatalf("expected REVIEWED, got %s", after.Status)
	}
}

func TestTransitionRoles(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	r := f.result(t, s.ID, 1, map[string]CourseEntry{"CS101": grade("A")})

	_, err := f.svc.TransitionResult(f.ctx, student, r.ID, model.ResultReviewed, "")
	expectCode(t, err, KindForbidden, ErrRoleNotAllowed)

	reviewed, err := f.svc.TransitionResult(f.ctx, faculty, r.ID, model.ResultReviewed, "")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != faculty.ID || reviewed.ReviewedAt == nil {
		t.Fatalf("expected reviewer stamp, got %+v", reviewed)
	}

	_, err = f.svc.TransitionResult(f.ctx, faculty, r.ID, model.ResultApproved, "")
	expectCode(t, err, KindForbidden, ErrRoleNotAllowed)

	back, err := f.svc.TransitionResult(f.ctx, faculty, r.ID, model.ResultDraft, "")
	if err != nil || back.Status != model.ResultDraft {
		t.Fatalf("expected faculty to send result back to draft: %v", err)
	}
}

func TestApprovalSchedulesMint(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	r := f.result(t, s.ID, 1, map[string]CourseEntry{"CS101": grade("A")})
	f.advance(t, r.ID, model.ResultReviewed)
	before := f.notifier.count

	approved, err := f.svc.TransitionResult(f.ctx, academic, r.ID, model.ResultApproved, "  looks good ")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != academic.ID || approved.ApprovedAt == nil {
		t.Fatalf("expected approver stamp, got %+v", approved)
	}
	if approved.ApprovalNote == nil || *approved.ApprovalNote != "looks good" {
		t.Fatalf("expected trimmed note, got %v", approved.ApprovalNote)
	}
	if f.notifier.count != before+1 {
		t.Fatalf("expected relay to be notified once, got %d", f.notifier.count-before)
	}
	events := f.pendingOutbox(t)
	if countKind(events, model.JobSyncSemesterResult) != 1 {
		t.Fatalf("expected one semester sync job, got %+v", events)
	}
	for _, e := range events {
		if e.Kind == model.JobSyncSemesterResult && (e.Payload.SemesterResultID == nil || *e.Payload.SemesterResultID != r.ID) {
			t.Fatalf("unexpected payload %+v", e.Payload)
		}
	}
}

func TestUpdateCourseResultRecomputesWhileDraft(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	r := f.result(t, s.ID, 1, map[string]CourseEntry{
		"CS101": grade("A"),
		"MA101": grade("A+"),
	})
	var id uuid.UUID
	for _, c := range r.Courses {
		if c.CourseCode == "CS101" {
			id = c.ID
		}
	}
	if id == uuid.Nil {
		t.Fatalf("missing CS101 course result")
	}

	updated, err := f.svc.UpdateCourseResult(f.ctx, faculty, id, grade("F"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// (4*0 + 2*10) / 6
	if updated.SGPA != 3.33 || updated.TotalCredits != 6 || updated.EarnedCredits != 2 {
		t.Fatalf("unexpected totals sgpa=%v total=%d earned=%d", updated.SGPA, updated.TotalCredits, updated.EarnedCredits)
	}

	f.advance(t, r.ID, model.ResultReviewed)
	_, err = f.svc.UpdateCourseResult(f.ctx, faculty, id, grade("A"))
	expectCode(t, err, KindForbidden, ErrResultLocked)
	after, _ := f.svc.GetSemesterResult(f.ctx, r.ID)
	if after.SGPA != 3.33 {
		t.Fatalf("expected locked result to keep its sgpa, got %v", after.SGPA)
	}
}

func TestBulkImportResultsCollectsRowErrors(t *testing.T) {
	f := newFixture(t)
	f.register(t, "EN001")
	f.register(t, "EN002")

	report, err := f.svc.BulkImportResults(f.ctx, faculty, []ResultRow{
		{EnrollmentNumber: "EN001", Semester: 1, AcademicYear: "2024-2025", Courses: []CourseEntry{{CourseCode: "CS101", Grade: "A"}}},
		{EnrollmentNumber: "EN404", Semester: 1, AcademicYear: "2024-2025", Courses: []CourseEntry{{CourseCode: "CS101", Grade: "A"}}},
		{EnrollmentNumber: "EN002", Semester: 1, AcademicYear: "2024-2025", Courses: []CourseEntry{{CourseCode: "XX999", Grade: "A"}}},
	})
	if err != nil {
		t.Fatalf("bulk import: %v", err)
	}
	if len(report.Succeeded) != 1 || len(report.Failed) != 2 {
		t.Fatalf("expected 1 success and 2 failures, got %+v", report)
	}
	if report.Failed[0].Row != 2 || report.Failed[0].EnrollmentNumber != "EN404" || report.Failed[0].Message != ErrStudentNotFound {
		t.Fatalf("unexpected first failure %+v", report.Failed[0])
	}
	if report.Failed[1].EnrollmentNumber != "EN002" || report.Failed[1].Message != ErrUnknownCourse {
		t.Fatalf("unexpected second failure %+v", report.Failed[1])
	}
}
