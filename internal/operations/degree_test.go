package operations

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"semaphore/credentials/internal/model"
)

func (f *fixture) issued(t *testing.T, studentID uuid.UUID, semester int, entries map[string]CourseEntry) model.SemesterResult {
	t.Helper()
	r := f.result(t, studentID, semester, entries)
	return f.advance(t, r.ID, model.ResultIssued)
}

func TestProposalRecordsFailedEligibility(t *testing.T) {
	f := newFixture(t)
	program, err := f.svc.CreateProgram(f.ctx, admin, ProgramInput{
		Code: "BIG", Name: "Big Program", DegreeName: "Bachelor", RequiredCredits: 160, RequiredSemesters: 1,
	})
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	for code, credits := range map[string]int{"CORE": 150, "LAB": 10} {
		if _, err := f.svc.CreateCourse(f.ctx, admin, CourseInput{ProgramID: program.ID, Code: code, Credits: credits}); err != nil {
			t.Fatalf("create course: %v", err)
		}
	}
	s, err := f.svc.RegisterStudent(f.ctx, admin, StudentInput{ProgramID: program.ID, EnrollmentNumber: "EN150", AdmissionYear: 2022})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.issued(t, s.ID, 1, map[string]CourseEntry{"CORE": grade("B"), "LAB": grade("F")})

	proposal, err := f.svc.CreateDegreeProposal(f.ctx, academic, s.ID)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if proposal.ValidationPassed {
		t.Fatalf("expected validation to fail")
	}
	want := []string{"Insufficient credits: 150/160", "Student has backlogs (failed courses)"}
	if !reflect.DeepEqual(proposal.ValidationErrors, want) {
		t.Fatalf("expected %v, got %v", want, proposal.ValidationErrors)
	}
	if proposal.TotalCredits != 150 || !proposal.HasBacklogs || proposal.Status != model.ProposalPendingAcademic {
		t.Fatalf("unexpected proposal %+v", proposal)
	}
	if proposal.ExpectedGraduationYear != 2023 {
		t.Fatalf("expected graduation year 2023, got %d", proposal.ExpectedGraduationYear)
	}
	stored, err := f.svc.GetDegreeProposal(f.ctx, proposal.ID)
	if err != nil || !reflect.DeepEqual(stored.ValidationErrors, want) {
		t.Fatalf("expected stored proposal to keep its verdict: %v %+v", err, stored)
	}
}

func TestEligibilityIgnoresResultsThatAreNotIssued(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	r := f.result(t, s.ID, 1, map[string]CourseEntry{"CS101": grade("A"), "MA101": grade("A")})
	f.advance(t, r.ID, model.ResultApproved)

	e, err := f.svc.CheckEligibility(f.ctx, s.ID)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	want := []string{"Insufficient credits: 0/6", "Insufficient semesters: 0/1"}
	if e.Passed || !reflect.DeepEqual(e.Errors, want) {
		t.Fatalf("expected %v, got %+v", want, e)
	}
}

func TestEvaluateIsMonotonic(t *testing.T) {
	program := model.Program{RequiredCredits: 20, RequiredSemesters: 4}
	results := []model.SemesterResult{}
	courses := map[uuid.UUID][]model.CourseResult{}
	prev := Evaluate(program, model.Student{}, results, courses)
	for i := 0; i < 6; i++ {
		r := model.SemesterResult{ID: uuid.New(), Status: model.ResultIssued, EarnedCredits: 3 + i}
		courses[r.ID] = []model.CourseResult{{Credits: 3 + i, EarnedCredits: 3 + i, Grade: "B", GradePoints: 7}}
		results = append(results, r)
		next := Evaluate(program, model.Student{}, results, courses)
		if next.TotalCredits < prev.TotalCredits {
			t.Fatalf("earned credits decreased from %d to %d", prev.TotalCredits, next.TotalCredits)
		}
		shortfall := func(e Eligibility) int {
			if e.TotalCredits >= e.RequiredCredits {
				return 0
			}
			return e.RequiredCredits - e.TotalCredits
		}
		if shortfall(next) > shortfall(prev) {
			t.Fatalf("shortfall increased from %d to %d", shortfall(prev), shortfall(next))
		}
		prev = next
	}
	if !prev.Passed || prev.CGPA != 7 {
		t.Fatalf("expected final verdict to pass with cgpa 7, got %+v", prev)
	}
}

func TestDegreeApprovalStages(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	f.issued(t, s.ID, 1, map[string]CourseEntry{"CS101": grade("A"), "MA101": grade("A+")})

	proposal, err := f.svc.CreateDegreeProposal(f.ctx, academic, s.ID)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if !proposal.ValidationPassed || proposal.CGPA != 9.33 || len(proposal.ValidationErrors) != 0 {
		t.Fatalf("expected passing proposal, got %+v", proposal)
	}
	_, err = f.svc.CreateDegreeProposal(f.ctx, academic, s.ID)
	expectCode(t, err, KindConflict, ErrActiveProposalExists)

	_, err = f.svc.ApproveDegreeProposal(f.ctx, admin, proposal.ID, Decision{Approve: true})
	expectCode(t, err, KindBadRequest, ErrInvalidProposalStage)
	_, err = f.svc.ReviewDegreeProposal(f.ctx, faculty, proposal.ID, Decision{Approve: true})
	expectCode(t, err, KindForbidden, ErrRoleNotAllowed)

	reviewed, err := f.svc.ReviewDegreeProposal(f.ctx, academic, proposal.ID, Decision{Approve: true, Note: "ok"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Status != model.ProposalPendingAdmin || reviewed.AcademicReviewedBy == nil || *reviewed.AcademicReviewedBy != academic.ID {
		t.Fatalf("unexpected reviewed proposal %+v", reviewed)
	}
	_, err = f.svc.ReviewDegreeProposal(f.ctx, academic, proposal.ID, Decision{Approve: true})
	expectCode(t, err, KindBadRequest, ErrInvalidProposalStage)
	_, err = f.svc.ApproveDegreeProposal(f.ctx, academic, proposal.ID, Decision{Approve: true})
	expectCode(t, err, KindForbidden, ErrRoleNotAllowed)

	approved, err := f.svc.ApproveDegreeProposal(f.ctx, admin, proposal.ID, Decision{Approve: true})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != model.ProposalApproved || approved.AdminApprovedBy == nil {
		t.Fatalf("unexpected approved proposal %+v", approved)
	}
	graduated, err := f.svc.GetStudent(f.ctx, s.ID)
	if err != nil || graduated.Status != model.StudentGraduated {
		t.Fatalf("expected student to graduate with the approval: %v %s", err, graduated.Status)
	}
	if countKind(f.pendingOutbox(t), model.JobFinalizeDegree) != 1 {
		t.Fatalf("expected one finalize degree job")
	}
	_, err = f.svc.CreateDegreeProposal(f.ctx, academic, s.ID)
	expectCode(t, err, KindBadRequest, ErrStudentNotActive)
}

func TestRejectedProposalAllowsANewOne(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "EN001")
	proposal, err := f.svc.CreateDegreeProposal(f.ctx, admin, s.ID)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	_, err = f.svc.ReviewDegreeProposal(f.ctx, academic, proposal.ID, Decision{Approve: false})
	expectCode(t, err, KindBadRequest, ErrMissingReason)

	rejected, err := f.svc.ReviewDegreeProposal(f.ctx, academic, proposal.ID, Decision{Approve: false, Note: "credits missing"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.ProposalRejected || rejected.RejectionReason == nil || *rejected.RejectionReason != "credits missing" {
		t.Fatalf("unexpected rejected proposal %+v", rejected)
	}
	_, err = f.svc.ApproveDegreeProposal(f.ctx, admin, proposal.ID, Decision{Approve: true})
	expectCode(t, err, KindBadRequest, ErrInvalidProposalStage)

	if _, err := f.svc.CreateDegreeProposal(f.ctx, academic, s.ID); err != nil {
		t.Fatalf("expected a new proposal after rejection: %v", err)
	}
}
