package operations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db"
	"semaphore/credentials/internal/grading"
	"semaphore/credentials/internal/model"
)

// Eligibility is the verdict stored on a degree proposal.
type Eligibility struct {
	TotalCredits           int      `json:"totalCredits"`
	RequiredCredits        int      `json:"requiredCredits"`
	CompletedSemesters     int      `json:"completedSemesters"`
	RequiredSemesters      int      `json:"requiredSemesters"`
	CGPA                   float64  `json:"cgpa"`
	HasBacklogs            bool     `json:"hasBacklogs"`
	Passed                 bool     `json:"passed"`
	Errors                 []string `json:"errors"`
	ExpectedGraduationYear int      `json:"expectedGraduationYear"`
}

// Evaluate computes eligibility from the student's issued semester results and
// their course results. Results in any other status are ignored.
func Evaluate(program model.Program, student model.Student, results []model.SemesterResult, courses map[uuid.UUID][]model.CourseResult) Eligibility {
	e := Eligibility{
		RequiredCredits:        program.RequiredCredits,
		RequiredSemesters:      program.RequiredSemesters,
		Errors:                 []string{},
		ExpectedGraduationYear: student.AdmissionYear + (program.RequiredSemesters+1)/2,
	}
	var all []model.CourseResult
	for _, r := range results {
		if r.Status != model.ResultIssued {
			continue
		}
		e.CompletedSemesters++
		e.TotalCredits += r.EarnedCredits
		for _, c := range courses[r.ID] {
			if grading.IsFailing(c.Grade) || c.GradePoints == 0 {
				e.HasBacklogs = true
			}
			all = append(all, c)
		}
	}
	e.CGPA = grading.SGPA(grading.Entries(all))
	if e.TotalCredits < e.RequiredCredits {
		e.Errors = append(e.Errors, fmt.Sprintf("Insufficient credits: %d/%d", e.TotalCredits, e.RequiredCredits))
	}
	if e.CompletedSemesters < e.RequiredSemesters {
		e.Errors = append(e.Errors, fmt.Sprintf("Insufficient semesters: %d/%d", e.CompletedSemesters, e.RequiredSemesters))
	}
	if e.HasBacklogs {
		e.Errors = append(e.Errors, "Student has backlogs (failed courses)")
	}
	e.Passed = len(e.Errors) == 0
	return e
}

func (s *Service) eligibility(ctx context.Context, q db.Queries, student model.Student) (Eligibility, error) {
	program, err := q.GetProgram(ctx, student.ProgramID)
	if err != nil {
		return Eligibility{}, lookup(err, ErrProgramNotFound)
	}
	issued := model.ResultIssued
	results, err := q.ListSemesterResults(ctx, student.ID, &issued)
	if err != nil {
		return Eligibility{}, err
	}
	courses := make(map[uuid.UUID][]model.CourseResult, len(results))
	for _, r := range results {
		if courses[r.ID], err = q.ListCourseResults(ctx, r.ID); err != nil {
			return Eligibility{}, err
		}
	}
	return Evaluate(program, student, results, courses), nil
}

// CheckEligibility evaluates a student without recording anything.
func (s *Service) CheckEligibility(ctx context.Context, studentID uuid.UUID) (Eligibility, error) {
	q := s.store.Queries()
	student, err := q.GetStudent(ctx, studentID)
	if err != nil {
		return Eligibility{}, lookup(err, ErrStudentNotFound)
	}
	return s.eligibility(ctx, q, student)
}

// CreateDegreeProposal records a degree candidacy with its eligibility
// verdict. The proposal is stored even when the verdict fails.
func (s *Service) CreateDegreeProposal(ctx context.Context, actor model.Actor, studentID uuid.UUID) (model.DegreeProposal, error) {
	if err := requireRole(actor, model.RoleAcademic, model.RoleAdmin); err != nil {
		return model.DegreeProposal{}, err
	}
	var out model.DegreeProposal
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		student, err := q.LockStudent(ctx, studentID)
		if err != nil {
			return lookup(err, ErrStudentNotFound)
		}
		if student.Status != model.StudentActive {
			return badRequest(ErrStudentNotActive)
		}
		if _, err := q.GetActiveDegreeProposal(ctx, studentID); err == nil {
			return conflict(ErrActiveProposalExists)
		} else if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		e, err := s.eligibility(ctx, q, student)
		if err != nil {
			return err
		}
		now := s.now()
		proposal := model.DegreeProposal{
			ID:                     uuid.New(),
			StudentID:              studentID,
			TotalCredits:           e.TotalCredits,
			RequiredCredits:        e.RequiredCredits,
			CompletedSemesters:     e.CompletedSemesters,
			CGPA:                   e.CGPA,
			HasBacklogs:            e.HasBacklogs,
			ValidationPassed:       e.Passed,
			ValidationErrors:       e.Errors,
			ExpectedGraduationYear: e.ExpectedGraduationYear,
			Status:                 model.ProposalPendingAcademic,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := q.CreateDegreeProposal(ctx, proposal); err != nil {
			if db.IsUniqueViolation(err, db.ConstraintActiveProposal) {
				return conflict(ErrActiveProposalExists)
			}
			return err
		}
		out = proposal
		return nil
	})
	return out, err
}

// Decision is a reviewer's verdict on one approval stage. Note is the reason
// when rejecting and is required then.
type Decision struct {
	Approve bool
	Note    string
}

func (s *Service) decide(proposal *model.DegreeProposal, actor model.Actor, d Decision) error {
	now := s.now()
	note := strings.TrimSpace(d.Note)
	proposal.UpdatedAt = now
	if !d.Approve {
		if note == "" {
			return badRequest(ErrMissingReason)
		}
		proposal.Status = model.ProposalRejected
		proposal.RejectedBy = ptr(actor.ID)
		proposal.RejectedAt = ptr(now)
		proposal.RejectionReason = &note
		return nil
	}
	var notePtr *string
	if note != "" {
		notePtr = &note
	}
	switch proposal.Status {
	case model.ProposalPendingAcademic:
		proposal.Status = model.ProposalPendingAdmin
		proposal.AcademicReviewedBy = ptr(actor.ID)
		proposal.AcademicReviewedAt = ptr(now)
		proposal.AcademicNote = notePtr
	case model.ProposalPendingAdmin:
		proposal.Status = model.ProposalApproved
		proposal.AdminApprovedBy = ptr(actor.ID)
		proposal.AdminApprovedAt = ptr(now)
		proposal.AdminNote = notePtr
	}
	return nil
}

// ReviewDegreeProposal is the academic stage: PENDING_ACADEMIC moves to
// PENDING_ADMIN or REJECTED.
func (s *Service) ReviewDegreeProposal(ctx context.Context, actor model.Actor, id uuid.UUID, d Decision) (model.DegreeProposal, error) {
	if err := requireRole(actor, model.RoleAcademic, model.RoleAdmin); err != nil {
		return model.DegreeProposal{}, err
	}
	var out model.DegreeProposal
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		proposal, err := q.LockDegreeProposal(ctx, id)
		if err != nil {
			return lookup(err, ErrProposalNotFound)
		}
		if proposal.Status != model.ProposalPendingAcademic {
			return badRequest(ErrInvalidProposalStage)
		}
		if err := s.decide(&proposal, actor, d); err != nil {
			return err
		}
		if err := q.UpdateDegreeProposal(ctx, proposal); err != nil {
			return fmt.Errorf("update degree proposal: %w", err)
		}
		out = proposal
		return nil
	})
	return out, err
}

// ApproveDegreeProposal is the administrative stage. Approval graduates the
// student and schedules the degree credential in the same transaction.
func (s *Service) ApproveDegreeProposal(ctx context.Context, actor model.Actor, id uuid.UUID, d Decision) (model.DegreeProposal, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return model.DegreeProposal{}, err
	}
	var out model.DegreeProposal
	err := s.withTx(ctx, func(q db.Queries, events *txEvents) error {
		proposal, err := q.LockDegreeProposal(ctx, id)
		if err != nil {
			return lookup(err, ErrProposalNotFound)
		}
		if proposal.Status != model.ProposalPendingAdmin {
			return badRequest(ErrInvalidProposalStage)
		}
		if err := s.decide(&proposal, actor, d); err != nil {
			return err
		}
		if err := q.UpdateDegreeProposal(ctx, proposal); err != nil {
			return fmt.Errorf("update degree proposal: %w", err)
		}
		out = proposal
		if proposal.Status != model.ProposalApproved {
			return nil
		}
		student, err := q.LockStudent(ctx, proposal.StudentID)
		if err != nil {
			return lookup(err, ErrStudentNotFound)
		}
		if err := q.UpdateStudentStatus(ctx, student.ID, model.StudentGraduated, student.ExitReason, proposal.UpdatedAt); err != nil {
			return fmt.Errorf("graduate student: %w", err)
		}
		return s.emit(ctx, q, events, model.JobFinalizeDegree, model.JobPayload{
			StudentID:        ptr(proposal.StudentID),
			DegreeProposalID: ptr(proposal.ID),
		})
	})
	return out, err
}

func (s *Service) GetDegreeProposal(ctx context.Context, id uuid.UUID) (model.DegreeProposal, error) {
	proposal, err := s.store.Queries().GetDegreeProposal(ctx, id)
	return proposal, lookup(err, ErrProposalNotFound)
}
