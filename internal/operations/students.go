package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db"
	"semaphore/credentials/internal/model"
)

type ProgramInput struct {
	Code              string
	Name              string
	DegreeName        string
	RequiredCredits   int
	RequiredSemesters int
}

func (s *Service) CreateProgram(ctx context.Context, actor model.Actor, in ProgramInput) (model.Program, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return model.Program{}, err
	}
	if strings.TrimSpace(in.Code) == "" || in.RequiredCredits < 0 || in.RequiredSemesters < 0 {
		return model.Program{}, badRequest(ErrInvalidInput)
	}
	program := model.Program{
		ID:                uuid.New(),
		Code:              strings.TrimSpace(in.Code),
		Name:              in.Name,
		DegreeName:        in.DegreeName,
		RequiredCredits:   in.RequiredCredits,
		RequiredSemesters: in.RequiredSemesters,
		CreatedAt:         s.now(),
	}
	if err := s.store.Queries().CreateProgram(ctx, program); err != nil {
		if db.IsUniqueViolation(err, db.ConstraintProgramCode) {
			return model.Program{}, conflict(ErrProgramExists)
		}
		return model.Program{}, err
	}
	return program, nil
}

type CourseInput struct {
	ProgramID uuid.UUID
	Code      string
	Name      string
	Credits   int
}

func (s *Service) CreateCourse(ctx context.Context, actor model.Actor, in CourseInput) (model.Course, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return model.Course{}, err
	}
	if strings.TrimSpace(in.Code) == "" || in.Credits < 0 {
		return model.Course{}, badRequest(ErrInvalidInput)
	}
	q := s.store.Queries()
	if _, err := q.GetProgram(ctx, in.ProgramID); err != nil {
		return model.Course{}, lookup(err, ErrProgramNotFound)
	}
	course := model.Course{
		ID:        uuid.New(),
		ProgramID: in.ProgramID,
		Code:      strings.TrimSpace(in.Code),
		Name:      in.Name,
		Credits:   in.Credits,
		CreatedAt: s.now(),
	}
	if err := q.CreateCourse(ctx, course); err != nil {
		if db.IsUniqueViolation(err, db.ConstraintCourseCode) {
			return model.Course{}, conflict(ErrCourseExists)
		}
		return model.Course{}, err
	}
	return course, nil
}

type StudentInput struct {
	ProgramID        uuid.UUID
	EnrollmentNumber string
	FirstName        string
	LastName         string
	Email            string
	WalletAddress    string
	AdmissionYear    int
	CurrentSemester  int
}

// RegisterStudent creates an active student and schedules the identity token
// mint.
func (s *Service) RegisterStudent(ctx context.Context, actor model.Actor, in StudentInput) (model.Student, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return model.Student{}, err
	}
	if strings.TrimSpace(in.EnrollmentNumber) == "" {
		return model.Student{}, badRequest(ErrInvalidInput)
	}
	if in.CurrentSemester <= 0 {
		in.CurrentSemester = 1
	}
	now := s.now()
	student := model.Student{
		ID:               uuid.New(),
		ProgramID:        in.ProgramID,
		EnrollmentNumber: strings.TrimSpace(in.EnrollmentNumber),
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		WalletAddress:    in.WalletAddress,
		AdmissionYear:    in.AdmissionYear,
		CurrentSemester:  in.CurrentSemester,
		Status:           model.StudentActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.withTx(ctx, func(q db.Queries, events *txEvents) error {
		if _, err := q.GetProgram(ctx, in.ProgramID); err != nil {
			return lookup(err, ErrProgramNotFound)
		}
		if err := q.CreateStudent(ctx, student); err != nil {
			if db.IsUniqueViolation(err, db.ConstraintEnrollmentNumber) {
				return conflict(ErrEnrollmentExists)
			}
			return err
		}
		return s.emit(ctx, q, events, model.JobSyncStudent, model.JobPayload{StudentID: ptr(student.ID)})
	})
	if err != nil {
		return model.Student{}, err
	}
	return student, nil
}

type RowError struct {
	Row              int    `json:"row"`
	EnrollmentNumber string `json:"enrollmentNumber"`
	Message          string `json:"message"`
}

// BulkReport is what a batch operation returns: every row either succeeded or
// produced a RowError, and one bad row never stops the batch.
type BulkReport[T any] struct {
	Succeeded []T        `json:"succeeded"`
	Failed    []RowError `json:"failed"`
}

func (r *BulkReport[T]) fail(row int, enrollmentNumber string, err error) {
	r.Failed = append(r.Failed, RowError{Row: row, EnrollmentNumber: enrollmentNumber, Message: err.Error()})
}

func (s *Service) BulkRegisterStudents(ctx context.Context, actor model.Actor, rows []StudentInput) (BulkReport[model.Student], error) {
	report := BulkReport[model.Student]{Succeeded: []model.Student{}, Failed: []RowError{}}
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return report, err
	}
	for i, row := range rows {
		student, err := s.RegisterStudent(ctx, actor, row)
		if err != nil {
			report.fail(i+1, row.EnrollmentNumber, err)
			continue
		}
		report.Succeeded = append(report.Succeeded, student)
	}
	return report, nil
}

func (s *Service) GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error) {
	student, err := s.store.Queries().GetStudent(ctx, id)
	return student, lookup(err, ErrStudentNotFound)
}

// YearsCompleted counts whole academic years finished before the current
// semester, two semesters per year.
func YearsCompleted(currentSemester int) int {
	if currentSemester <= 1 {
		return 0
	}
	return (currentSemester - 1) / 2
}

type ExitResult struct {
	Student           model.Student `json:"student"`
	YearsCompleted    int           `json:"yearsCompleted"`
	CertificateQueued bool          `json:"certificateQueued"`
}

// MarkStudentExit records a drop-out or early exit. A certificate of
// incomplete studies is only scheduled when at least one year was completed.
func (s *Service) MarkStudentExit(ctx context.Context, actor model.Actor, studentID uuid.UUID, status model.StudentStatus, reason string) (ExitResult, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return ExitResult{}, err
	}
	if status != model.StudentDroppedOut && status != model.StudentEarlyExit {
		return ExitResult{}, badRequest(ErrInvalidExitStatus)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ExitResult{}, badRequest(ErrMissingReason)
	}
	var out ExitResult
	err := s.withTx(ctx, func(q db.Queries, events *txEvents) error {
		student, err := q.LockStudent(ctx, studentID)
		if err != nil {
			return lookup(err, ErrStudentNotFound)
		}
		if student.Status != model.StudentActive {
			return badRequest(ErrStudentNotActive)
		}
		now := s.now()
		if err := q.UpdateStudentStatus(ctx, studentID, status, &reason, now); err != nil {
			return fmt.Errorf("update student status: %w", err)
		}
		student.Status = status
		student.ExitReason = &reason
		student.UpdatedAt = now
		out = ExitResult{Student: student, YearsCompleted: YearsCompleted(student.CurrentSemester)}
		if out.YearsCompleted < 1 {
			return nil
		}
		out.CertificateQueued = true
		return s.emit(ctx, q, events, model.JobIncompleteStudies, model.JobPayload{
			StudentID:      ptr(studentID),
			YearsCompleted: out.YearsCompleted,
			Reason:         reason,
		})
	})
	return out, err
}
