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

// transitions lists, for each status, the statuses it may move to. Anything
// not listed is rejected.
var transitions = map[model.ResultStatus][]model.ResultStatus{
	model.ResultDraft:    {model.ResultReviewed},
	model.ResultReviewed: {model.ResultApproved, model.ResultDraft},
	model.ResultApproved: {model.ResultIssued, model.ResultReviewed},
	model.ResultIssued:   {model.ResultWithheld},
	model.ResultWithheld: {},
}

type edge struct {
	from model.ResultStatus
	to   model.ResultStatus
}

var transitionRoles = map[edge][]model.Role{
	{model.ResultDraft, model.ResultReviewed}:    {model.RoleFaculty, model.RoleAcademic, model.RoleAdmin},
	{model.ResultReviewed, model.ResultApproved}: {model.RoleAcademic, model.RoleAdmin},
	{model.ResultReviewed, model.ResultDraft}:    {model.RoleFaculty, model.RoleAcademic, model.RoleAdmin},
	{model.ResultApproved, model.ResultIssued}:   {model.RoleAdmin, model.RoleSystem},
	{model.ResultApproved, model.ResultReviewed}: {model.RoleAcademic, model.RoleAdmin},
	{model.ResultIssued, model.ResultWithheld}:   {model.RoleAdmin},
}

func CanTransition(from, to model.ResultStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type CourseEntry struct {
	CourseID      *uuid.UUID
	CourseCode    string
	InternalMarks *float64
	ExternalMarks *float64
	TotalMarks    *float64
	Grade         string
}

type SemesterResultInput struct {
	StudentID    uuid.UUID
	Semester     int
	AcademicYear string
	Courses      []CourseEntry
}

// grade fills marks, grade, points and credits of a course result. Marks win
// over an explicit grade; a total out of 100 is read as a percentage.
func (s *Service) grade(entry CourseEntry, course model.Course, result *model.CourseResult) error {
	marks := model.Marks{Internal: entry.InternalMarks, External: entry.ExternalMarks, Total: entry.TotalMarks}
	if marks.Total == nil && (marks.Internal != nil || marks.External != nil) {
		var total float64
		if marks.Internal != nil {
			total += *marks.Internal
		}
		if marks.External != nil {
			total += *marks.External
		}
		marks.Total = &total
	}
	for _, v := range []*float64{marks.Internal, marks.External, marks.Total} {
		if v != nil && (*v < 0 || *v > 100) {
			return badRequest(ErrInvalidMarks)
		}
	}
	switch {
	case marks.Total != nil:
		result.Grade, result.GradePoints = s.scale.FromPercentage(*marks.Total)
	case strings.TrimSpace(entry.Grade) != "":
		points, ok := s.scale.Points(entry.Grade)
		if !ok {
			return badRequest(ErrInvalidGrade)
		}
		result.Grade = strings.ToUpper(strings.TrimSpace(entry.Grade))
		result.GradePoints = points
	default:
		return badRequest(ErrInvalidMarks)
	}
	result.Marks = marks
	result.Credits = course.Credits
	result.EarnedCredits = grading.EarnedCredits(result.Grade, course.Credits)
	result.CourseID = course.ID
	result.CourseCode = course.Code
	result.CourseName = course.Name
	return nil
}

func (s *Service) resolveCourse(ctx context.Context, q db.Queries, programID uuid.UUID, entry CourseEntry) (model.Course, error) {
	if entry.CourseID != nil {
		course, err := q.GetCourse(ctx, *entry.CourseID)
		if err != nil {
			return model.Course{}, lookup(err, ErrCourseNotFound)
		}
		if course.ProgramID != programID {
			return model.Course{}, badRequest(ErrUnknownCourse)
		}
		return course, nil
	}
	course, err := q.GetCourseByCode(ctx, programID, strings.TrimSpace(entry.CourseCode))
	if errors.Is(err, db.ErrNotFound) {
		return model.Course{}, badRequest(ErrUnknownCourse)
	}
	return course, err
}

// CreateSemesterResult stores a DRAFT result with its course results and the
// aggregates computed from them.
func (s *Service) CreateSemesterResult(ctx context.Context, actor model.Actor, in SemesterResultInput) (model.SemesterResult, error) {
	if err := requireRole(actor, model.RoleFaculty, model.RoleAcademic, model.RoleAdmin); err != nil {
		return model.SemesterResult{}, err
	}
	if in.Semester <= 0 || strings.TrimSpace(in.AcademicYear) == "" || len(in.Courses) == 0 {
		return model.SemesterResult{}, badRequest(ErrInvalidInput)
	}
	var out model.SemesterResult
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		student, err := q.GetStudent(ctx, in.StudentID)
		if err != nil {
			return lookup(err, ErrStudentNotFound)
		}
		if student.Status != model.StudentActive {
			return badRequest(ErrStudentNotActive)
		}
		now := s.now()
		result := model.SemesterResult{
			ID:           uuid.New(),
			StudentID:    student.ID,
			Semester:     in.Semester,
			AcademicYear: strings.TrimSpace(in.AcademicYear),
			Status:       model.ResultDraft,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		courses := make([]model.CourseResult, 0, len(in.Courses))
		for _, entry := range in.Courses {
			course, err := s.resolveCourse(ctx, q, student.ProgramID, entry)
			if err != nil {
				return err
			}
			cr := model.CourseResult{ID: uuid.New(), SemesterResultID: result.ID, CreatedAt: now, UpdatedAt: now}
			if err := s.grade(entry, course, &cr); err != nil {
				return err
			}
			courses = append(courses, cr)
		}
		totals := grading.Summarize(courses)
		result.SGPA, result.TotalCredits, result.EarnedCredits = totals.SGPA, totals.TotalCredits, totals.EarnedCredits
		if err := q.CreateSemesterResult(ctx, result); err != nil {
			if db.IsUniqueViolation(err, db.ConstraintSemesterResult) {
				return conflict(ErrSemesterResultExists)
			}
			return err
		}
		for _, cr := range courses {
			if err := q.CreateCourseResult(ctx, cr); err != nil {
				if db.IsUniqueViolation(err, db.ConstraintCourseResult) {
					return conflict(ErrCourseResultExists)
				}
				return err
			}
		}
		result.Courses = courses
		out = result
		return nil
	})
	return out, err
}

type ResultRow struct {
	EnrollmentNumber string
	Semester         int
	AcademicYear     string
	Courses          []CourseEntry
}

// BulkImportResults creates one semester result per row. Rows fail on their
// own; the report lists every failure with its enrollment number.
func (s *Service) BulkImportResults(ctx context.Context, actor model.Actor, rows []ResultRow) (BulkReport[model.SemesterResult], error) {
	report := BulkReport[model.SemesterResult]{Succeeded: []model.SemesterResult{}, Failed: []RowError{}}
	if err := requireRole(actor, model.RoleFaculty, model.RoleAcademic, model.RoleAdmin); err != nil {
		return report, err
	}
	for i, row := range rows {
		student, err := s.store.Queries().GetStudentByEnrollment(ctx, strings.TrimSpace(row.EnrollmentNumber))
		if err != nil {
			report.fail(i+1, row.EnrollmentNumber, lookup(err, ErrStudentNotFound))
			continue
		}
		result, err := s.CreateSemesterResult(ctx, actor, SemesterResultInput{
			StudentID:    student.ID,
			Semester:     row.Semester,
			AcademicYear: row.AcademicYear,
			Courses:      row.Courses,
		})
		if err != nil {
			report.fail(i+1, row.EnrollmentNumber, err)
			continue
		}
		report.Succeeded = append(report.Succeeded, result)
	}
	return report, nil
}

// UpdateCourseResult regrades one course of a DRAFT result and recomputes the
// result's aggregates in the same transaction.
func (s *Service) UpdateCourseResult(ctx context.Context, actor model.Actor, courseResultID uuid.UUID, entry CourseEntry) (model.SemesterResult, error) {
	if err := requireRole(actor, model.RoleFaculty, model.RoleAcademic, model.RoleAdmin); err != nil {
		return model.SemesterResult{}, err
	}
	var out model.SemesterResult
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		parent, err := q.GetCourseResult(ctx, courseResultID)
		if err != nil {
			return lookup(err, ErrCourseResultNotFound)
		}
		result, err := q.LockSemesterResult(ctx, parent.SemesterResultID)
		if err != nil {
			return lookup(err, ErrSemesterResultNotFound)
		}
		if result.Status != model.ResultDraft {
			return forbidden(ErrResultLocked)
		}
		// Re-read under the parent's lock; the first read only located it.
		cr, err := q.GetCourseResult(ctx, courseResultID)
		if err != nil {
			return lookup(err, ErrCourseResultNotFound)
		}
		course, err := q.GetCourse(ctx, cr.CourseID)
		if err != nil {
			return lookup(err, ErrCourseNotFound)
		}
		if err := s.grade(entry, course, &cr); err != nil {
			return err
		}
		now := s.now()
		cr.UpdatedAt = now
		if err := q.UpdateCourseResult(ctx, cr); err != nil {
			return fmt.Errorf("update course result: %w", err)
		}
		courses, err := q.ListCourseResults(ctx, result.ID)
		if err != nil {
			return err
		}
		totals := grading.Summarize(courses)
		result.SGPA, result.TotalCredits, result.EarnedCredits = totals.SGPA, totals.TotalCredits, totals.EarnedCredits
		result.UpdatedAt = now
		if err := q.UpdateSemesterResult(ctx, result); err != nil {
			return fmt.Errorf("update semester result: %w", err)
		}
		result.Courses = courses
		out = result
		return nil
	})
	return out, err
}

// TransitionResult moves a semester result along the lifecycle. The status is
// read and written under a row lock so concurrent transitions serialize.
// Entering APPROVED schedules the mint; the transition never waits on it.
func (s *Service) TransitionResult(ctx context.Context, actor model.Actor, id uuid.UUID, target model.ResultStatus, note string) (model.SemesterResult, error) {
	var out model.SemesterResult
	err := s.withTx(ctx, func(q db.Queries, events *txEvents) error {
		result, err := q.LockSemesterResult(ctx, id)
		if err != nil {
			return lookup(err, ErrSemesterResultNotFound)
		}
		if result.Status == model.ResultApproved && target == model.ResultReviewed {
			// The credential snapshot holds the approved grades; reopening
			// would let them drift from what gets minted.
			if _, err := q.GetCredentialByReference(ctx, model.SemesterRef{SemesterResultID: id}); err == nil {
				return conflict(ErrResultHasCredential)
			} else if !errors.Is(err, db.ErrNotFound) {
				return err
			}
		}
		next, err := s.applyTransition(actor, result, target, note)
		if err != nil {
			return err
		}
		if err := q.UpdateSemesterResult(ctx, next); err != nil {
			return fmt.Errorf("update semester result: %w", err)
		}
		out = next
		if target != model.ResultApproved {
			return nil
		}
		return s.emit(ctx, q, events, model.JobSyncSemesterResult, model.JobPayload{
			StudentID:        ptr(next.StudentID),
			SemesterResultID: ptr(next.ID),
		})
	})
	return out, err
}

func (s *Service) applyTransition(actor model.Actor, result model.SemesterResult, target model.ResultStatus, note string) (model.SemesterResult, error) {
	if !CanTransition(result.Status, target) {
		return result, badRequest(ErrInvalidTransition)
	}
	if err := requireRole(actor, transitionRoles[edge{result.Status, target}]...); err != nil {
		return result, err
	}
	now := s.now()
	result.Status = target
	result.UpdatedAt = now
	switch target {
	case model.ResultReviewed:
		result.ReviewedBy = ptr(actor.ID)
		result.ReviewedAt = ptr(now)
	case model.ResultApproved:
		result.ApprovedBy = ptr(actor.ID)
		result.ApprovedAt = ptr(now)
		result.ApprovalNote = nil
		if note = strings.TrimSpace(note); note != "" {
			result.ApprovalNote = &note
		}
	}
	return result, nil
}

// GetSemesterResult returns the result with its course results.
func (s *Service) GetSemesterResult(ctx context.Context, id uuid.UUID) (model.SemesterResult, error) {
	q := s.store.Queries()
	result, err := q.GetSemesterResult(ctx, id)
	if err != nil {
		return model.SemesterResult{}, lookup(err, ErrSemesterResultNotFound)
	}
	result.Courses, err = q.ListCourseResults(ctx, id)
	if err != nil {
		return model.SemesterResult{}, err
	}
	return result, nil
}

func (s *Service) ListSemesterResults(ctx context.Context, studentID uuid.UUID, status *model.ResultStatus) ([]model.SemesterResult, error) {
	q := s.store.Queries()
	if _, err := q.GetStudent(ctx, studentID); err != nil {
		return nil, lookup(err, ErrStudentNotFound)
	}
	return q.ListSemesterResults(ctx, studentID, status)
}
