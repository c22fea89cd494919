package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"semaphore/credentials/internal/model"
)

const semesterResultColumns = `id, student_id, semester, academic_year, sgpa, total_credits, earned_credits, status,
    reviewed_by, reviewed_at, approved_by, approved_at, approval_note, created_at, updated_at`

func (q *PgQueries) CreateSemesterResult(ctx context.Context, result model.SemesterResult) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO semester_results (id, student_id, semester, academic_year, sgpa, total_credits, earned_credits, status, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
  `, result.ID, result.StudentID, result.Semester, result.AcademicYear, result.SGPA, result.TotalCredits,
		result.EarnedCredits, result.Status, result.CreatedAt, result.UpdatedAt)
	return err
}

func (q *PgQueries) GetSemesterResult(ctx context.Context, id uuid.UUID) (model.SemesterResult, error) {
	return scanSemesterResult(q.db.QueryRow(ctx, `SELECT `+semesterResultColumns+` FROM semester_results WHERE id = $1`, id))
}

func (q *PgQueries) LockSemesterResult(ctx context.Context, id uuid.UUID) (model.SemesterResult, error) {
	return scanSemesterResult(q.db.QueryRow(ctx, `SELECT `+semesterResultColumns+` FROM semester_results WHERE id = $1 FOR UPDATE`, id))
}

func (q *PgQueries) UpdateSemesterResult(ctx context.Context, result model.SemesterResult) error {
	return rowsAffected(q.db.Exec(ctx, `
    UPDATE semester_results
    SET sgpa = $1, total_credits = $2, earned_credits = $3, status = $4,
      reviewed_by = $5, reviewed_at = $6, approved_by = $7, approved_at = $8, approval_note = $9, updated_at = $10
    WHERE id = $11
  `, result.SGPA, result.TotalCredits, result.EarnedCredits, result.Status,
		result.ReviewedBy, result.ReviewedAt, result.ApprovedBy, result.ApprovedAt, result.ApprovalNote, result.UpdatedAt,
		result.ID))
}

func (q *PgQueries) ListSemesterResults(ctx context.Context, studentID uuid.UUID, status *model.ResultStatus) ([]model.SemesterResult, error) {
	rows, err := q.db.Query(ctx, `
    SELECT `+semesterResultColumns+`
    FROM semester_results
    WHERE student_id = $1 AND ($2::text IS NULL OR status = $2)
    ORDER BY semester, academic_year
  `, studentID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.SemesterResult
	for rows.Next() {
		result, err := scanSemesterResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanSemesterResult(row pgx.Row) (model.SemesterResult, error) {
	var result model.SemesterResult
	err := row.Scan(
		&result.ID,
		&result.StudentID,
		&result.Semester,
		&result.AcademicYear,
		&result.SGPA,
		&result.TotalCredits,
		&result.EarnedCredits,
		&result.Status,
		&result.ReviewedBy,
		&result.ReviewedAt,
		&result.ApprovedBy,
		&result.ApprovedAt,
		&result.ApprovalNote,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	return result, err
}

const courseResultQuery = `
    SELECT cr.id, cr.semester_result_id, cr.course_id, c.code, c.name, cr.internal_marks, cr.external_marks, cr.total_marks,
      cr.grade, cr.grade_points, cr.credits, cr.earned_credits, cr.created_at, cr.updated_at
    FROM course_results cr
    JOIN courses c ON c.id = cr.course_id`

func (q *PgQueries) CreateCourseResult(ctx context.Context, result model.CourseResult) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO course_results (id, semester_result_id, course_id, internal_marks, external_marks, total_marks,
      grade, grade_points, credits, earned_credits, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
  `, result.ID, result.SemesterResultID, result.CourseID, result.Marks.Internal, result.Marks.External, result.Marks.Total,
		result.Grade, result.GradePoints, result.Credits, result.EarnedCredits, result.CreatedAt, result.UpdatedAt)
	return err
}

func (q *PgQueries) GetCourseResult(ctx context.Context, id uuid.UUID) (model.CourseResult, error) {
	return scanCourseResult(q.db.QueryRow(ctx, courseResultQuery+` WHERE cr.id = $1`, id))
}

func (q *PgQueries) UpdateCourseResult(ctx context.Context, result model.CourseResult) error {
	return rowsAffected(q.db.Exec(ctx, `
    UPDATE course_results
    SET internal_marks = $1, external_marks = $2, total_marks = $3, grade = $4, grade_points = $5,
      credits = $6, earned_credits = $7, updated_at = $8
    WHERE id = $9
  `, result.Marks.Internal, result.Marks.External, result.Marks.Total, result.Grade, result.GradePoints,
		result.Credits, result.EarnedCredits, result.UpdatedAt, result.ID))
}

func (q *PgQueries) ListCourseResults(ctx context.Context, semesterResultID uuid.UUID) ([]model.CourseResult, error) {
	rows, err := q.db.Query(ctx, courseResultQuery+` WHERE cr.semester_result_id = $1 ORDER BY c.code`, semesterResultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.CourseResult
	for rows.Next() {
		result, err := scanCourseResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanCourseResult(row pgx.Row) (model.CourseResult, error) {
	var result model.CourseResult
	err := row.Scan(
		&result.ID,
		&result.SemesterResultID,
		&result.CourseID,
		&result.CourseCode,
		&result.CourseName,
		&result.Marks.Internal,
		&result.Marks.External,
		&result.Marks.Total,
		&result.Grade,
		&result.GradePoints,
		&result.Credits,
		&result.EarnedCredits,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	return result, err
}
