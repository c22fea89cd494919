package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"semaphore/credentials/internal/model"
)

const proposalColumns = `id, student_id, total_credits, required_credits, completed_semesters, cgpa, has_backlogs,
    validation_passed, validation_errors, expected_graduation_year, status,
    academic_reviewed_by, academic_reviewed_at, academic_note, admin_approved_by, admin_approved_at, admin_note,
    rejected_by, rejected_at, rejection_reason, created_at, updated_at`

func (q *PgQueries) CreateDegreeProposal(ctx context.Context, proposal model.DegreeProposal) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO degree_proposals (id, student_id, total_credits, required_credits, completed_semesters, cgpa,
      has_backlogs, validation_passed, validation_errors, expected_graduation_year, status, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
  `, proposal.ID, proposal.StudentID, proposal.TotalCredits, proposal.RequiredCredits, proposal.CompletedSemesters,
		proposal.CGPA, proposal.HasBacklogs, proposal.ValidationPassed, nonNilStrings(proposal.ValidationErrors),
		proposal.ExpectedGraduationYear, proposal.Status, proposal.CreatedAt, proposal.UpdatedAt)
	return err
}

func (q *PgQueries) GetDegreeProposal(ctx context.Context, id uuid.UUID) (model.DegreeProposal, error) {
	return scanProposal(q.db.QueryRow(ctx, `SELECT `+proposalColumns+` FROM degree_proposals WHERE id = $1`, id))
}

func (q *PgQueries) LockDegreeProposal(ctx context.Context, id uuid.UUID) (model.DegreeProposal, error) {
	return scanProposal(q.db.QueryRow(ctx, `SELECT `+proposalColumns+` FROM degree_proposals WHERE id = $1 FOR UPDATE`, id))
}

func (q *PgQueries) GetActiveDegreeProposal(ctx context.Context, studentID uuid.UUID) (model.DegreeProposal, error) {
	return scanProposal(q.db.QueryRow(ctx, `
    SELECT `+proposalColumns+`
    FROM degree_proposals
    WHERE student_id = $1 AND status IN ('PENDING_ACADEMIC', 'PENDING_ADMIN', 'APPROVED')
  `, studentID))
}

func (q *PgQueries) UpdateDegreeProposal(ctx context.Context, proposal model.DegreeProposal) error {
	return rowsAffected(q.db.Exec(ctx, `
    UPDATE degree_proposals
    SET status = $1, academic_reviewed_by = $2, academic_reviewed_at = $3, academic_note = $4,
      admin_approved_by = $5, admin_approved_at = $6, admin_note = $7,
      rejected_by = $8, rejected_at = $9, rejection_reason = $10, updated_at = $11
    WHERE id = $12
  `, proposal.Status, proposal.AcademicReviewedBy, proposal.AcademicReviewedAt, proposal.AcademicNote,
		proposal.AdminApprovedBy, proposal.AdminApprovedAt, proposal.AdminNote,
		proposal.RejectedBy, proposal.RejectedAt, proposal.RejectionReason, proposal.UpdatedAt, proposal.ID))
}

func scanProposal(row pgx.Row) (model.DegreeProposal, error) {
	var p model.DegreeProposal
	err := row.Scan(
		&p.ID,
		&p.StudentID,
		&p.TotalCredits,
		&p.RequiredCredits,
		&p.CompletedSemesters,
		&p.CGPA,
		&p.HasBacklogs,
		&p.ValidationPassed,
		&p.ValidationErrors,
		&p.ExpectedGraduationYear,
		&p.Status,
		&p.AcademicReviewedBy,
		&p.AcademicReviewedAt,
		&p.AcademicNote,
		&p.AdminApprovedBy,
		&p.AdminApprovedAt,
		&p.AdminNote,
		&p.RejectedBy,
		&p.RejectedAt,
		&p.RejectionReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
