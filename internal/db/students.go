package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"semaphore/credentials/internal/model"
)

func (q *PgQueries) CreateProgram(ctx context.Context, program model.Program) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO programs (id, code, name, degree_name, required_credits, required_semesters, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
  `, program.ID, program.Code, program.Name, program.DegreeName, program.RequiredCredits, program.RequiredSemesters, program.CreatedAt)
	return err
}

func (q *PgQueries) GetProgram(ctx context.Context, id uuid.UUID) (model.Program, error) {
	var program model.Program
	row := q.db.QueryRow(ctx, `
    SELECT id, code, name, degree_name, required_credits, required_semesters, created_at
    FROM programs
    WHERE id = $1
  `, id)
	err := row.Scan(&program.ID, &program.Code, &program.Name, &program.DegreeName, &program.RequiredCredits, &program.RequiredSemesters, &program.CreatedAt)
	return program, err
}

func (q *PgQueries) CreateCourse(ctx context.Context, course model.Course) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO courses (id, program_id, code, name, credits, created_at)
    VALUES ($1, $2, $3, $4, $5, $6)
  `, course.ID, course.ProgramID, course.Code, course.Name, course.Credits, course.CreatedAt)
	return err
}

func (q *PgQueries) GetCourse(ctx context.Context, id uuid.UUID) (model.Course, error) {
	return scanCourse(q.db.QueryRow(ctx, `
    SELECT id, program_id, code, name, credits, created_at
    FROM courses
    WHERE id = $1
  `, id))
}

func (q *PgQueries) GetCourseByCode(ctx context.Context, programID uuid.UUID, code string) (model.Course, error) {
	return scanCourse(q.db.QueryRow(ctx, `
    SELECT id, program_id, code, name, credits, created_at
    FROM courses
    WHERE program_id = $1 AND code = $2
  `, programID, code))
}

func scanCourse(row pgx.Row) (model.Course, error) {
	var course model.Course
	err := row.Scan(&course.ID, &course.ProgramID, &course.Code, &course.Name, &course.Credits, &course.CreatedAt)
	return course, err
}

const studentColumns = `id, program_id, enrollment_number, first_name, last_name, email, wallet_address,
    admission_year, current_semester, status, exit_reason,
    token_id, token_contract, token_tx_hash, token_block, token_chain_id, created_at, updated_at`

func (q *PgQueries) CreateStudent(ctx context.Context, student model.Student) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO students (id, program_id, enrollment_number, first_name, last_name, email, wallet_address,
      admission_year, current_semester, status, exit_reason, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
  `, student.ID, student.ProgramID, student.EnrollmentNumber, student.FirstName, student.LastName, student.Email,
		student.WalletAddress, student.AdmissionYear, student.CurrentSemester, student.Status, student.ExitReason,
		student.CreatedAt, student.UpdatedAt)
	return err
}

func (q *PgQueries) GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error) {
	return scanStudent(q.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
}

func (q *PgQueries) GetStudentByEnrollment(ctx context.Context, enrollmentNumber string) (model.Student, error) {
	return scanStudent(q.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE enrollment_number = $1`, enrollmentNumber))
}

func (q *PgQueries) LockStudent(ctx context.Context, id uuid.UUID) (model.Student, error) {
	return scanStudent(q.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1 FOR UPDATE`, id))
}

func (q *PgQueries) UpdateStudentStatus(ctx context.Context, id uuid.UUID, status model.StudentStatus, exitReason *string, at time.Time) error {
	return rowsAffected(q.db.Exec(ctx, `
    UPDATE students
    SET status = $1, exit_reason = $2, updated_at = $3
    WHERE id = $4
  `, status, exitReason, at, id))
}

// SetStudentToken writes the identity token once; it reports false when the
// student already had one.
func (q *PgQueries) SetStudentToken(ctx context.Context, id uuid.UUID, record model.ChainRecord, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE students
    SET token_id = $1, token_contract = $2, token_tx_hash = $3, token_block = $4, token_chain_id = $5, updated_at = $6
    WHERE id = $7 AND token_id IS NULL
  `, record.TokenID, record.ContractAddress, record.TxHash, int64(record.BlockNumber), record.ChainID, at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanStudent(row pgx.Row) (model.Student, error) {
	var student model.Student
	var tokenID, contract, txHash *string
	var block, chainID *int64
	err := row.Scan(
		&student.ID,
		&student.ProgramID,
		&student.EnrollmentNumber,
		&student.FirstName,
		&student.LastName,
		&student.Email,
		&student.WalletAddress,
		&student.AdmissionYear,
		&student.CurrentSemester,
		&student.Status,
		&student.ExitReason,
		&tokenID,
		&contract,
		&txHash,
		&block,
		&chainID,
		&student.CreatedAt,
		&student.UpdatedAt,
	)
	if err != nil {
		return student, err
	}
	student.Token = chainRecord(tokenID, contract, txHash, block, chainID)
	return student, nil
}

func chainRecord(tokenID, contract, txHash *string, block, chainID *int64) *model.ChainRecord {
	if tokenID == nil {
		return nil
	}
	record := &model.ChainRecord{TokenID: *tokenID}
	if contract != nil {
		record.ContractAddress = *contract
	}
	if txHash != nil {
		record.TxHash = *txHash
	}
	if block != nil {
		record.BlockNumber = uint64(*block)
	}
	if chainID != nil {
		record.ChainID = *chainID
	}
	return record
}
