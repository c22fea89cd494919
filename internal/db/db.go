package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"semaphore/credentials/internal/model"
)

// ErrNotFound is what every single-row lookup returns when nothing matches.
var ErrNotFound = pgx.ErrNoRows

const uniqueViolation = "23505"

const (
	ConstraintProgramCode        = "programs_code_key"
	ConstraintCourseCode         = "courses_program_code_key"
	ConstraintEnrollmentNumber   = "students_enrollment_number_key"
	ConstraintSemesterResult     = "semester_results_student_semester_year_key"
	ConstraintCourseResult       = "course_results_result_course_key"
	ConstraintActiveProposal     = "degree_proposals_one_active_idx"
	ConstraintSemesterCredential = "credentials_semester_result_id_key"
	ConstraintDegreeCredential   = "credentials_degree_proposal_id_key"
	ConstraintCertificateKind    = "credentials_certificate_kind_idx"
	ConstraintShareLinkToken     = "share_links_token_key"
)

// IsUniqueViolation reports whether err is a unique violation, optionally
// restricted to the named constraints.
func IsUniqueViolation(err error, constraints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, name := range constraints {
		if pgErr.ConstraintName == name {
			return true
		}
	}
	return false
}

// UniqueViolation builds the error Postgres would return for constraint.
func UniqueViolation(constraint string) error {
	return &pgconn.PgError{
		Code:           uniqueViolation,
		Message:        fmt.Sprintf("duplicate key value violates unique constraint %q", constraint),
		ConstraintName: constraint,
	}
}

type Queries interface {
	CreateProgram(ctx context.Context, program model.Program) error
	GetProgram(ctx context.Context, id uuid.UUID) (model.Program, error)
	CreateCourse(ctx context.Context, course model.Course) error
	GetCourse(ctx context.Context, id uuid.UUID) (model.Course, error)
	GetCourseByCode(ctx context.Context, programID uuid.UUID, code string) (model.Course, error)

	CreateStudent(ctx context.Context, student model.Student) error
	GetStudent(ctx context.Context, id uuid.UUID) (model.Student, error)
	GetStudentByEnrollment(ctx context.Context, enrollmentNumber string) (model.Student, error)
	LockStudent(ctx context.Context, id uuid.UUID) (model.Student, error)
	UpdateStudentStatus(ctx context.Context, id uuid.UUID, status model.StudentStatus, exitReason *string, at time.Time) error
	SetStudentToken(ctx context.Context, id uuid.UUID, record model.ChainRecord, at time.Time) (bool, error)

	CreateSemesterResult(ctx context.Context, result model.SemesterResult) error
	GetSemesterResult(ctx context.Context, id uuid.UUID) (model.SemesterResult, error)
	LockSemesterResult(ctx context.Context, id uuid.UUID) (model.SemesterResult, error)
	UpdateSemesterResult(ctx context.Context, result model.SemesterResult) error
	ListSemesterResults(ctx context.Context, studentID uuid.UUID, status *model.ResultStatus) ([]model.SemesterResult, error)

	CreateCourseResult(ctx context.Context, result model.CourseResult) error
	GetCourseResult(ctx context.Context, id uuid.UUID) (model.CourseResult, error)
	UpdateCourseResult(ctx context.Context, result model.CourseResult) error
	ListCourseResults(ctx context.Context, semesterResultID uuid.UUID) ([]model.CourseResult, error)

	CreateDegreeProposal(ctx context.Context, proposal model.DegreeProposal) error
	GetDegreeProposal(ctx context.Context, id uuid.UUID) (model.DegreeProposal, error)
	LockDegreeProposal(ctx context.Context, id uuid.UUID) (model.DegreeProposal, error)
	GetActiveDegreeProposal(ctx context.Context, studentID uuid.UUID) (model.DegreeProposal, error)
	UpdateDegreeProposal(ctx context.Context, proposal model.DegreeProposal) error

	CreateCredential(ctx context.Context, credential model.Credential) error
	GetCredential(ctx context.Context, id uuid.UUID) (model.Credential, error)
	LockCredential(ctx context.Context, id uuid.UUID) (model.Credential, error)
	GetCredentialByReference(ctx context.Context, ref model.Reference) (model.Credential, error)
	GetCertificateCredential(ctx context.Context, studentID uuid.UUID, kind string) (model.Credential, error)
	ListCredentials(ctx context.Context, studentID uuid.UUID) ([]model.Credential, error)
	UpdateCredentialStatus(ctx context.Context, credential model.Credential) error
	RecordCredentialMint(ctx context.Context, id uuid.UUID, record model.ChainRecord, issuedAt time.Time) (bool, error)

	CreateShareLink(ctx context.Context, link model.ShareLink) error
	GetShareLink(ctx context.Context, id uuid.UUID) (model.ShareLink, error)
	GetShareLinkByToken(ctx context.Context, token string) (model.ShareLink, error)
	ListShareLinks(ctx context.Context, credentialID uuid.UUID) ([]model.ShareLink, error)
	DeactivateShareLink(ctx context.Context, id uuid.UUID, at time.Time) error
	DeactivateShareLinks(ctx context.Context, credentialID uuid.UUID, at time.Time) (int64, error)
	IncrementShareLinkViews(ctx context.Context, id uuid.UUID) error

	InsertOutboxEvent(ctx context.Context, event model.OutboxEvent) error
	ListPendingOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxDispatched(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Store is the single source of truth. WithTx runs fn in one transaction and
// rolls back if fn returns an error.
type Store interface {
	Queries() Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

//go:embed schema.sql
var schema string

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
