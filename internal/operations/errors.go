package operations

import (
	"errors"
	"fmt"

	"semaphore/credentials/internal/db"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindBadRequest
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "forbidden"
	}
	return "internal"
}

const (
	ErrStudentNotFound        = "student_not_found"
	ErrProgramNotFound        = "program_not_found"
	ErrCourseNotFound         = "course_not_found"
	ErrSemesterResultNotFound = "semester_result_not_found"
	ErrCourseResultNotFound   = "course_result_not_found"
	ErrProposalNotFound       = "degree_proposal_not_found"
	ErrCredentialNotFound     = "credential_not_found"
	ErrShareLinkNotFound      = "share_link_not_found"

	ErrProgramExists        = "program_exists"
	ErrCourseExists         = "course_exists"
	ErrEnrollmentExists     = "enrollment_exists"
	ErrSemesterResultExists = "semester_result_exists"
	ErrCourseResultExists   = "course_result_exists"
	ErrActiveProposalExists = "active_proposal_exists"
	ErrCredentialExists     = "credential_exists"
	ErrAlreadyRevoked       = "already_revoked"

	ErrInvalidTransition     = "invalid_transition"
	ErrInvalidProposalStage  = "invalid_proposal_stage"
	ErrMissingReference      = "missing_reference"
	ErrUnexpectedReference   = "unexpected_reference"
	ErrReferenceMismatch     = "reference_mismatch"
	ErrInvalidCredentialType = "invalid_credential_type"
	ErrResultNotApproved     = "result_not_approved"
	ErrResultHasCredential   = "result_has_credential"
	ErrProposalNotApproved   = "proposal_not_approved"
	ErrCredentialNotPending  = "credential_not_pending"
	ErrCredentialNotIssued   = "credential_not_issued"
	ErrStudentNotActive      = "student_not_active"
	ErrUnknownCourse         = "unknown_course"
	ErrInvalidMarks          = "invalid_marks"
	ErrInvalidGrade          = "invalid_grade"
	ErrMissingReason         = "missing_reason"
	ErrInvalidExitStatus     = "invalid_exit_status"
	ErrMissingWallet         = "missing_wallet_address"
	ErrInvalidInput          = "invalid_input"

	ErrResultLocked      = "result_locked"
	ErrRoleNotAllowed    = "role_not_allowed"
	ErrShareLinkInactive = "share_link_inactive"
)

type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

func notFound(code string) error   { return &Error{Kind: KindNotFound, Code: code} }
func conflict(code string) error   { return &Error{Kind: KindConflict, Code: code} }
func badRequest(code string) error { return &Error{Kind: KindBadRequest, Code: code} }
func forbidden(code string) error  { return &Error{Kind: KindForbidden, Code: code} }

// KindOf classifies err; anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindInternal
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code string) bool {
	var opErr *Error
	return errors.As(err, &opErr) && opErr.Code == code
}

// lookup maps a missing row to the given not-found code and wraps anything else.
func lookup(err error, code string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrNotFound) {
		return notFound(code)
	}
	return fmt.Errorf("%s lookup: %w", code, err)
}
