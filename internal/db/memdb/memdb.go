// Package memdb is an in-memory db.Store. Transactions are serialized and run
// against a copy of the data that replaces the original only on success, and
// the same unique constraints as the Postgres schema are enforced with the
// same error values.
package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db"
	"semaphore/credentials/internal/model"
)

type state struct {
	programs        map[uuid.UUID]model.Program
	courses         map[uuid.UUID]model.Course
	students        map[uuid.UUID]model.Student
	semesterResults map[uuid.UUID]model.SemesterResult
	courseResults   map[uuid.UUID]model.CourseResult
	proposals       map[uuid.UUID]model.DegreeProposal
	credentials     map[uuid.UUID]model.Credential
	shareLinks      map[uuid.UUID]model.ShareLink
	outbox          map[uuid.UUID]model.OutboxEvent
}

func newState() *state {
	return &state{
		programs:        map[uuid.UUID]model.Program{},
		courses:         map[uuid.UUID]model.Course{},
		students:        map[uuid.UUID]model.Student{},
		semesterResults: map[uuid.UUID]model.SemesterResult{},
		courseResults:   map[uuid.UUID]model.CourseResult{},
		proposals:       map[uuid.UUID]model.DegreeProposal{},
		credentials:     map[uuid.UUID]model.Credential{},
		shareLinks:      map[uuid.UUID]model.ShareLink{},
		outbox:          map[uuid.UUID]model.OutboxEvent{},
	}
}

func copyMap[V any](in map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		programs:        copyMap(s.programs),
		courses:         copyMap(s.courses),
		students:        copyMap(s.students),
		semesterResults: copyMap(s.semesterResults),
		courseResults:   copyMap(s.courseResults),
		proposals:       copyMap(s.proposals),
		credentials:     copyMap(s.credentials),
		shareLinks:      copyMap(s.shareLinks),
		outbox:          copyMap(s.outbox),
	}
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// Queries returns autocommit queries. Calling it from inside WithTx on the
// same store deadlocks, as it would exhaust a one-connection pool.
func (s *Store) Queries() db.Queries {
	return &queries{store: s}
}

func (s *Store) WithTx(ctx context.Context, fn func(db.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&queries{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type queries struct {
	store *Store
	st    *state
}

func (q *queries) run(fn func(st *state) error) error {
	if q.store == nil {
		return fn(q.st)
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return fn(q.store.st)
}

func (q *queries) CreateProgram(_ context.Context, program model.Program) error {
	return q.run(func(st *state) error {
		for _, p := range st.programs {
			if p.Code == program.Code {
				return db.UniqueViolation(db.ConstraintProgramCode)
			}
		}
		st.programs[program.ID] = program
		return nil
	})
}

func (q *queries) GetProgram(_ context.Context, id uuid.UUID) (model.Program, error) {
	var out model.Program
	err := q.run(func(st *state) error {
		p, ok := st.programs[id]
		if !ok {
			return db.ErrNotFound
		}
		out = p
		return nil
	})
	return out, err
}

func (q *queries) CreateCourse(_ context.Context, course model.Course) error {
	return q.run(func(st *state) error {
		for _, c := range st.courses {
			if c.ProgramID == course.ProgramID && c.Code == course.Code {
				return db.UniqueViolation(db.ConstraintCourseCode)
			}
		}
		st.courses[course.ID] = course
		return nil
	})
}

func (q *queries) GetCourse(_ context.Context, id uuid.UUID) (model.Course, error) {
	var out model.Course
	err := q.run(func(st *state) error {
		c, ok := st.courses[id]
		if !ok {
			return db.ErrNotFound
		}
		out = c
		return nil
	})
	return out, err
}

func (q *queries) GetCourseByCode(_ context.Context, programID uuid.UUID, code string) (model.Course, error) {
	var out model.Course
	err := q.run(func(st *state) error {
		for _, c := range st.courses {
			if c.ProgramID == programID && c.Code == code {
				out = c
				return nil
			}
		}
		return db.ErrNotFound
	})
	return out, err
}

func (q *queries) CreateStudent(_ context.Context, student model.Student) error {
	return q.run(func(st *state) error {
		for _, s := range st.students {
			if s.EnrollmentNumber == student.EnrollmentNumber {
				return db.UniqueViolation(db.ConstraintEnrollmentNumber)
			}
		}
		st.students[student.ID] = student
		return nil
	})
}

func (q *queries) GetStudent(_ context.Context, id uuid.UUID) (model.Student, error) {
	var out model.Student
	err := q.run(func(st *state) error {
		s, ok := st.students[id]
		if !ok {
			return db.ErrNotFound
		}
		out = s
		return nil
	})
	return out, err
}

func (q *queries) GetStudentByEnrollment(_ context.Context, enrollmentNumber string) (model.Student, error) {
	var out model.Student
	err := q.run(func(st *state) error {
		for _, s := range st.students {
			if s.EnrollmentNumber == enrollmentNumber {
				out = s
				return nil
			}
		}
		return db.ErrNotFound
	})
	return out, err
}

func (q *queries) LockStudent(ctx context.Context, id uuid.UUID) (model.Student, error) {
	return q.GetStudent(ctx, id)
}

func (q *queries) UpdateStudentStatus(_ context.Context, id uuid.UUID, status model.StudentStatus, exitReason *string, at time.Time) error {
	return q.run(func(st *state) error {
		s, ok := st.students[id]
		if !ok {
			return db.ErrNotFound
		}
		s.Status = status
		s.ExitReason = exitReason
		s.UpdatedAt = at
		st.students[id] = s
		return nil
	})
}

func (q *queries) SetStudentToken(_ context.Context, id uuid.UUID, record model.ChainRecord, at time.Time) (bool, error) {
	var updated bool
	err := q.run(func(st *state) error {
		s, ok := st.students[id]
		if !ok || s.Token != nil {
			return nil
		}
		rec := record
		s.Token = &rec
		s.UpdatedAt = at
		st.students[id] = s
		updated = true
		return nil
	})
	return updated, err
}

func (q *queries) CreateSemesterResult(_ context.Context, result model.SemesterResult) error {
	return q.run(func(st *state) error {
		for _, r := range st.semesterResults {
			if r.StudentID == result.StudentID && r.Semester == result.Semester && r.AcademicYear == result.AcademicYear {
				return db.UniqueViolation(db.ConstraintSemesterResult)
			}
		}
		result.Courses = nil
		st.semesterResults[result.ID] = result
		return nil
	})
}

func (q *queries) GetSemesterResult(_ context.Context, id uuid.UUID) (model.SemesterResult, error) {
	var out model.SemesterResult
	err := q.run(func(st *state) error {
		r, ok := st.semesterResults[id]
		if !ok {
			return db.ErrNotFound
		}
		out = r
		return nil
	})
	return out, err
}

func (q *queries) LockSemesterResult(ctx context.Context, id uuid.UUID) (model.SemesterResult, error) {
	return q.GetSemesterResult(ctx, id)
}

func (q *queries) UpdateSemesterResult(_ context.Context, result model.SemesterResult) error {
	return q.run(func(st *state) error {
		existing, ok := st.semesterResults[result.ID]
		if !ok {
			return db.ErrNotFound
		}
		existing.SGPA = result.SGPA
		existing.TotalCredits = result.TotalCredits
		existing.EarnedCredits = result.EarnedCredits
		existing.Status = result.Status
		existing.ReviewedBy = result.ReviewedBy
		existing.ReviewedAt = result.ReviewedAt
		existing.ApprovedBy = result.ApprovedBy
		existing.ApprovedAt = result.ApprovedAt
		existing.ApprovalNote = result.ApprovalNote
		existing.UpdatedAt = result.UpdatedAt
		st.semesterResults[result.ID] = existing
		return nil
	})
}

func (q *queries) ListSemesterResults(_ context.Context, studentID uuid.UUID, status *model.ResultStatus) ([]model.SemesterResult, error) {
	var out []model.SemesterResult
	err := q.run(func(st *state) error {
		for _, r := range st.semesterResults {
			if r.StudentID != studentID {
				continue
			}
			if status != nil && r.Status != *status {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Semester != out[j].Semester {
			return out[i].Semester < out[j].Semester
		}
		return out[i].AcademicYear < out[j].AcademicYear
	})
	return out, err
}

func (q *queries) CreateCourseResult(_ context.Context, result model.CourseResult) error {
	return q.run(func(st *state) error {
		if _, ok := st.semesterResults[result.SemesterResultID]; !ok {
			return db.ErrNotFound
		}
		for _, r := range st.courseResults {
			if r.SemesterResultID == result.SemesterResultID && r.CourseID == result.CourseID {
				return db.UniqueViolation(db.ConstraintCourseResult)
			}
		}
		result.CourseCode, result.CourseName = "", ""
		st.courseResults[result.ID] = result
		return nil
	})
}

func withCourse(st *state, r model.CourseResult) model.CourseResult {
	if c, ok := st.courses[r.CourseID]; ok {
		r.CourseCode = c.Code
		r.CourseName = c.Name
	}
	return r
}

func (q *queries) GetCourseResult(_ context.Context, id uuid.UUID) (model.CourseResult, error) {
	var out model.CourseResult
	err := q.run(func(st *state) error {
		r, ok := st.courseResults[id]
		if !ok {
			return db.ErrNotFound
		}
		out = withCourse(st, r)
		return nil
	})
	return out, err
}

func (q *queries) UpdateCourseResult(_ context.Context, result model.CourseResult) error {
	return q.run(func(st *state) error {
		existing, ok := st.courseResults[result.ID]
		if !ok {
			return db.ErrNotFound
		}
		existing.Marks = result.Marks
		existing.Grade = result.Grade
		existing.GradePoints = result.GradePoints
		existing.Credits = result.Credits
		existing.EarnedCredits = result.EarnedCredits
		existing.UpdatedAt = result.UpdatedAt
		st.courseResults[result.ID] = existing
		return nil
	})
}

func (q *queries) ListCourseResults(_ context.Context, semesterResultID uuid.UUID) ([]model.CourseResult, error) {
	var out []model.CourseResult
	err := q.run(func(st *state) error {
		for _, r := range st.courseResults {
			if r.SemesterResultID == semesterResultID {
				out = append(out, withCourse(st, r))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CourseCode < out[j].CourseCode })
	return out, err
}

func (q *queries) CreateDegreeProposal(_ context.Context, proposal model.DegreeProposal) error {
	return q.run(func(st *state) error {
		if proposal.Status.Active() {
			for _, p := range st.proposals {
				if p.StudentID == proposal.StudentID && p.Status.Active() {
					return db.UniqueViolation(db.ConstraintActiveProposal)
				}
			}
		}
		proposal.ValidationErrors = append([]string{}, proposal.ValidationErrors...)
		st.proposals[proposal.ID] = proposal
		return nil
	})
}

func (q *queries) GetDegreeProposal(_ context.Context, id uuid.UUID) (model.DegreeProposal, error) {
	var out model.DegreeProposal
	err := q.run(func(st *state) error {
		p, ok := st.proposals[id]
		if !ok {
			return db.ErrNotFound
		}
		out = p
		return nil
	})
	return out, err
}

func (q *queries) LockDegreeProposal(ctx context.Context, id uuid.UUID) (model.DegreeProposal, error) {
	return q.GetDegreeProposal(ctx, id)
}

func (q *queries) GetActiveDegreeProposal(_ context.Context, studentID uuid.UUID) (model.DegreeProposal, error) {
	var out model.DegreeProposal
	err := q.run(func(st *state) error {
		for _, p := range st.proposals {
			if p.StudentID == studentID && p.Status.Active() {
				out = p
				return nil
			}
		}
		return db.ErrNotFound
	})
	return out, err
}

func (q *queries) UpdateDegreeProposal(_ context.Context, proposal model.DegreeProposal) error {
	return q.run(func(st *state) error {
		existing, ok := st.proposals[proposal.ID]
		if !ok {
			return db.ErrNotFound
		}
		existing.Status = proposal.Status
		existing.AcademicReviewedBy = proposal.AcademicReviewedBy
		existing.AcademicReviewedAt = proposal.AcademicReviewedAt
		existing.AcademicNote = proposal.AcademicNote
		existing.AdminApprovedBy = proposal.AdminApprovedBy
		existing.AdminApprovedAt = proposal.AdminApprovedAt
		existing.AdminNote = proposal.AdminNote
		existing.RejectedBy = proposal.RejectedBy
		existing.RejectedAt = proposal.RejectedAt
		existing.RejectionReason = proposal.RejectionReason
		existing.UpdatedAt = proposal.UpdatedAt
		st.proposals[proposal.ID] = existing
		return nil
	})
}

func (q *queries) CreateCredential(_ context.Context, credential model.Credential) error {
	return q.run(func(st *state) error {
		semesterResultID, degreeProposalID := model.ReferenceIDs(credential.Reference)
		for _, c := range st.credentials {
			existingSemester, existingDegree := model.ReferenceIDs(c.Reference)
			if semesterResultID != nil && existingSemester != nil && *semesterResultID == *existingSemester {
				return db.UniqueViolation(db.ConstraintSemesterCredential)
			}
			if degreeProposalID != nil && existingDegree != nil && *degreeProposalID == *existingDegree {
				return db.UniqueViolation(db.ConstraintDegreeCredential)
			}
			if credential.CertificateKind != nil && c.CertificateKind != nil &&
				c.StudentID == credential.StudentID && *c.CertificateKind == *credential.CertificateKind {
				return db.UniqueViolation(db.ConstraintCertificateKind)
			}
		}
		if credential.Reference == nil {
			credential.Reference = model.NoRef{}
		}
		credential.Metadata = append([]byte{}, credential.Metadata...)
		credential.Chain = nil
		st.credentials[credential.ID] = credential
		return nil
	})
}

func (q *queries) GetCredential(_ context.Context, id uuid.UUID) (model.Credential, error) {
	var out model.Credential
	err := q.run(func(st *state) error {
		c, ok := st.credentials[id]
		if !ok {
			return db.ErrNotFound
		}
		out = c
		return nil
	})
	return out, err
}

func (q *queries) LockCredential(ctx context.Context, id uuid.UUID) (model.Credential, error) {
	return q.GetCredential(ctx, id)
}

func (q *queries) GetCredentialByReference(_ context.Context, ref model.Reference) (model.Credential, error) {
	var out model.Credential
	err := q.run(func(st *state) error {
		for _, c := range st.credentials {
			if c.Reference == ref {
				out = c
				return nil
			}
		}
		return db.ErrNotFound
	})
	return out, err
}

func (q *queries) GetCertificateCredential(_ context.Context, studentID uuid.UUID, kind string) (model.Credential, error) {
	var out model.Credential
	err := q.run(func(st *state) error {
		for _, c := range st.credentials {
			if c.StudentID == studentID && c.CertificateKind != nil && *c.CertificateKind == kind {
				out = c
				return nil
			}
		}
		return db.ErrNotFound
	})
	return out, err
}

func (q *queries) ListCredentials(_ context.Context, studentID uuid.UUID) ([]model.Credential, error) {
	var out []model.Credential
	err := q.run(func(st *state) error {
		for _, c := range st.credentials {
			if c.StudentID == studentID {
				out = append(out, c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (q *queries) UpdateCredentialStatus(_ context.Context, credential model.Credential) error {
	return q.run(func(st *state) error {
		existing, ok := st.credentials[credential.ID]
		if !ok {
			return db.ErrNotFound
		}
		existing.Status = credential.Status
		existing.IssuedAt = credential.IssuedAt
		existing.RevokedAt = credential.RevokedAt
		existing.RevokedBy = credential.RevokedBy
		existing.RevocationReason = credential.RevocationReason
		existing.UpdatedAt = credential.UpdatedAt
		st.credentials[credential.ID] = existing
		return nil
	})
}

func (q *queries) RecordCredentialMint(_ context.Context, id uuid.UUID, record model.ChainRecord, issuedAt time.Time) (bool, error) {
	var updated bool
	err := q.run(func(st *state) error {
		c, ok := st.credentials[id]
		if !ok || c.Chain != nil {
			return nil
		}
		rec := record
		c.Chain = &rec
		if c.Status == model.CredentialPending {
			c.Status = model.CredentialIssued
		}
		if c.IssuedAt == nil {
			at := issuedAt
			c.IssuedAt = &at
		}
		c.UpdatedAt = issuedAt
		st.credentials[id] = c
		updated = true
		return nil
	})
	return updated, err
}

func (q *queries) CreateShareLink(_ context.Context, link model.ShareLink) error {
	return q.run(func(st *state) error {
		if _, ok := st.credentials[link.CredentialID]; !ok {
			return db.ErrNotFound
		}
		for _, l := range st.shareLinks {
			if l.Token == link.Token {
				return db.UniqueViolation(db.ConstraintShareLinkToken)
			}
		}
		st.shareLinks[link.ID] = link
		return nil
	})
}

func (q *queries) GetShareLink(_ context.Context, id uuid.UUID) (model.ShareLink, error) {
	var out model.ShareLink
	err := q.run(func(st *state) error {
		l, ok := st.shareLinks[id]
		if !ok {
			return db.ErrNotFound
		}
		out = l
		return nil
	})
	return out, err
}

func (q *queries) GetShareLinkByToken(_ context.Context, token string) (model.ShareLink, error) {
	var out model.ShareLink
	err := q.run(func(st *state) error {
		for _, l := range st.shareLinks {
			if l.Token == token {
				out = l
				return nil
			}
		}
		return db.ErrNotFound
	})
	return out, err
}

func (q *queries) ListShareLinks(_ context.Context, credentialID uuid.UUID) ([]model.ShareLink, error) {
	var out []model.ShareLink
	err := q.run(func(st *state) error {
		for _, l := range st.shareLinks {
			if l.CredentialID == credentialID {
				out = append(out, l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (q *queries) DeactivateShareLink(_ context.Context, id uuid.UUID, at time.Time) error {
	return q.run(func(st *state) error {
		l, ok := st.shareLinks[id]
		if !ok {
			return db.ErrNotFound
		}
		l.IsActive = false
		if l.RevokedAt == nil {
			revokedAt := at
			l.RevokedAt = &revokedAt
		}
		st.shareLinks[id] = l
		return nil
	})
}

func (q *queries) DeactivateShareLinks(_ context.Context, credentialID uuid.UUID, at time.Time) (int64, error) {
	var count int64
	err := q.run(func(st *state) error {
		for id, l := range st.shareLinks {
			if l.CredentialID != credentialID || !l.IsActive {
				continue
			}
			revokedAt := at
			l.IsActive = false
			l.RevokedAt = &revokedAt
			st.shareLinks[id] = l
			count++
		}
		return nil
	})
	return count, err
}

func (q *queries) IncrementShareLinkViews(_ context.Context, id uuid.UUID) error {
	return q.run(func(st *state) error {
		l, ok := st.shareLinks[id]
		if !ok {
			return db.ErrNotFound
		}
		l.ViewCount++
		st.shareLinks[id] = l
		return nil
	})
}

func (q *queries) InsertOutboxEvent(_ context.Context, event model.OutboxEvent) error {
	return q.run(func(st *state) error {
		st.outbox[event.ID] = event
		return nil
	})
}

func (q *queries) ListPendingOutbox(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	var out []model.OutboxEvent
	err := q.run(func(st *state) error {
		for _, e := range st.outbox {
			if e.DispatchedAt == nil {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (q *queries) MarkOutboxDispatched(_ context.Context, ids []uuid.UUID, at time.Time) error {
	return q.run(func(st *state) error {
		for _, id := range ids {
			e, ok := st.outbox[id]
			if !ok {
				continue
			}
			dispatchedAt := at
			e.DispatchedAt = &dispatchedAt
			st.outbox[id] = e
		}
		return nil
	})
}
