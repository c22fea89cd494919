package operations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"semaphore/credentials/internal/db"
	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/snapshot"
)

// IncompleteStudies is the certificate kind issued to students who leave after
// completing at least one year.
const IncompleteStudies = "INCOMPLETE_STUDIES"

type CredentialInput struct {
	StudentID       uuid.UUID
	Type            model.CredentialType
	Reference       model.Reference
	CertificateKind string
	Title           string
	YearsCompleted  int
	Reason          string
}

// CreateCredential builds and stores a PENDING credential. The snapshot and its
// hash are computed here, once.
func (s *Service) CreateCredential(ctx context.Context, actor model.Actor, in CredentialInput) (model.Credential, error) {
	if err := requireRole(actor, model.RoleAcademic, model.RoleAdmin); err != nil {
		return model.Credential{}, err
	}
	var out model.Credential
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		c, err := s.createCredential(ctx, q, in)
		out = c
		return err
	})
	return out, err
}

func (s *Service) createCredential(ctx context.Context, q db.Queries, in CredentialInput) (model.Credential, error) {
	if in.Reference == nil {
		in.Reference = model.NoRef{}
	}
	student, err := q.GetStudent(ctx, in.StudentID)
	if err != nil {
		return model.Credential{}, lookup(err, ErrStudentNotFound)
	}
	program, err := q.GetProgram(ctx, student.ProgramID)
	if err != nil {
		return model.Credential{}, lookup(err, ErrProgramNotFound)
	}
	now := s.now()
	doc := snapshot.Document{
		Institution: s.institution,
		Type:        in.Type,
		Student:     snapshot.StudentOf(student, program),
		CreatedAt:   snapshot.Timestamp(now),
	}
	var certificateKind *string
	switch in.Type {
	case model.CredentialSemester:
		ref, ok := in.Reference.(model.SemesterRef)
		if !ok {
			return model.Credential{}, badRequest(ErrMissingReference)
		}
		// Locked so a concurrent reopen of the result cannot interleave
		// with the snapshot.
		result, err := q.LockSemesterResult(ctx, ref.SemesterResultID)
		if err != nil {
			return model.Credential{}, lookup(err, ErrSemesterResultNotFound)
		}
		if result.StudentID != student.ID {
			return model.Credential{}, badRequest(ErrReferenceMismatch)
		}
		if result.Status != model.ResultApproved && result.Status != model.ResultIssued {
			return model.Credential{}, badRequest(ErrResultNotApproved)
		}
		courses, err := q.ListCourseResults(ctx, result.ID)
		if err != nil {
			return model.Credential{}, err
		}
		doc.Semester = snapshot.SemesterOf(result, courses)
		doc.Title = fmt.Sprintf("Semester %d Grade Card (%s)", result.Semester, result.AcademicYear)
	case model.CredentialDegree:
		ref, ok := in.Reference.(model.DegreeRef)
		if !ok {
			return model.Credential{}, badRequest(ErrMissingReference)
		}
		proposal, err := q.GetDegreeProposal(ctx, ref.DegreeProposalID)
		if err != nil {
			return model.Credential{}, lookup(err, ErrProposalNotFound)
		}
		if proposal.StudentID != student.ID {
			return model.Credential{}, badRequest(ErrReferenceMismatch)
		}
		if proposal.Status != model.ProposalApproved {
			return model.Credential{}, badRequest(ErrProposalNotApproved)
		}
		doc.Degree = snapshot.DegreeOf(proposal, program)
		doc.Title = program.DegreeName
	case model.CredentialCertificate:
		if _, ok := in.Reference.(model.NoRef); !ok {
			return model.Credential{}, badRequest(ErrUnexpectedReference)
		}
		doc.Certificate = &snapshot.Certificate{
			Kind:           strings.TrimSpace(in.CertificateKind),
			YearsCompleted: in.YearsCompleted,
			Reason:         in.Reason,
		}
		if doc.Certificate.Kind != "" {
			certificateKind = &doc.Certificate.Kind
		}
		doc.Title = "Certificate"
		if doc.Certificate.Kind == IncompleteStudies {
			doc.Title = "Certificate of Incomplete Studies"
		}
	default:
		return model.Credential{}, badRequest(ErrInvalidCredentialType)
	}
	if title := strings.TrimSpace(in.Title); title != "" {
		doc.Title = title
	}
	if in.Type != model.CredentialCertificate {
		if _, err := q.GetCredentialByReference(ctx, in.Reference); err == nil {
			return model.Credential{}, conflict(ErrCredentialExists)
		} else if !errors.Is(err, db.ErrNotFound) {
			return model.Credential{}, err
		}
	}

	data, digest, err := snapshot.Seal(doc)
	if err != nil {
		return model.Credential{}, err
	}
	credential := model.Credential{
		ID:              uuid.New(),
		StudentID:       student.ID,
		Type:            in.Type,
		Reference:       in.Reference,
		CertificateKind: certificateKind,
		Title:           doc.Title,
		Status:          model.CredentialPending,
		Metadata:        data,
		DocumentHash:    digest.Hash,
		MetadataURI:     digest.URI,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := q.CreateCredential(ctx, credential); err != nil {
		if db.IsUniqueViolation(err, db.ConstraintSemesterCredential, db.ConstraintDegreeCredential, db.ConstraintCertificateKind) {
			return model.Credential{}, conflict(ErrCredentialExists)
		}
		return model.Credential{}, err
	}
	return credential, nil
}

// IssueCredential moves a PENDING credential to ISSUED. Degree credentials are
// handed to the mint coordinator.
func (s *Service) IssueCredential(ctx context.Context, actor model.Actor, id uuid.UUID) (model.Credential, error) {
	if err := requireRole(actor, model.RoleAdmin, model.RoleSystem); err != nil {
		return model.Credential{}, err
	}
	var out model.Credential
	err := s.withTx(ctx, func(q db.Queries, events *txEvents) error {
		c, err := q.LockCredential(ctx, id)
		if err != nil {
			return lookup(err, ErrCredentialNotFound)
		}
		if c.Status != model.CredentialPending {
			return badRequest(ErrCredentialNotPending)
		}
		now := s.now()
		c.Status = model.CredentialIssued
		c.IssuedAt = ptr(now)
		c.UpdatedAt = now
		if err := q.UpdateCredentialStatus(ctx, c); err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		out = c
		ref, ok := c.Reference.(model.DegreeRef)
		if !ok || c.Minted() {
			return nil
		}
		return s.emit(ctx, q, events, model.JobFinalizeDegree, model.JobPayload{
			StudentID:        ptr(c.StudentID),
			DegreeProposalID: ptr(ref.DegreeProposalID),
			CredentialID:     ptr(c.ID),
		})
	})
	return out, err
}

type Revocation struct {
	Credential       model.Credential `json:"credential"`
	LinksDeactivated int64            `json:"linksDeactivated"`
}

// RevokeCredential revokes the credential and deactivates every share link
// pointing at it in the same transaction. A minted token is revoked on chain
// afterwards by the coordinator.
func (s *Service) RevokeCredential(ctx context.Context, actor model.Actor, id uuid.UUID, reason string) (Revocation, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return Revocation{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Revocation{}, badRequest(ErrMissingReason)
	}
	var out Revocation
	err := s.withTx(ctx, func(q db.Queries, events *txEvents) error {
		c, err := q.LockCredential(ctx, id)
		if err != nil {
			return lookup(err, ErrCredentialNotFound)
		}
		if c.Status == model.CredentialRevoked {
			return conflict(ErrAlreadyRevoked)
		}
		now := s.now()
		c.Status = model.CredentialRevoked
		c.RevokedAt = ptr(now)
		c.RevokedBy = ptr(actor.ID)
		c.RevocationReason = &reason
		c.UpdatedAt = now
		if err := q.UpdateCredentialStatus(ctx, c); err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		n, err := q.DeactivateShareLinks(ctx, c.ID, now)
		if err != nil {
			return fmt.Errorf("deactivate share links: %w", err)
		}
		out = Revocation{Credential: c, LinksDeactivated: n}
		if !c.Minted() {
			return nil
		}
		return s.emit(ctx, q, events, model.JobRevokeCredentialMint, model.JobPayload{
			StudentID:    ptr(c.StudentID),
			CredentialID: ptr(c.ID),
			Reason:       reason,
		})
	})
	return out, err
}

func (s *Service) GetCredential(ctx context.Context, id uuid.UUID) (model.Credential, error) {
	c, err := s.store.Queries().GetCredential(ctx, id)
	return c, lookup(err, ErrCredentialNotFound)
}

func (s *Service) ListCredentials(ctx context.Context, studentID uuid.UUID) ([]model.Credential, error) {
	q := s.store.Queries()
	if _, err := q.GetStudent(ctx, studentID); err != nil {
		return nil, lookup(err, ErrStudentNotFound)
	}
	return q.ListCredentials(ctx, studentID)
}

// Verification reports whether a credential's stored snapshot still matches
// its hash and, once minted, what the contract says about the token.
type Verification struct {
	Credential   model.Credential  `json:"credential"`
	Document     snapshot.Document `json:"document"`
	HashMatches  bool              `json:"hashMatches"`
	ChainChecked bool              `json:"chainChecked"`
	ChainMatches bool              `json:"chainMatches"`
	ChainRevoked bool              `json:"chainRevoked"`
	ChainError   string            `json:"chainError,omitempty"`
	Valid        bool              `json:"valid"`
}

func (s *Service) VerifyCredential(ctx context.Context, id uuid.UUID) (Verification, error) {
	c, err := s.store.Queries().GetCredential(ctx, id)
	if err != nil {
		return Verification{}, lookup(err, ErrCredentialNotFound)
	}
	return s.verify(ctx, c)
}

func (s *Service) verify(ctx context.Context, c model.Credential) (Verification, error) {
	v := Verification{Credential: c}
	doc, err := snapshot.Decode(c.Metadata)
	if err != nil {
		return Verification{}, fmt.Errorf("decode snapshot %s: %w", c.ID, err)
	}
	v.Document = doc
	digest, err := snapshot.DigestOf(c.Metadata)
	if err != nil {
		return Verification{}, err
	}
	v.HashMatches = digest.Hash == c.DocumentHash
	if c.Minted() && s.tokens != nil {
		if err := s.checkChain(ctx, c, digest, &v); err != nil {
			v.ChainError = err.Error()
		}
	}
	v.Valid = c.Status == model.CredentialIssued && v.HashMatches &&
		(!v.ChainChecked || (v.ChainMatches && !v.ChainRevoked))
	return v, nil
}

func (s *Service) checkChain(ctx context.Context, c model.Credential, digest snapshot.Digest, v *Verification) error {
	anchored, err := s.tokens.GetDocumentHash(ctx, c.Chain.TokenID)
	if err != nil {
		return err
	}
	revoked, err := s.tokens.IsRevoked(ctx, c.Chain.TokenID)
	if err != nil {
		return err
	}
	v.ChainChecked = true
	v.ChainMatches = anchored == digest.Sum
	v.ChainRevoked = revoked
	return nil
}
