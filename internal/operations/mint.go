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

// MintRequest is everything the contract's mint entry point needs.
type MintRequest struct {
	Recipient    string
	TokenURI     string
	DocumentHash [32]byte
}

// PrepareStudentMint builds the identity token request for a student. It
// returns ok=false when the student already holds a token.
func (s *Service) PrepareStudentMint(ctx context.Context, studentID uuid.UUID) (MintRequest, bool, error) {
	q := s.store.Queries()
	student, err := q.GetStudent(ctx, studentID)
	if err != nil {
		return MintRequest{}, false, lookup(err, ErrStudentNotFound)
	}
	if student.Token != nil {
		return MintRequest{}, false, nil
	}
	if strings.TrimSpace(student.WalletAddress) == "" {
		return MintRequest{}, false, badRequest(ErrMissingWallet)
	}
	program, err := q.GetProgram(ctx, student.ProgramID)
	if err != nil {
		return MintRequest{}, false, lookup(err, ErrProgramNotFound)
	}
	_, digest, err := snapshot.Seal(snapshot.Document{
		Institution: s.institution,
		Type:        snapshot.StudentRecord,
		Title:       "Student Record",
		Student:     snapshot.StudentOf(student, program),
		CreatedAt:   snapshot.Timestamp(student.CreatedAt),
	})
	if err != nil {
		return MintRequest{}, false, err
	}
	return MintRequest{Recipient: student.WalletAddress, TokenURI: digest.URI, DocumentHash: digest.Sum}, true, nil
}

// RecordStudentMint stores the identity token. It reports false if the
// student already had one.
func (s *Service) RecordStudentMint(ctx context.Context, studentID uuid.UUID, record model.ChainRecord) (bool, error) {
	var stored bool
	err := s.withTx(ctx, func(q db.Queries, _ *txEvents) error {
		var err error
		stored, err = q.SetStudentToken(ctx, studentID, record, s.now())
		return err
	})
	return stored, err
}

// ensure returns the credential found by find, or creates it. A concurrent
// creator winning the unique constraint is resolved by reading its row.
func (s *Service) ensure(ctx context.Context, find func(db.Queries) (model.Credential, error), in CredentialInput) (model.Credential, error) {
	q := s.store.Queries()
	c, err := find(q)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return model.Credential{}, err
	}
	err = s.withTx(ctx, func(tx db.Queries, _ *txEvents) error {
		c, err = s.createCredential(ctx, tx, in)
		return err
	})
	if IsCode(err, ErrCredentialExists) {
		return find(q)
	}
	return c, err
}

// EnsureSemesterCredential returns the credential of an approved semester
// result, creating it on first use.
func (s *Service) EnsureSemesterCredential(ctx context.Context, semesterResultID uuid.UUID) (model.Credential, error) {
	result, err := s.store.Queries().GetSemesterResult(ctx, semesterResultID)
	if err != nil {
		return model.Credential{}, lookup(err, ErrSemesterResultNotFound)
	}
	ref := model.SemesterRef{SemesterResultID: semesterResultID}
	return s.ensure(ctx, func(q db.Queries) (model.Credential, error) {
		return q.GetCredentialByReference(ctx, ref)
	}, CredentialInput{StudentID: result.StudentID, Type: model.CredentialSemester, Reference: ref})
}

// EnsureDegreeCredential returns the credential of an approved degree
// proposal, creating it on first use.
func (s *Service) EnsureDegreeCredential(ctx context.Context, degreeProposalID uuid.UUID) (model.Credential, error) {
	proposal, err := s.store.Queries().GetDegreeProposal(ctx, degreeProposalID)
	if err != nil {
		return model.Credential{}, lookup(err, ErrProposalNotFound)
	}
	ref := model.DegreeRef{DegreeProposalID: degreeProposalID}
	return s.ensure(ctx, func(q db.Queries) (model.Credential, error) {
		return q.GetCredentialByReference(ctx, ref)
	}, CredentialInput{StudentID: proposal.StudentID, Type: model.CredentialDegree, Reference: ref})
}

func (s *Service) EnsureIncompleteCertificate(ctx context.Context, studentID uuid.UUID, yearsCompleted int, reason string) (model.Credential, error) {
	if yearsCompleted < 1 {
		return model.Credential{}, badRequest(ErrInvalidInput)
	}
	return s.ensure(ctx, func(q db.Queries) (model.Credential, error) {
		return q.GetCertificateCredential(ctx, studentID, IncompleteStudies)
	}, CredentialInput{
		StudentID:       studentID,
		Type:            model.CredentialCertificate,
		Reference:       model.NoRef{},
		CertificateKind: IncompleteStudies,
		YearsCompleted:  yearsCompleted,
		Reason:          reason,
	})
}

// PrepareCredentialMint builds the mint request for a credential from its
// stored hash and URI. It returns ok=false when there is nothing to mint.
func (s *Service) PrepareCredentialMint(ctx context.Context, credentialID uuid.UUID) (MintRequest, bool, error) {
	q := s.store.Queries()
	c, err := q.GetCredential(ctx, credentialID)
	if err != nil {
		return MintRequest{}, false, lookup(err, ErrCredentialNotFound)
	}
	if c.Minted() || c.Status == model.CredentialRevoked {
		return MintRequest{}, false, nil
	}
	student, err := q.GetStudent(ctx, c.StudentID)
	if err != nil {
		return MintRequest{}, false, lookup(err, ErrStudentNotFound)
	}
	if strings.TrimSpace(student.WalletAddress) == "" {
		return MintRequest{}, false, badRequest(ErrMissingWallet)
	}
	hash, err := snapshot.ParseHash(c.DocumentHash)
	if err != nil {
		return MintRequest{}, false, fmt.Errorf("credential %s hash: %w", c.ID, err)
	}
	return MintRequest{Recipient: student.WalletAddress, TokenURI: c.MetadataURI, DocumentHash: hash}, true, nil
}

// RecordMint writes the chain record back in one transaction. A pending
// credential becomes ISSUED, and an approved semester result it wraps
// advances to ISSUED as the system actor. If the credential was revoked while
// the mint was in flight, the fresh token is scheduled for revocation. It
// reports false if a token was already recorded.
func (s *Service) RecordMint(ctx context.Context, credentialID uuid.UUID, record model.ChainRecord) (bool, error) {
	var stored bool
	err := s.withTx(ctx, func(q db.Queries, events *txEvents) error {
		c, err := q.LockCredential(ctx, credentialID)
		if err != nil {
			return lookup(err, ErrCredentialNotFound)
		}
		if c.Minted() {
			return nil
		}
		if stored, err = q.RecordCredentialMint(ctx, c.ID, record, s.now()); err != nil || !stored {
			return err
		}
		if c.Status == model.CredentialRevoked {
			reason := ""
			if c.RevocationReason != nil {
				reason = *c.RevocationReason
			}
			return s.emit(ctx, q, events, model.JobRevokeCredentialMint, model.JobPayload{
				StudentID:    ptr(c.StudentID),
				CredentialID: ptr(c.ID),
				Reason:       reason,
			})
		}
		ref, ok := c.Reference.(model.SemesterRef)
		if !ok {
			return nil
		}
		result, err := q.LockSemesterResult(ctx, ref.SemesterResultID)
		if err != nil {
			return lookup(err, ErrSemesterResultNotFound)
		}
		if result.Status != model.ResultApproved {
			return nil
		}
		next, err := s.applyTransition(model.SystemActor, result, model.ResultIssued, "")
		if err != nil {
			return err
		}
		return q.UpdateSemesterResult(ctx, next)
	})
	return stored, err
}

// RevocationTarget returns the token to revoke on chain for a revoked
// credential. ok is false when the credential is not revoked or never minted.
func (s *Service) RevocationTarget(ctx context.Context, credentialID uuid.UUID) (tokenID string, reason string, ok bool, err error) {
	c, err := s.store.Queries().GetCredential(ctx, credentialID)
	if err != nil {
		return "", "", false, lookup(err, ErrCredentialNotFound)
	}
	if c.Status != model.CredentialRevoked || !c.Minted() {
		return "", "", false, nil
	}
	if c.RevocationReason != nil {
		reason = *c.RevocationReason
	}
	return c.Chain.TokenID, reason, true, nil
}
