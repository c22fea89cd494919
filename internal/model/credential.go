package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ResultStatus string

const (
	ResultDraft    ResultStatus = "DRAFT"
	ResultReviewed ResultStatus = "REVIEWED"
	ResultApproved ResultStatus = "APPROVED"
	ResultIssued   ResultStatus = "ISSUED"
	ResultWithheld ResultStatus = "WITHHELD"
)

type CredentialType string

const (
	CredentialSemester    CredentialType = "SEMESTER"
	CredentialDegree      CredentialType = "DEGREE"
	CredentialCertificate CredentialType = "CERTIFICATE"
)

type CredentialStatus string

const (
	CredentialPending CredentialStatus = "PENDING"
	CredentialIssued  CredentialStatus = "ISSUED"
	CredentialRevoked CredentialStatus = "REVOKED"
)

// Reference is what a credential wraps. Exactly one of SemesterRef, DegreeRef
// or NoRef; the unexported method keeps the set closed.
type Reference interface {
	reference()
}

type SemesterRef struct {
	SemesterResultID uuid.UUID
}

type DegreeRef struct {
	DegreeProposalID uuid.UUID
}

type NoRef struct{}

func (SemesterRef) reference() {}
func (DegreeRef) reference()   {}
func (NoRef) reference()       {}

// ReferenceIDs flattens a reference into the two nullable storage columns.
func ReferenceIDs(ref Reference) (semesterResultID, degreeProposalID *uuid.UUID) {
	switch r := ref.(type) {
	case SemesterRef:
		id := r.SemesterResultID
		return &id, nil
	case DegreeRef:
		id := r.DegreeProposalID
		return nil, &id
	}
	return nil, nil
}

// ReferenceFromIDs is the inverse of ReferenceIDs.
func ReferenceFromIDs(semesterResultID, degreeProposalID *uuid.UUID) Reference {
	switch {
	case semesterResultID != nil:
		return SemesterRef{SemesterResultID: *semesterResultID}
	case degreeProposalID != nil:
		return DegreeRef{DegreeProposalID: *degreeProposalID}
	}
	return NoRef{}
}

type Credential struct {
	ID               uuid.UUID        `json:"id"`
	StudentID        uuid.UUID        `json:"studentId"`
	Type             CredentialType   `json:"type"`
	Reference        Reference        `json:"-"`
	CertificateKind  *string          `json:"certificateKind,omitempty"`
	Title            string           `json:"title"`
	Status           CredentialStatus `json:"status"`
	Metadata         []byte           `json:"-"`
	DocumentHash     string           `json:"documentHash"`
	MetadataURI      string           `json:"metadataUri"`
	Chain            *ChainRecord     `json:"chain,omitempty"`
	IssuedAt         *time.Time       `json:"issuedAt,omitempty"`
	RevokedAt        *time.Time       `json:"revokedAt,omitempty"`
	RevokedBy        *uuid.UUID       `json:"revokedBy,omitempty"`
	RevocationReason *string          `json:"revocationReason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func (c Credential) Minted() bool {
	return c.Chain != nil && c.Chain.TokenID != ""
}

// MarshalJSON renders the reference as the two id fields clients filter on.
func (c Credential) MarshalJSON() ([]byte, error) {
	type plain Credential
	semesterResultID, degreeProposalID := ReferenceIDs(c.Reference)
	return json.Marshal(struct {
		plain
		SemesterResultID *uuid.UUID `json:"semesterResultId,omitempty"`
		DegreeProposalID *uuid.UUID `json:"degreeProposalId,omitempty"`
	}{plain(c), semesterResultID, degreeProposalID})
}

type Role string

const (
	RoleFaculty  Role = "FACULTY"
	RoleAcademic Role = "ACADEMIC"
	RoleAdmin    Role = "ADMIN"
	RoleStudent  Role = "STUDENT"
	RoleSystem   Role = "SYSTEM"
)

type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor is the identity background workers act under.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

func (a Actor) HasRole(roles ...Role) bool {
	for _, role := range roles {
		if a.Role == role {
			return true
		}
	}
	return false
}
