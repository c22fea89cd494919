package model

import (
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobSyncStudent          JobKind = "sync_student"
	JobSyncSemesterResult   JobKind = "sync_semester_result"
	JobFinalizeDegree       JobKind = "finalize_degree"
	JobIncompleteStudies    JobKind = "issue_incomplete_certificate"
	JobRevokeCredentialMint JobKind = "revoke_credential_token"
)

// JobPayload carries ids only; consumers re-resolve everything else from
// storage so a redelivered job sees current state.
type JobPayload struct {
	StudentID        *uuid.UUID `json:"studentId,omitempty"`
	SemesterResultID *uuid.UUID `json:"semesterResultId,omitempty"`
	DegreeProposalID *uuid.UUID `json:"degreeProposalId,omitempty"`
	CredentialID     *uuid.UUID `json:"credentialId,omitempty"`
	YearsCompleted   int        `json:"yearsCompleted,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

// OutboxEvent is written in the same transaction as the state change that
// produced it and relayed to the job queue afterwards.
type OutboxEvent struct {
	ID           uuid.UUID  `json:"id"`
	Kind         JobKind    `json:"kind"`
	Payload      JobPayload `json:"payload"`
	CreatedAt    time.Time  `json:"createdAt"`
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
}

func NewOutboxEvent(kind JobKind, payload JobPayload, now time.Time) OutboxEvent {
	return OutboxEvent{ID: uuid.New(), Kind: kind, Payload: payload, CreatedAt: now}
}
