package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/operations"
)

type proposalRequest struct {
	StudentID uuid.UUID `json:"studentId" validate:"required"`
}

type decisionRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note" validate:"max=1000"`
}

type credentialRequest struct {
	StudentID        uuid.UUID  `json:"studentId" validate:"required"`
	Type             string     `json:"type" validate:"required,oneof=SEMESTER DEGREE CERTIFICATE"`
	SemesterResultID *uuid.UUID `json:"semesterResultId" validate:"excluded_with=DegreeProposalID"`
	DegreeProposalID *uuid.UUID `json:"degreeProposalId"`
	CertificateKind  string     `json:"certificateKind" validate:"max=64"`
	Title            string     `json:"title" validate:"max=200"`
	YearsCompleted   int        `json:"yearsCompleted" validate:"gte=0,lte=10"`
	Reason           string     `json:"reason" validate:"max=500"`
}

type revokeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type shareLinkRequest struct {
	TTLSeconds int `json:"ttlSeconds" validate:"gte=0,lte=31536000"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	proposal, err := s.svc.CreateDegreeProposal(r.Context(), actorFromContext(r.Context()), req.StudentID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathUUID(w, r, "proposalId", "invalid_proposal_id")
	if !ok {
		return
	}
	proposal, err := s.svc.GetDegreeProposal(r.Context(), proposalID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleReviewProposal(w http.ResponseWriter, r *http.Request) {
	s.decideProposal(w, r, s.svc.ReviewDegreeProposal)
}

func (s *Server) handleApproveProposal(w http.ResponseWriter, r *http.Request) {
	s.decideProposal(w, r, s.svc.ApproveDegreeProposal)
}

type decideFunc func(ctx context.Context, actor model.Actor, id uuid.UUID, d operations.Decision) (model.DegreeProposal, error)

func (s *Server) decideProposal(w http.ResponseWriter, r *http.Request, decide decideFunc) {
	proposalID, ok := pathUUID(w, r, "proposalId", "invalid_proposal_id")
	if !ok {
		return
	}
	var req decisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	proposal, err := decide(r.Context(), actorFromContext(r.Context()), proposalID, operations.Decision{Approve: *req.Approve, Note: req.Note})
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !s.decode(w, r, &req) {
		return
	}
	credential, err := s.svc.CreateCredential(r.Context(), actorFromContext(r.Context()), operations.CredentialInput{
		StudentID:       req.StudentID,
		Type:            model.CredentialType(req.Type),
		Reference:       model.ReferenceFromIDs(req.SemesterResultID, req.DegreeProposalID),
		CertificateKind: req.CertificateKind,
		Title:           req.Title,
		YearsCompleted:  req.YearsCompleted,
		Reason:          req.Reason,
	})
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, credential)
}

func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := pathUUID(w, r, "credentialId", "invalid_credential_id")
	if !ok {
		return
	}
	credential, err := s.svc.GetCredential(r.Context(), credentialID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credential)
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathUUID(w, r, "studentId", "invalid_student_id")
	if !ok {
		return
	}
	credentials, err := s.svc.ListCredentials(r.Context(), studentID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentials)
}

func (s *Server) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := pathUUID(w, r, "credentialId", "invalid_credential_id")
	if !ok {
		return
	}
	credential, err := s.svc.IssueCredential(r.Context(), actorFromContext(r.Context()), credentialID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credential)
}

func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := pathUUID(w, r, "credentialId", "invalid_credential_id")
	if !ok {
		return
	}
	var req revokeRequest
	if !s.decode(w, r, &req) {
		return
	}
	revocation, err := s.svc.RevokeCredential(r.Context(), actorFromContext(r.Context()), credentialID, req.Reason)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revocation)
}

func (s *Server) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := pathUUID(w, r, "credentialId", "invalid_credential_id")
	if !ok {
		return
	}
	verification, err := s.svc.VerifyCredential(r.Context(), credentialID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

func (s *Server) handleCreateShareLink(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := pathUUID(w, r, "credentialId", "invalid_credential_id")
	if !ok {
		return
	}
	var req shareLinkRequest
	if !s.decode(w, r, &req) {
		return
	}
	link, err := s.svc.CreateShareLink(r.Context(), actorFromContext(r.Context()), credentialID, seconds(req.TTLSeconds))
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleListShareLinks(w http.ResponseWriter, r *http.Request) {
	credentialID, ok := pathUUID(w, r, "credentialId", "invalid_credential_id")
	if !ok {
		return
	}
	links, err := s.svc.ListShareLinks(r.Context(), credentialID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) handleDeactivateShareLink(w http.ResponseWriter, r *http.Request) {
	linkID, ok := pathUUID(w, r, "shareLinkId", "invalid_share_link_id")
	if !ok {
		return
	}
	link, err := s.svc.DeactivateShareLink(r.Context(), actorFromContext(r.Context()), linkID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleResolveShareLink(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token")
		return
	}
	verification, err := s.svc.ResolveShareLink(r.Context(), token)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}
