package http

import (
	"net/http"

	"github.com/google/uuid"

	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/operations"
)

type programRequest struct {
	Code              string `json:"code" validate:"required,max=32"`
	Name              string `json:"name" validate:"required,max=200"`
	DegreeName        string `json:"degreeName" validate:"required,max=200"`
	RequiredCredits   int    `json:"requiredCredits" validate:"gte=0"`
	RequiredSemesters int    `json:"requiredSemesters" validate:"gte=0,lte=20"`
}

type courseRequest struct {
	Code    string `json:"code" validate:"required,max=32"`
	Name    string `json:"name" validate:"required,max=200"`
	Credits int    `json:"credits" validate:"gte=0,lte=60"`
}

type studentRequest struct {
	ProgramID        uuid.UUID `json:"programId" validate:"required"`
	EnrollmentNumber string    `json:"enrollmentNumber" validate:"required,max=64"`
	FirstName        string    `json:"firstName" validate:"required,max=100"`
	LastName         string    `json:"lastName" validate:"max=100"`
	Email            string    `json:"email" validate:"omitempty,email"`
	WalletAddress    string    `json:"walletAddress" validate:"omitempty,eth_addr"`
	AdmissionYear    int       `json:"admissionYear" validate:"required,gte=1900,lte=2200"`
	CurrentSemester  int       `json:"currentSemester" validate:"gte=0,lte=20"`
}

func (req studentRequest) input() operations.StudentInput {
	return operations.StudentInput{
		ProgramID:        req.ProgramID,
		EnrollmentNumber: req.EnrollmentNumber,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		WalletAddress:    req.WalletAddress,
		AdmissionYear:    req.AdmissionYear,
		CurrentSemester:  req.CurrentSemester,
	}
}

// Rows are not validated up front: a bad row shows up in the report instead
// of failing the whole batch.
type bulkStudentsRequest struct {
	Students []studentRequest `json:"students" validate:"required,min=1,max=1000"`
}

type exitRequest struct {
	Status string `json:"status" validate:"required,oneof=DROPPED_OUT EARLY_EXIT"`
	Reason string `json:"reason" validate:"required,max=500"`
}

func (s *Server) handleCreateProgram(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if !s.decode(w, r, &req) {
		return
	}
	program, err := s.svc.CreateProgram(r.Context(), actorFromContext(r.Context()), operations.ProgramInput{
		Code:              req.Code,
		Name:              req.Name,
		DegreeName:        req.DegreeName,
		RequiredCredits:   req.RequiredCredits,
		RequiredSemesters: req.RequiredSemesters,
	})
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, program)
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	programID, ok := pathUUID(w, r, "programId", "invalid_program_id")
	if !ok {
		return
	}
	var req courseRequest
	if !s.decode(w, r, &req) {
		return
	}
	course, err := s.svc.CreateCourse(r.Context(), actorFromContext(r.Context()), operations.CourseInput{
		ProgramID: programID,
		Code:      req.Code,
		Name:      req.Name,
		Credits:   req.Credits,
	})
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

func (s *Server) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	var req studentRequest
	if !s.decode(w, r, &req) {
		return
	}
	student, err := s.svc.RegisterStudent(r.Context(), actorFromContext(r.Context()), req.input())
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

func (s *Server) handleBulkRegisterStudents(w http.ResponseWriter, r *http.Request) {
	var req bulkStudentsRequest
	if !s.decode(w, r, &req) {
		return
	}
	rows := make([]operations.StudentInput, 0, len(req.Students))
	for _, row := range req.Students {
		rows = append(rows, row.input())
	}
	report, err := s.svc.BulkRegisterStudents(r.Context(), actorFromContext(r.Context()), rows)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathUUID(w, r, "studentId", "invalid_student_id")
	if !ok {
		return
	}
	student, err := s.svc.GetStudent(r.Context(), studentID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

func (s *Server) handleStudentExit(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathUUID(w, r, "studentId", "invalid_student_id")
	if !ok {
		return
	}
	var req exitRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.svc.MarkStudentExit(r.Context(), actorFromContext(r.Context()), studentID, model.StudentStatus(req.Status), req.Reason)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathUUID(w, r, "studentId", "invalid_student_id")
	if !ok {
		return
	}
	eligibility, err := s.svc.CheckEligibility(r.Context(), studentID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}
