package http

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/operations"
)

type courseEntryRequest struct {
	CourseID      *uuid.UUID `json:"courseId"`
	CourseCode    string     `json:"courseCode" validate:"max=32"`
	InternalMarks *float64   `json:"internalMarks" validate:"omitempty,gte=0,lte=100"`
	ExternalMarks *float64   `json:"externalMarks" validate:"omitempty,gte=0,lte=100"`
	TotalMarks    *float64   `json:"totalMarks" validate:"omitempty,gte=0,lte=100"`
	Grade         string     `json:"grade" validate:"max=3"`
}

func (req courseEntryRequest) entry() operations.CourseEntry {
	return operations.CourseEntry{
		CourseID:      req.CourseID,
		CourseCode:    req.CourseCode,
		InternalMarks: req.InternalMarks,
		ExternalMarks: req.ExternalMarks,
		TotalMarks:    req.TotalMarks,
		Grade:         strings.ToUpper(strings.TrimSpace(req.Grade)),
	}
}

func entries(reqs []courseEntryRequest) []operations.CourseEntry {
	out := make([]operations.CourseEntry, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req.entry())
	}
	return out
}

type resultRequest struct {
	StudentID    uuid.UUID            `json:"studentId" validate:"required"`
	Semester     int                  `json:"semester" validate:"required,gte=1,lte=20"`
	AcademicYear string               `json:"academicYear" validate:"required,max=16"`
	Courses      []courseEntryRequest `json:"courses" validate:"required,min=1,dive"`
}

type resultRowRequest struct {
	EnrollmentNumber string               `json:"enrollmentNumber"`
	Semester         int                  `json:"semester"`
	AcademicYear     string               `json:"academicYear"`
	Courses          []courseEntryRequest `json:"courses"`
}

type bulkResultsRequest struct {
	Rows []resultRowRequest `json:"rows" validate:"required,min=1,max=1000"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=DRAFT REVIEWED APPROVED ISSUED WITHHELD"`
	Note   string `json:"note" validate:"max=1000"`
}

func (s *Server) handleCreateResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.svc.CreateSemesterResult(r.Context(), actorFromContext(r.Context()), operations.SemesterResultInput{
		StudentID:    req.StudentID,
		Semester:     req.Semester,
		AcademicYear: req.AcademicYear,
		Courses:      entries(req.Courses),
	})
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleBulkImportResults(w http.ResponseWriter, r *http.Request) {
	var req bulkResultsRequest
	if !s.decode(w, r, &req) {
		return
	}
	rows := make([]operations.ResultRow, 0, len(req.Rows))
	for _, row := range req.Rows {
		rows = append(rows, operations.ResultRow{
			EnrollmentNumber: row.EnrollmentNumber,
			Semester:         row.Semester,
			AcademicYear:     row.AcademicYear,
			Courses:          entries(row.Courses),
		})
	}
	report, err := s.svc.BulkImportResults(r.Context(), actorFromContext(r.Context()), rows)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	resultID, ok := pathUUID(w, r, "resultId", "invalid_result_id")
	if !ok {
		return
	}
	result, err := s.svc.GetSemesterResult(r.Context(), resultID)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathUUID(w, r, "studentId", "invalid_student_id")
	if !ok {
		return
	}
	var status *model.ResultStatus
	if val := r.URL.Query().Get("status"); val != "" {
		parsed := model.ResultStatus(strings.ToUpper(val))
		status = &parsed
	}
	results, err := s.svc.ListSemesterResults(r.Context(), studentID, status)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleTransitionResult(w http.ResponseWriter, r *http.Request) {
	resultID, ok := pathUUID(w, r, "resultId", "invalid_result_id")
	if !ok {
		return
	}
	var req transitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.svc.TransitionResult(r.Context(), actorFromContext(r.Context()), resultID, model.ResultStatus(req.Status), req.Note)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateCourseResult(w http.ResponseWriter, r *http.Request) {
	courseResultID, ok := pathUUID(w, r, "courseResultId", "invalid_course_result_id")
	if !ok {
		return
	}
	var req courseEntryRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.svc.UpdateCourseResult(r.Context(), actorFromContext(r.Context()), courseResultID, req.entry())
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
