package http

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"semaphore/credentials/internal/auth"
	"semaphore/credentials/internal/config"
	"semaphore/credentials/internal/jobs"
	"semaphore/credentials/internal/model"
	"semaphore/credentials/internal/operations"
)

type Server struct {
	cfg          config.Config
	svc          *operations.Service
	queue        jobs.Queue
	jwtPublicKey *rsa.PublicKey
	validate     *validator.Validate
}

func NewServer(cfg config.Config, svc *operations.Service, queue jobs.Queue) (*Server, error) {
	publicKey, err := auth.ParseRSAPublicKey(cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:          cfg,
		svc:          svc,
		queue:        queue,
		jwtPublicKey: publicKey,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/share/{token}", s.handleResolveShareLink)
	r.Get("/verify/{credentialId}", s.handleVerifyCredential)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/programs", s.handleCreateProgram)
		r.Post("/programs/{programId}/courses", s.handleCreateCourse)

		r.Post("/students", s.handleRegisterStudent)
		r.Post("/students/bulk", s.handleBulkRegisterStudents)
		r.Get("/students/{studentId}", s.handleGetStudent)
		r.Post("/students/{studentId}/exit", s.handleStudentExit)
		r.Get("/students/{studentId}/eligibility", s.handleEligibility)
		r.Get("/students/{studentId}/results", s.handleListResults)
		r.Get("/students/{studentId}/credentials", s.handleListCredentials)

		r.Post("/results", s.handleCreateResult)
		r.Post("/results/bulk", s.handleBulkImportResults)
		r.Get("/results/{resultId}", s.handleGetResult)
		r.Post("/results/{resultId}/transition", s.handleTransitionResult)
		r.Patch("/course-results/{courseResultId}", s.handleUpdateCourseResult)

		r.Post("/degree-proposals", s.handleCreateProposal)
		r.Get("/degree-proposals/{proposalId}", s.handleGetProposal)
		r.Post("/degree-proposals/{proposalId}/review", s.handleReviewProposal)
		r.Post("/degree-proposals/{proposalId}/approve", s.handleApproveProposal)

		r.Post("/credentials", s.handleCreateCredential)
		r.Get("/credentials/{credentialId}", s.handleGetCredential)
		r.Post("/credentials/{credentialId}/issue", s.handleIssueCredential)
		r.Post("/credentials/{credentialId}/revoke", s.handleRevokeCredential)
		r.Get("/credentials/{credentialId}/share-links", s.handleListShareLinks)
		r.Post("/credentials/{credentialId}/share-links", s.handleCreateShareLink)
		r.Delete("/share-links/{shareLinkId}", s.handleDeactivateShareLink)

		r.With(s.requireRole(model.RoleAdmin)).Get("/admin/jobs/dead", s.handleListDeadJobs)
		r.With(s.requireRole(model.RoleAdmin)).Post("/admin/jobs/dead/requeue", s.handleRequeueDeadJobs)
	})

	return r
}

type actorKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.jwtPublicKey, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		actor, err := claims.Actor()
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !actorFromContext(r.Context()).HasRole(roles...) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFromContext(ctx context.Context) model.Actor {
	actor, _ := ctx.Value(actorKey{}).(model.Actor)
	return actor
}

// decode reads a JSON body into req and runs its validate tags. It writes the
// 400 response itself and reports whether the handler should go on.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := decodeJSON(r, req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":   "invalid_request",
				"details": strings.Join(fields, ","),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	if val := r.URL.Query().Get(name); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// writeOpError maps domain error kinds to statuses. Anything unclassified is
// logged and hidden behind server_error.
func writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	switch operations.KindOf(err) {
	case operations.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case operations.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	case operations.KindBadRequest:
		writeError(w, http.StatusBadRequest, err.Error())
	case operations.KindForbidden:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		log.Printf("http %s %s error: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
