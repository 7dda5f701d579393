package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"encore/internal/db"
	"encore/internal/schedule"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

// Jobs is the scheduler surface exposed to operators.
type Jobs interface {
	Status(ctx context.Context) ([]schedule.JobStatus, error)
	RunNow(ctx context.Context, name string) (schedule.Run, error)
}

type Server struct {
	jobs      Jobs
	tokenHash []byte
	log       *slog.Logger
	mux       *chi.Mux
}

// New builds the admin router. tokenHash is a bcrypt hash of the operator
// bearer token.
func New(jobs Jobs, tokenHash string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		jobs:      jobs,
		tokenHash: []byte(strings.TrimSpace(tokenHash)),
		log:       logger,
		mux:       chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/jobs", s.handleJobsList)
		r.Post("/jobs/{name}/run", s.handleJobRun)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if len(s.tokenHash) == 0 || bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleJobsList(w http.ResponseWriter, r *http.Request) {
	out, err := s.jobs.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

type runRequest struct {
	Reason string `json:"reason"`
}

type runResponse struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	var req runRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.log.Info("operator job run", "job", name, "reason", req.Reason, "request_id", middleware.GetReqID(r.Context()))

	run, err := s.jobs.RunNow(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := runResponse{
		ID:         run.ID,
		Job:        run.Job,
		Started:    run.Started,
		DurationMS: run.Duration.Milliseconds(),
		OK:         run.OK(),
	}
	if run.Err != nil {
		resp.Error = run.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrNotLeader):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
