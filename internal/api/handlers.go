package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/domain"
	"github.com/SirClappington/finsight/internal/storage"
)

const defaultQuery = "Provide comprehensive financial analysis of the submitted document"

var pdfMagic = []byte("%PDF")

type Store interface {
	InsertJob(ctx context.Context, p *storage.InsertJobParams) (string, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	StageResults(ctx context.Context, jobID string) ([]domain.StageResult, error)
	LogAudit(ctx context.Context, jobID, action, status, details string) error
}

type Queue interface {
	Enqueue(ctx context.Context, queue, jobID string) error
}

type Config struct {
	DataDir                string
	MaxUploadBytes         int64
	AnalysisMaxRetries     int
	VerificationMaxRetries int
}

type Handler struct {
	cfg      Config
	store    Store
	queue    Queue
	validate *validator.Validate
	log      *zap.SugaredLogger
}

func NewHandler(cfg Config, store Store, queue Queue, log *zap.SugaredLogger) *Handler {
	return &Handler{cfg: cfg, store: store, queue: queue, validate: validator.New(), log: log}
}

func (h *Handler) Routes() chi.Router {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)

	rtr.Post("/v1/analyses", h.submit(domain.TypeAnalysis))
	rtr.Post("/v1/verifications", h.submit(domain.TypeVerification))
	rtr.Get("/v1/analyses/{id}", h.status)
	rtr.Get("/healthz", h.health)
	return rtr
}

type submitForm struct {
	Query string `validate:"max=4000"`
}

type submitResponse struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
}

// submit accepts a multipart upload, validates it, persists the file
// under a fresh document ref, records the job as queued and enqueues
// it. The job id is returned immediately; any eventual failure is
// observable only through the status endpoint.
func (h *Handler) submit(jobType domain.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
			h.renderError(w, r, http.StatusBadRequest, "invalid multipart request")
			return
		}
		query := strings.TrimSpace(r.FormValue("query"))
		if query == "" {
			query = defaultQuery
		}
		if err := h.validate.Struct(submitForm{Query: query}); err != nil {
			h.renderError(w, r, http.StatusBadRequest, "query too long")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			h.renderError(w, r, http.StatusBadRequest, "no file provided")
			return
		}
		defer file.Close()

		if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
			h.renderError(w, r, http.StatusBadRequest, "only PDF files are supported")
			return
		}

		content, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
		if err != nil {
			h.renderError(w, r, http.StatusBadRequest, "could not read upload")
			return
		}
		if int64(len(content)) > h.cfg.MaxUploadBytes {
			h.renderError(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file size exceeds maximum allowed size of %d bytes", h.cfg.MaxUploadBytes))
			return
		}
		if !bytes.HasPrefix(content, pdfMagic) {
			h.renderError(w, r, http.StatusBadRequest, "uploaded file is not a valid PDF")
			return
		}

		ref := filepath.Join(h.cfg.DataDir, "financial_document_"+uuid.NewString()+".pdf")
		if err := os.MkdirAll(h.cfg.DataDir, 0o755); err != nil {
			h.renderError(w, r, http.StatusInternalServerError, "could not store upload")
			return
		}
		if err := os.WriteFile(ref, content, 0o644); err != nil {
			h.log.Errorw("write upload failed", "ref", ref, "error", err)
			h.renderError(w, r, http.StatusInternalServerError, "could not store upload")
			return
		}

		maxAttempts := h.cfg.AnalysisMaxRetries
		if jobType == domain.TypeVerification {
			maxAttempts = h.cfg.VerificationMaxRetries
		}
		jobID, err := h.store.InsertJob(r.Context(), &storage.InsertJobParams{
			Type:        jobType,
			Query:       query,
			DocumentRef: ref,
			Filename:    header.Filename,
			MaxAttempts: maxAttempts,
			Queue:       jobType.Queue(),
		})
		if err != nil {
			h.log.Errorw("insert job failed", "error", err)
			h.renderError(w, r, http.StatusInternalServerError, "could not create job")
			return
		}
		if err := h.queue.Enqueue(r.Context(), jobType.Queue(), jobID); err != nil {
			h.log.Errorw("enqueue failed", "job_id", jobID, "error", err)
			h.renderError(w, r, http.StatusInternalServerError, "could not enqueue job")
			return
		}
		_ = h.store.LogAudit(r.Context(), jobID, "upload", "success", "submitted "+header.Filename)

		h.log.Infow("job submitted", "job_id", jobID, "type", jobType, "filename", header.Filename)
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, submitResponse{JobID: jobID, Status: domain.Queued})
	}
}

type statusResponse struct {
	JobID        string            `json:"job_id"`
	Status       domain.Status     `json:"status"`
	Query        string            `json:"query"`
	Filename     string            `json:"filename"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	StageOutputs map[string]string `json:"stage_outputs,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			h.renderError(w, r, http.StatusNotFound, "job not found")
			return
		}
		h.log.Errorw("get job failed", "job_id", jobID, "error", err)
		h.renderError(w, r, http.StatusInternalServerError, "could not load job")
		return
	}

	resp := statusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Query:        job.Query,
		Filename:     job.Filename,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	results, err := h.store.StageResults(r.Context(), jobID)
	if err != nil {
		h.log.Errorw("load stage results failed", "job_id", jobID, "error", err)
	}
	if len(results) > 0 {
		resp.StageOutputs = make(map[string]string, len(results))
		for _, sr := range results {
			resp.StageOutputs[string(sr.Stage)] = sr.OutputText
		}
	}
	render.JSON(w, r, resp)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":   "healthy",
		"service":  "finsight",
		"data_dir": h.cfg.DataDir,
	})
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, code int, detail string) {
	render.Status(r, code)
	render.JSON(w, r, map[string]string{"error": detail})
}
