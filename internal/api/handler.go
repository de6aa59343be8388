package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/cogsolver/internal/bus"
	"github.com/opensource-finance/cogsolver/internal/catalog"
	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/opensource-finance/cogsolver/internal/rules"
	"github.com/opensource-finance/cogsolver/internal/validation"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo          domain.Repository
	catalog       *catalog.Catalog
	engine        *rules.Engine
	cache         domain.Cache
	bus           domain.EventBus
	logger        *slog.Logger
	version       string
	defaultStatus string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:          deps.Repo,
		catalog:       deps.Catalog,
		engine:        deps.Engine,
		cache:         deps.Cache,
		bus:           deps.Bus,
		logger:        logger.With("component", "api"),
		version:       deps.Version,
		defaultStatus: deps.DefaultStatusID,
	}
}

// Health returns server health status. It always answers 200; a failing
// dependency only downgrades the status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	for _, p := range h.pingers() {
		if err := p.ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

type pinger struct {
	name string
	ping func(ctx context.Context) error
}

func (h *Handler) pingers() []pinger {
	var out []pinger
	if h.repo != nil {
		out = append(out, pinger{"repository", h.repo.Ping})
	}
	if h.cache != nil {
		out = append(out, pinger{"cache", h.cache.Ping})
	}
	if h.bus != nil {
		out = append(out, pinger{"eventBus", h.bus.Ping})
	}
	return out
}

// Ready checks every dependency concurrently and answers 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	pingers := h.pingers()
	results := make([]string, len(pingers))

	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			if err := p.ping(ctx); err != nil {
				results[i] = err.Error()
				return fmt.Errorf("%s: %w", p.name, err)
			}
			results[i] = "ok"
			return nil
		})
	}
	err := g.Wait()

	checks := make(map[string]string, len(pingers))
	for i, p := range pingers {
		checks[p.name] = results[i]
	}

	code := http.StatusOK
	if err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":  err == nil,
		"checks": checks,
	})
}

// SubmitApplication stores a new application with the default status and
// announces it so a recommendation can be computed asynchronously.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.Struct(&req); err != nil {
		writeValidationError(w, err)
		return
	}

	app := req.ToApplication()
	app.ID = uuid.New().String()
	if app.StatusID == "" {
		app.StatusID = h.defaultStatus
	}
	if _, err := h.repo.GetStatus(ctx, app.StatusID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", app.StatusID))
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	if err := h.repo.SaveApplication(ctx, app); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("application submitted",
		"application_id", app.ID,
		"status_id", app.StatusID,
		"windows", len(app.Windows),
		"trace_id", GetTraceID(ctx),
	)

	if h.bus != nil {
		event := domain.ApplicationSubmitted{ApplicationID: app.ID, TraceID: GetTraceID(ctx)}
		if err := bus.PublishJSON(ctx, h.bus, domain.TopicApplicationSubmitted, event); err != nil {
			h.logger.Warn("failed to publish submission", "application_id", app.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, app)
}

// ListApplications returns applications newest first, optionally limited to
// those with a window starting in ?year= and ?month=.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	var filter domain.ApplicationFilter
	for _, q := range []struct {
		name string
		dst  *int
	}{
		{"year", &filter.Year},
		{"month", &filter.Month},
		{"limit", &filter.Limit},
	} {
		raw := r.URL.Query().Get(q.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, q.name+" must be a non-negative integer")
			return
		}
		*q.dst = n
	}

	apps, err := h.repo.ListApplications(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"applications": apps,
		"count":        len(apps),
	})
}

// GetApplication retrieves an application by ID.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.repo.GetApplication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// GetRecommendation computes, without saving, the status the active rules
// recommend for one application.
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	row, err := h.engine.RecommendOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Report runs the batch pass over every stored application.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.BatchApply(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// writeDomainError maps domain errors onto status codes. Anything unknown
// is logged and reported as a bare 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *domain.ConfigurationError
	var nf *domain.NotFoundError

	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  cfgErr.Error(),
			"field":  cfgErr.Field,
			"reason": cfgErr.Reason,
		})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, nf.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": validation.Fields(err),
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
