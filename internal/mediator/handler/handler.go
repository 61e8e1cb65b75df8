package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	policymodels "keeper/internal/policy/models"
	"keeper/internal/records/models"
	"keeper/pkg/domain"
	dErrors "keeper/pkg/domain-errors"
	"keeper/pkg/platform/httputil"
	"keeper/pkg/requestcontext"
)

// Service is the request mediator.
type Service interface {
	Handle(ctx context.Context, caller domain.Caller, op domain.Operation, entityType, id string, change policymodels.Change) (*models.Record, error)
	List(ctx context.Context, caller domain.Caller, entityType string) ([]*models.Record, error)
}

// Handler exposes mediated CRUD over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts record endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/records/{type}", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleRead)
		r.Patch("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, entityType, ok := h.prepare(w, r)
	if !ok {
		return
	}
	recs, err := h.service.List(ctx, caller, entityType)
	if err != nil {
		h.writeError(ctx, w, "list", entityType, "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecords(recs))
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, entityType, ok := h.prepare(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Handle(ctx, caller, domain.OperationCreate, entityType, req.ID, req.Fields)
	if err != nil {
		h.writeError(ctx, w, domain.OperationCreate.String(), entityType, req.ID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRecord(rec))
}

func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	h.handleInstance(w, r, domain.OperationRead, false)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	h.handleInstance(w, r, domain.OperationUpdate, true)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.handleInstance(w, r, domain.OperationDelete, false)
}

func (h *Handler) handleInstance(w http.ResponseWriter, r *http.Request, op domain.Operation, withBody bool) {
	ctx := r.Context()
	start := time.Now()
	caller, entityType, ok := h.prepare(w, r)
	if !ok {
		return
	}
	id, err := domain.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var change policymodels.Change
	if withBody {
		req, ok := h.decode(w, r)
		if !ok {
			return
		}
		change = req.Fields
	}

	rec, err := h.service.Handle(ctx, caller, op, entityType, id.String(), change)
	if err != nil {
		h.writeError(ctx, w, op.String(), entityType, id.String(), err)
		return
	}

	h.logger.InfoContext(ctx, "record request completed",
		"request_id", requestcontext.RequestID(ctx),
		"actor", caller.ID,
		"operation", op,
		"entity_type", entityType,
		"entity_id", id,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(rec))
}

// prepare resolves the caller and the entity type path parameter.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (domain.Caller, string, bool) {
	caller, ok := requestcontext.Caller(r.Context())
	if !ok || caller.IsAnonymous() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return domain.Caller{}, "", false
	}
	entityType, err := domain.ParseEntityTypeName(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.Caller{}, "", false
	}
	return caller, entityType.String(), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*WriteRequest, bool) {
	var req WriteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return &req, true
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op, entityType, id string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "record request failed",
			"request_id", requestcontext.RequestID(ctx),
			"operation", op,
			"entity_type", entityType,
			"entity_id", id,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
