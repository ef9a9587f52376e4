package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// BlacklistService is implemented by app.BlacklistGate.
type BlacklistService interface {
	IsBlocked(ctx context.Context, raw string) (bool, error)
	Add(ctx context.Context, raw, reason, addedBy string) (*domain.BlacklistEntry, bool, error)
	Remove(ctx context.Context, raw string) (bool, error)
	List(ctx context.Context, filter domain.BlacklistFilter) ([]*domain.BlacklistEntry, int, error)
}

const selfServiceActor = "self-service"

type BlacklistHandler struct {
	service  BlacklistService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBlacklistHandler(service BlacklistService, logger *slog.Logger, validate *validator.Validate) *BlacklistHandler {
	return &BlacklistHandler{
		service:  service,
		logger:   logger.With("component", "blacklist_handler"),
		validate: validate,
	}
}

// Add answers 201 for a new entry and 200 with the existing entry otherwise.
func (h *BlacklistHandler) Add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO AddBlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	entry, created, err := h.service.Add(ctx, reqDTO.Number, reqDTO.Reason, SubjectFromContext(ctx))
	if err != nil {
		respondError(w, r, h.logger, "Add blacklist entry", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toBlacklistEntryResponse(entry))
}

func (h *BlacklistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.Remove(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		respondError(w, r, h.logger, "Remove blacklist entry", err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not found", "number is not blacklisted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BlacklistHandler) Check(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "validation error", "number is required")
		return
	}
	blocked, err := h.service.IsBlocked(r.Context(), number)
	if err != nil {
		respondError(w, r, h.logger, "Check blacklist", err)
		return
	}
	writeJSON(w, http.StatusOK, BlacklistCheckResponse{Number: number, Blacklisted: blocked})
}

func (h *BlacklistHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, offset := pagination(r)
	filter := domain.BlacklistFilter{
		Search: q.Get("search"),
		Reason: q.Get("reason"),
		Offset: offset,
		Limit:  pageSize,
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, h.logger, "List blacklist", err)
		return
	}
	resDTO := ListBlacklistResponse{Items: make([]BlacklistEntryResponse, 0, len(items)), TotalCount: total, Page: page, PageSize: pageSize}
	for _, e := range items {
		resDTO.Items = append(resDTO.Items, toBlacklistEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resDTO)
}

// OptOut is the unauthenticated self-service endpoint. The response does not
// reveal whether the number was already on the list.
func (h *BlacklistHandler) OptOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO OptOutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "validation error", "number is required")
		return
	}

	if _, _, err := h.service.Add(ctx, reqDTO.Number, domain.ReasonOptOut, selfServiceActor); err != nil {
		respondError(w, r, h.logger, "Opt-out", err)
		return
	}
	writeJSON(w, http.StatusAccepted, OptOutResponse{Status: "opted_out"})
}
