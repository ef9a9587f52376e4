package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/app"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

const previewSampleSize = 20

// BroadcastService is implemented by app.BroadcastAppService.
type BroadcastService interface {
	Submit(ctx context.Context, req app.SubmitRequest) (*app.SubmitResult, error)
	Preview(ctx context.Context, expr domain.RecipientExpression) (*domain.Resolution, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Broadcast, error)
	List(ctx context.Context, filter domain.BroadcastFilter) ([]*domain.Broadcast, int, error)
	Edit(ctx context.Context, id uuid.UUID, req app.EditRequest) (*domain.Broadcast, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

type BroadcastHandler struct {
	service  BroadcastService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBroadcastHandler(service BroadcastService, logger *slog.Logger, validate *validator.Validate) *BroadcastHandler {
	return &BroadcastHandler{
		service:  service,
		logger:   logger.With("component", "broadcast_handler"),
		validate: validate,
	}
}

func (h *BroadcastHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO SubmitBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for Submit", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for Submit", "error", err)
		writeError(w, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	res, err := h.service.Submit(ctx, app.SubmitRequest{
		Recipients:  reqDTO.Recipients,
		Message:     reqDTO.Message,
		SenderLabel: reqDTO.SenderLabel,
		ScheduledAt: reqDTO.ScheduledAt,
		CreatedBy:   SubjectFromContext(ctx),
	})
	if err != nil {
		respondError(w, r, h.logger, "Submit broadcast", err)
		return
	}

	b := res.Broadcast
	resDTO := SubmitBroadcastResponse{
		BroadcastID:       b.ID.String(),
		Status:            string(b.Status),
		ScheduledAt:       b.ScheduledAt,
		TotalRecipients:   b.TotalRecipients,
		InvalidRecipients: b.InvalidRecipients,
	}
	status := http.StatusAccepted
	if b.IsScheduled() {
		status = http.StatusCreated
	}
	writeJSON(w, status, resDTO)
}

func (h *BroadcastHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	res, err := h.service.Preview(ctx, reqDTO.Recipients)
	if err != nil {
		respondError(w, r, h.logger, "Preview recipients", err)
		return
	}

	sample := make([]PreviewRecipientDTO, 0, previewSampleSize)
	for _, id := range res.Identifiers {
		if len(sample) == previewSampleSize {
			break
		}
		sample = append(sample, PreviewRecipientDTO{Identifier: id.E164, Region: id.Region, Source: res.Provenance[id.E164]})
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		TotalRecipients:   res.Total(),
		InvalidRecipients: res.Invalid(),
		InvalidTokens:     res.InvalidTokenCount,
		InvalidMembers:    res.InvalidMemberCount,
		GroupsMatched:     res.GroupsMatched,
		Sample:            sample,
	})
}

func (h *BroadcastHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.broadcastID(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, "Get broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, toBroadcastResponse(b))
}

func (h *BroadcastHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, pageSize, offset := pagination(r)
	filter := domain.BroadcastFilter{Offset: offset, Limit: pageSize}

	if s := q.Get("status"); s != "" {
		filter.Status = domain.BroadcastStatus(s)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status filter", s)
			return
		}
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+key+" filter", "expected RFC 3339 timestamp")
				return
			}
			*dst = &t
		}
	}

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, h.logger, "List broadcasts", err)
		return
	}
	resDTO := ListBroadcastsResponse{Items: make([]BroadcastResponse, 0, len(items)), TotalCount: total, Page: page, PageSize: pageSize}
	for _, b := range items {
		resDTO.Items = append(resDTO.Items, toBroadcastResponse(b))
	}
	writeJSON(w, http.StatusOK, resDTO)
}

func (h *BroadcastHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.broadcastID(w, r)
	if !ok {
		return
	}
	var reqDTO EditBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	b, err := h.service.Edit(ctx, id, app.EditRequest{
		Message:     reqDTO.Message,
		SenderLabel: reqDTO.SenderLabel,
		Recipients:  reqDTO.Recipients,
		ScheduledAt: reqDTO.ScheduledAt,
	})
	if err != nil {
		respondError(w, r, h.logger, "Edit broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, toBroadcastResponse(b))
}

func (h *BroadcastHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.broadcastID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), id); err != nil {
		respondError(w, r, h.logger, "Cancel broadcast", err)
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, "Get broadcast", err)
		return
	}
	writeJSON(w, http.StatusOK, toBroadcastResponse(b))
}

func (h *BroadcastHandler) broadcastID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid broadcast id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}
