package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, GenericErrorResponse{Error: msg, Details: details})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrNotEditable):
		return http.StatusConflict, "not editable"
	case errors.Is(err, domain.ErrNotCancellable):
		return http.StatusConflict, "not cancellable"
	case errors.Is(err, domain.ErrNoRecipients):
		return http.StatusUnprocessableEntity, "no recipients"
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return http.StatusBadRequest, "invalid identifier"
	case errors.Is(err, domain.ErrScheduleInPast):
		return http.StatusBadRequest, "schedule in past"
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrSenderLabelTooLong):
		return http.StatusBadRequest, "invalid message"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// respondError logs and writes err. Internal details never reach the client.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, operation string, err error) {
	status, msg := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), operation+" failed", "error", err)
		writeError(w, status, msg, "")
		return
	}
	logger.WarnContext(r.Context(), operation+" rejected", "error", err, "status_code", status)
	writeError(w, status, msg, err.Error())
}

// pagination reads page/page_size (1-based, default 20, capped at 100).
// maxPage keeps (page-1)*pageSize far from overflowing.
const maxPage = 1_000_000

func pagination(r *http.Request) (page, pageSize, offset int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	pageSize, _ = strconv.Atoi(q.Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}
