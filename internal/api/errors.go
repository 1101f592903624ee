package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"studyhub/pkg/models"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError переводит доменную ошибку в HTTP статус
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		verr  *models.ValidationError
		stale *models.StaleStateError
		inv   *models.LedgerInvariantError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &stale):
		writeJSON(w, http.StatusConflict, errorResponse{Error: stale.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "запись не найдена"})
	case errors.As(err, &inv):
		logger.Error("нарушен инвариант баланса", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "внутренняя ошибка"})
	default:
		logger.Error("ошибка обработки запроса", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "внутренняя ошибка"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.NewValidationError("body", "некорректный JSON: "+err.Error())
	}
	return nil
}
