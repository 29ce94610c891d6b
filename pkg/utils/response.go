package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) error {
	return RespondJSON(w, status, map[string]string{"error": message})
}

// RespondServiceError maps a service error onto its HTTP status and public message.
func RespondServiceError(w http.ResponseWriter, err error) error {
	return RespondError(w, StatusFor(err), chat.Reason(err))
}

// StatusFor returns the HTTP status for a service error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrEmptyTranscript):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
