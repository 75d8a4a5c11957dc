package utils

import (
	"net/http"

	"github.com/brizzai/token-relay/internal/logger"
	"go.uber.org/zap"
)

// WriteText writes a plain text response with the given status
func WriteText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(message)); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}
