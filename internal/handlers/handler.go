package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aaaashutosh/medicate-connect/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store     store.ChatStore
	redis     *store.RedisStore
	logger    zerolog.Logger
	uploadDir string
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(chatStore store.ChatStore, redisStore *store.RedisStore, logger zerolog.Logger, uploadDir string) *Handler {
	return &Handler{
		store:     chatStore,
		redis:     redisStore,
		logger:    logger,
		uploadDir: uploadDir,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
