package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateChatRequest is the get-or-create chat request body.
type CreateChatRequest struct {
	UserAID string `json:"userAId"`
	UserBID string `json:"userBId"`
}

// ListChats handles GET /api/chats/{userId}: the user's chat list with
// last message and unread count, most recently active first.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		h.Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	summaries, err := h.store.ListChatsForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("chat list failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch chats")
		return
	}

	h.JSON(w, http.StatusOK, summaries)
}

// CreateChat handles POST /api/chats: get-or-create the chat for a pair
// and return the requesting user's summary row. Racing creators for the
// same pair both land on the same chat via the store's unique pair index.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserAID == "" || req.UserBID == "" {
		h.Error(w, http.StatusBadRequest, "userAId and userBId are required")
		return
	}
	if req.UserAID == req.UserBID {
		h.Error(w, http.StatusBadRequest, "cannot start a chat with yourself")
		return
	}

	chat, err := h.store.GetOrCreateChat(r.Context(), req.UserAID, req.UserBID)
	if err != nil {
		h.logger.Error().Err(err).Msg("chat create failed")
		h.Error(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	summaries, err := h.store.ListChatsForUser(r.Context(), req.UserAID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch chat")
		return
	}
	for _, s := range summaries {
		if s.Chat.ID == chat.ID {
			h.JSON(w, http.StatusCreated, s)
			return
		}
	}

	h.Error(w, http.StatusInternalServerError, "failed to retrieve created chat")
}

// ListMessages handles GET /api/chats/{chatId}/messages?page=&limit=:
// one ascending-ordered page of the chat's messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatId"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid chat ID format")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.store.ListMessages(r.Context(), chatID, page, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", chatID.String()).Msg("message list failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	h.JSON(w, http.StatusOK, messages)
}
