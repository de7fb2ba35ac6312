package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"lets-chat/auth"
	"lets-chat/domain"
	"lets-chat/errors"
	"lets-chat/services"
)

type authHandler struct {
	log  *slog.Logger
	auth services.IAuthService
}

func (h *authHandler) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(r, &req); err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	h.log.Info("User registered", "user_id", user.ID, "username", user.Username)
	respondJSON(w, http.StatusCreated, map[string]any{"message": "User created successfully", "user": user})
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decode(r, &req); err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	user, token, err := h.auth.Login(r.Context(), req)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Login successful", "user": user, "token": token})
}

type userHandler struct {
	log   *slog.Logger
	users services.IUserService
}

func (h *userHandler) get(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	if r.URL.Query().Get("all") == "true" {
		users, err := h.users.Directory(r.Context(), identity.UserID)
		if err != nil {
			respondFailure(w, r, h.log, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"users": users})
		return
	}
	user, err := h.users.Me(r.Context(), identity.UserID)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *userHandler) touch(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	user, err := h.users.Touch(r.Context(), identity.UserID)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *userHandler) online(w http.ResponseWriter, _ *http.Request) {
	ids := h.users.OnlineUserIDs()
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"userIds": ids})
}

type messageHandler struct {
	log  *slog.Logger
	chat services.IChatService
}

type sendRequest struct {
	Content    string `json:"content"`
	ReceiverID string `json:"receiverId"`
}

type markReadRequest struct {
	ConversationID string `json:"conversationId"`
}

func (h *messageHandler) history(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	query := r.URL.Query()

	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	var before *time.Time
	if raw := query.Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		before = &parsed
	}

	history, err := h.chat.History(r.Context(), identity, query.Get("receiverId"), limit, before)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	if history.Messages == nil {
		history.Messages = []domain.Message{}
	}
	respondJSON(w, http.StatusOK, history)
}

func (h *messageHandler) send(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var req sendRequest
	if err := decode(r, &req); err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	message, err := h.chat.Send(r.Context(), identity, req.ReceiverID, req.Content)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"message": message})
}

func (h *messageHandler) markRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var req markReadRequest
	if err := decode(r, &req); err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	updated, err := h.chat.MarkConversationRead(r.Context(), identity, req.ConversationID)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
}

func (h *messageHandler) search(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	results, err := h.chat.Search(r.Context(), identity, query.Get("q"), query.Get("with"), limit)
	if err != nil {
		respondFailure(w, r, h.log, err)
		return
	}
	if results == nil {
		results = []domain.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

// parseLimit returns 0 for an absent limit, letting the service apply its default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.ErrInvalidPayload
	}
	return limit, nil
}
