// Package api exposes the chat operations over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/casacultural/livechat/internal/chat"
	"github.com/casacultural/livechat/internal/service"
)

// ChatService is the application layer the handlers call into.
type ChatService interface {
	Send(ctx context.Context, streamID string, author chat.Author, text string) (chat.Message, error)
	Messages(ctx context.Context, streamID string, limit int) ([]chat.Message, error)
	RoleOf(ctx context.Context, streamID string, participant chat.Author) chat.Role
	Clear(ctx context.Context, streamID string, requester chat.Role) (int, error)
	Promote(ctx context.Context, req service.PromoteRequest) (string, error)
	Demote(ctx context.Context, req service.PromoteRequest) (string, error)
	SetOwner(streamID, name string) error
	Moderators(ctx context.Context) ([]string, error)
	Presence(streamID string) (int, error)
}

// AdminTokenHeader carries the administrative principal's token.
const AdminTokenHeader = "X-Admin-Token"

type Handler struct {
	chat       ChatService
	adminToken string
}

// New creates a Handler. An empty adminToken leaves owner declaration open
// to any caller.
func New(svc ChatService, adminToken string) *Handler {
	return &Handler{chat: svc, adminToken: adminToken}
}

type SendMessageRequest struct {
	StreamID string      `json:"streamId"`
	Author   chat.Author `json:"author"`
	Text     string      `json:"text"`
}

type SendMessageResponse struct {
	ID        int64     `json:"id"`
	Role      chat.Role `json:"role"`
	Timestamp string    `json:"timestamp"`
}

type ClearRequest struct {
	StreamID      string       `json:"streamId"`
	RequesterRole string       `json:"requesterRole"`
	Requester     *chat.Author `json:"requester,omitempty"`
}

type ClearResponse struct {
	Deleted int `json:"deleted"`
}

type RoleChangeRequest struct {
	Email     string      `json:"email"`
	Name      string      `json:"name,omitempty"`
	StreamID  string      `json:"streamId,omitempty"`
	Requester chat.Author `json:"requester"`
}

type OwnerRequest struct {
	StreamID string `json:"streamId"`
	Name     string `json:"name"`
}

type OKResponse struct {
	OK    bool   `json:"ok"`
	Email string `json:"email,omitempty"`
}

type RoleResponse struct {
	Role chat.Role `json:"role"`
}

type PresenceResponse struct {
	StreamID string `json:"streamId"`
	Viewers  int    `json:"viewers"`
}

type ModeratorsResponse struct {
	Moderators []string `json:"moderators"`
}

type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  chat.Kind `json:"kind,omitempty"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.chat.Send(r.Context(), req.StreamID, req.Author, req.Text)
	if err != nil {
		h.writeServiceError(w, "SendMessage", err, http.StatusForbidden)
		return
	}

	h.writeJSON(w, SendMessageResponse{
		ID:        msg.ID,
		Role:      msg.Role,
		Timestamp: msg.Timestamp,
	}, http.StatusOK)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("streamId")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := h.chat.Messages(r.Context(), streamID, limit)
	if err != nil {
		h.writeServiceError(w, "ListMessages", err, http.StatusForbidden)
		return
	}

	h.writeJSON(w, msgs, http.StatusOK)
}

// ClearMessages purges a stream. When the body names the requester, the
// server resolves its role; otherwise the declared requesterRole is used.
func (h *Handler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	requesterRole := chat.ParseRole(req.RequesterRole)
	if req.Requester != nil {
		requesterRole = h.chat.RoleOf(r.Context(), req.StreamID, *req.Requester)
	}

	n, err := h.chat.Clear(r.Context(), req.StreamID, requesterRole)
	if err != nil {
		h.writeServiceError(w, "ClearMessages", err, http.StatusUnauthorized)
		return
	}

	h.writeJSON(w, ClearResponse{Deleted: n}, http.StatusOK)
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, "Promote", h.chat.Promote)
}

func (h *Handler) Demote(w http.ResponseWriter, r *http.Request) {
	h.changeRole(w, r, "Demote", h.chat.Demote)
}

func (h *Handler) changeRole(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	apply func(context.Context, service.PromoteRequest) (string, error),
) {
	var req RoleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	email, err := apply(r.Context(), service.PromoteRequest{
		StreamID:  req.StreamID,
		Requester: req.Requester,
		Email:     req.Email,
		Name:      req.Name,
	})
	if err != nil {
		h.writeServiceError(w, op, err, http.StatusForbidden)
		return
	}

	h.writeJSON(w, OKResponse{OK: true, Email: email}, http.StatusOK)
}

func (h *Handler) SetOwner(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		h.writeError(w, "admin token required", http.StatusUnauthorized)
		return
	}

	var req OwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.chat.SetOwner(req.StreamID, req.Name); err != nil {
		h.writeServiceError(w, "SetOwner", err, http.StatusForbidden)
		return
	}

	h.writeJSON(w, OKResponse{OK: true}, http.StatusOK)
}

func (h *Handler) Moderators(w http.ResponseWriter, r *http.Request) {
	mods, err := h.chat.Moderators(r.Context())
	if err != nil {
		h.writeServiceError(w, "Moderators", err, http.StatusForbidden)
		return
	}
	if mods == nil {
		mods = []string{}
	}
	h.writeJSON(w, ModeratorsResponse{Moderators: mods}, http.StatusOK)
}

func (h *Handler) Role(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	streamID := q.Get("streamId")
	if err := chat.ValidateStreamID(streamID); err != nil {
		h.writeServiceError(w, "Role", err, http.StatusForbidden)
		return
	}

	role := h.chat.RoleOf(r.Context(), streamID, chat.Author{Name: q.Get("name"), Email: q.Get("email")})
	h.writeJSON(w, RoleResponse{Role: role}, http.StatusOK)
}

func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("streamId")
	n, err := h.chat.Presence(streamID)
	if err != nil {
		h.writeServiceError(w, "Presence", err, http.StatusForbidden)
		return
	}
	h.writeJSON(w, PresenceResponse{StreamID: streamID, Viewers: n}, http.StatusOK)
}

func (h *Handler) isAdmin(r *http.Request) bool {
	if h.adminToken == "" {
		return true
	}
	got := r.Header.Get(AdminTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) == 1
}

// writeServiceError maps a service error to a status code. Authorization
// failures use authStatus because clear answers 401 and role changes 403.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error, authStatus int) {
	kind := chat.KindOf(err)
	switch {
	case kind == chat.KindValidation:
		h.writeKindError(w, err.Error(), kind, http.StatusBadRequest)
	case kind == chat.KindAuthorization:
		log.Printf("[api] %s denied: %v", op, err)
		h.writeKindError(w, err.Error(), kind, authStatus)
	case kind == chat.KindSilenced:
		h.writeKindError(w, err.Error(), kind, http.StatusForbidden)
	case errors.Is(err, service.ErrRateLimited):
		h.writeError(w, "too many messages, slow down", http.StatusTooManyRequests)
	default:
		log.Printf("[api] %s failed: %v", op, err)
		h.writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeKindError(w, message, "", statusCode)
}

func (h *Handler) writeKindError(w http.ResponseWriter, message string, kind chat.Kind, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Kind: kind})
}
