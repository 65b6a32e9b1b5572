package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taskchat/taskchat/internal/chat"
	"go.uber.org/zap"
)

type Handler struct {
	orch        *chat.Orchestrator
	logger      *zap.Logger
	turnTimeout time.Duration
}

func NewHandler(orch *chat.Orchestrator, logger *zap.Logger, turnTimeout time.Duration) *Handler {
	return &Handler{
		orch:        orch,
		logger:      logger,
		turnTimeout: turnTimeout,
	}
}

// Register wires the handler's routes onto mux. The chat route is the only
// mutator; the other two are owner-scoped reads.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/chat/", WithRequestID(WithAuth(http.HandlerFunc(h.HandleChat))))
	mux.Handle("/api/conversations", WithRequestID(WithAuth(http.HandlerFunc(h.GetConversations))))
	mux.Handle("/api/messages", WithRequestID(WithAuth(http.HandlerFunc(h.GetMessages))))
}

type ChatRequest struct {
	Message        string         `json:"message"`
	ConversationID *int64         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type ChatResponse struct {
	Response       string           `json:"response"`
	ConversationID int64            `json:"conversation_id"`
	Messages       []wireMessage    `json:"messages"`
	ToolResults    []map[string]any `json:"tool_results"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	if userID == "" || strings.Contains(userID, "/") {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}

	// The authenticated identity must match the path before anything is read
	// or written.
	if identity := UserFrom(r.Context()); identity != userID {
		h.logger.Warn("identity mismatch on chat request",
			zap.String("identity", identity),
			zap.String("pathUser", userID),
			zap.String("requestID", RequestIDFrom(r.Context())))
		respondError(w, http.StatusForbidden, "FORBIDDEN", "user ID mismatch")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.turnTimeout)
	defer cancel()

	result, err := h.orch.HandleTurn(ctx, userID, req.Message, req.ConversationID)
	if err != nil {
		h.respondTurnError(w, r, err)
		return
	}

	messages := make([]wireMessage, 0, len(result.Messages))
	for _, msg := range result.Messages {
		messages = append(messages, wireMessage{Role: msg.Role, Content: msg.Content})
	}

	respondJSON(w, http.StatusOK, ChatResponse{
		Response:       result.Reply,
		ConversationID: result.ConversationID,
		Messages:       messages,
		ToolResults:    result.ToolResults,
	})
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	conversations, err := h.orch.Conversations(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.logger.Error("failed to list conversations",
			zap.Error(err),
			zap.String("requestID", RequestIDFrom(r.Context())))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, conversations)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid conversation ID")
		return
	}

	messages, err := h.orch.Transcript(r.Context(), UserFrom(r.Context()), convID, 50)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
			return
		}
		h.logger.Error("failed to load messages",
			zap.Error(err),
			zap.Int64("conversationID", convID),
			zap.String("requestID", RequestIDFrom(r.Context())))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

func (h *Handler) respondTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "conversation not found")
	case errors.Is(err, chat.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
	default:
		// Store failures stay generic; details go to the log only.
		h.logger.Error("turn failed",
			zap.Error(err),
			zap.String("requestID", RequestIDFrom(r.Context())))
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}
