package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"linguaweave/internal/domain/chat"
	applog "linguaweave/internal/platform/log"
	"linguaweave/internal/platform/retry"
)

const maxHistoryTurns = 20

// ChatHandler 问答接口
type ChatHandler struct {
	pipeline *chat.Pipeline
	timeout  time.Duration
}

// NewChatHandler 创建问答处理器
func NewChatHandler(pipeline *chat.Pipeline, timeout time.Duration) *ChatHandler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ChatHandler{pipeline: pipeline, timeout: timeout}
}

// RegisterRoutes 注册路由
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/chat", h.Answer)
}

// Answer POST /v1/chat
func (h *ChatHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Message) == "" && strings.TrimSpace(req.AudioURL) == "" {
		writeError(w, http.StatusBadRequest, "Either message or audio_url is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if len(req.History) > maxHistoryTurns {
		req.History = req.History[len(req.History)-maxHistoryTurns:]
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	started := time.Now()
	result, err := h.pipeline.Answer(ctx, &req)
	if err != nil {
		h.writeAnswerError(w, req.ConversationID, err)
		return
	}

	applog.Info("[API/Chat] Request served",
		"conversation_id", req.ConversationID,
		"detected_lang", result.DetectedLanguage,
		"from_cache", result.FromCache,
		"images", len(result.Images),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *ChatHandler) writeAnswerError(w http.ResponseWriter, conversationID string, err error) {
	applog.Error("[API/Chat] Request failed", "conversation_id", conversationID, "error", err)

	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message is empty")
	case errors.Is(err, chat.ErrTranscriptionUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "Voice transcription is not configured")
	case errors.Is(err, context.DeadlineExceeded) || retry.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "Upstream service is temporarily unavailable, please retry")
	default:
		writeError(w, http.StatusBadGateway, "Failed to resolve the answer")
	}
}
