package practice

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-speak/backend/internal/capture"
	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/model/question"
	"github.com/zhouzirui/z-speak/backend/internal/recorder"
	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
	"github.com/zhouzirui/z-speak/backend/internal/store"
	"github.com/zhouzirui/z-speak/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// AttemptReader 读取历史作答记录
type AttemptReader interface {
	ListAttempts(ctx context.Context, questionID string, limit int) ([]practice.Attempt, error)
	GetAttempt(ctx context.Context, id string) (practice.Attempt, error)
}

// Handler 练习会话的HTTP处理器
type Handler struct {
	service  *practiceService.Service
	attempts AttemptReader
	ws       *WebSocketHandler
}

// New 创建练习处理器。attempts 为 nil 时历史接口返回 503。
func New(service *practiceService.Service, attempts AttemptReader) *Handler {
	return &Handler{
		service:  service,
		attempts: attempts,
		ws:       NewWebSocketHandler(service),
	}
}

// RegisterRoutes 注册练习相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/practice", func(r chi.Router) {
		r.Post("/sessions", h.handleCreateSession)
		r.Get("/sessions/{sessionID}", h.handleGetSession)
		r.Delete("/sessions/{sessionID}", h.handleCloseSession)
		r.Get("/sessions/{sessionID}/audio", h.handleAudio)
		r.Get("/sessions/{sessionID}/events", h.handleEvents)
		r.Get("/sessions/{sessionID}/ws", h.ws.HandleWebSocket)
		r.Post("/sessions/{sessionID}/{action}", h.handleAction)

		r.Get("/attempts", h.handleListAttempts)
		r.Get("/attempts/{attemptID}", h.handleGetAttempt)
	})
}

type createSessionRequest struct {
	QuestionID string `json:"questionId"`
	Source     string `json:"source"`
}

type processResponse struct {
	Succeeded     bool                         `json:"succeeded"`
	Transcription practice.TranscriptionResult `json:"transcription"`
	Analysis      practice.AnswerAnalysis      `json:"analysis"`
	Error         string                       `json:"error,omitempty"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.service.CreateSession(r.Context(), req.QuestionID, req.Source)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, sess.View())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil && !errors.Is(err, recorder.ErrClosed) {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAction 驱动录音状态机：start | pause | resume | stop | reset | process
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "sessionID")
	action := chi.URLParam(r, "action")

	var err error
	switch action {
	case "start":
		err = h.service.Start(ctx, id)
	case "pause":
		err = h.service.Pause(ctx, id)
	case "resume":
		err = h.service.Resume(ctx, id)
	case "stop":
		err = h.service.Stop(ctx, id)
	case "reset":
		err = h.service.Reset(ctx, id)
	case "process":
		h.handleProcess(w, r, id)
		return
	default:
		utils.RespondError(w, http.StatusNotFound, "unknown action: "+action)
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}

	sess, err := h.service.GetSession(ctx, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	if !wait {
		if err := h.service.ProcessAsync(ctx, id); err != nil {
			respondServiceError(w, err)
			return
		}
		sess, err := h.service.GetSession(ctx, id)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusAccepted, sess.View())
		return
	}

	outcome, err := h.service.Process(ctx, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	resp := processResponse{
		Succeeded:     outcome.Succeeded,
		Transcription: outcome.Transcription,
		Analysis:      outcome.Analysis,
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleAudio 返回录音数据供回放
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	blob, ok := sess.Audio()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, recorder.ErrNoRecording.Error())
		return
	}

	w.Header().Set("Content-Type", blob.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Content-Disposition", `inline; filename="answer.`+blob.Extension()+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(blob.Data); err != nil {
		log.Printf("[practice] write audio for session %s: %v", sess.ID, err)
	}
}

// handleEvents 以 SSE 推送状态快照与处理结果
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	view := sess.View()
	if err := utils.SendSSEEvent(w, flusher, "snapshot", view.Recorder); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	log.Printf("[sse] opening event stream for session=%s", sess.ID)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing event stream for session=%s", sess.ID)
			return
		case ev, ok := <-events:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]string{"sessionId": sess.ID})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "attempt history unavailable")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	items, err := h.attempts.ListAttempts(r.Context(), r.URL.Query().Get("questionId"), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "attempt history unavailable")
		return
	}
	a, err := h.attempts.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, a)
}

// statusFor 把业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, practiceService.ErrSessionNotFound),
		errors.Is(err, question.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, practiceService.ErrQuestionRequired),
		errors.Is(err, practiceService.ErrUnknownSource),
		errors.Is(err, practiceService.ErrNotPushSource):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrInvalidTransition),
		errors.Is(err, recorder.ErrNoRecording):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrClosed):
		return http.StatusGone
	case errors.Is(err, capture.ErrNoSource),
		errors.Is(err, recorder.ErrAcquire),
		errors.Is(err, recorder.ErrNoProcessor):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[practice] request failed: %v", err)
	}
	utils.RespondError(w, status, err.Error())
}
