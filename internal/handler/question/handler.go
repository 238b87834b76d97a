package question

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-speak/backend/internal/model/practice"
	"github.com/zhouzirui/z-speak/backend/internal/model/question"
	"github.com/zhouzirui/z-speak/backend/internal/service/narration"
	"github.com/zhouzirui/z-speak/backend/pkg/utils"
)

// Narrator reads a question aloud.
type Narrator interface {
	Narrate(ctx context.Context, q practice.Question) (narration.Audio, error)
}

// Handler 题库的HTTP处理器
type Handler struct {
	questions question.Store
	narrator  Narrator
}

// New 创建题库处理器。narrator 为 nil 时朗读接口返回 503。
func New(questions question.Store, narrator Narrator) *Handler {
	return &Handler{questions: questions, narrator: narrator}
}

// RegisterRoutes 注册题库相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/questions", h.handleList)
	r.Get("/questions/{questionID}", h.handleGet)
	r.Get("/questions/{questionID}/audio", h.handleAudio)
}

// handleList 列出题目，可按 ?type= 过滤
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	qType := practice.QuestionType(r.URL.Query().Get("type"))
	items := h.questions.List()
	if qType == "" {
		utils.RespondJSON(w, http.StatusOK, items)
		return
	}

	out := make([]practice.Question, 0, len(items))
	for _, item := range items {
		if item.Type == qType {
			out = append(out, item)
		}
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "questionID")
	q, ok := h.questions.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, question.ErrNotFound.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, q)
}

// handleAudio 返回题目朗读音频
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "questionID")
	q, ok := h.questions.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, question.ErrNotFound.Error())
		return
	}
	if h.narrator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "question narration is not configured")
		return
	}

	audio, err := h.narrator.Narrate(r.Context(), q)
	if err != nil {
		log.Printf("[question] narrate %s: %v", id, err)
		utils.RespondError(w, http.StatusBadGateway, "failed to synthesize question audio")
		return
	}

	w.Header().Set("Content-Type", audio.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}
