package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	practiceHandler "github.com/zhouzirui/z-speak/backend/internal/handler/practice"
	questionHandler "github.com/zhouzirui/z-speak/backend/internal/handler/question"
	"github.com/zhouzirui/z-speak/backend/internal/model/question"
	practiceService "github.com/zhouzirui/z-speak/backend/internal/service/practice"
	"github.com/zhouzirui/z-speak/backend/pkg/utils"
)

// Dependencies 路由需要的服务。Narrator 与 Attempts 可以为 nil。
type Dependencies struct {
	Questions      question.Store
	Narrator       questionHandler.Narrator
	Practice       *practiceService.Service
	Attempts       practiceHandler.AttemptReader
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	started := time.Now()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		questionHandler.New(deps.Questions, deps.Narrator).RegisterRoutes(api)
		if deps.Practice != nil {
			practiceHandler.New(deps.Practice, deps.Attempts).RegisterRoutes(api)
		}
	})

	return r
}
