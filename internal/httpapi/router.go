package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harithzain/simlab/internal/common"
	"github.com/harithzain/simlab/internal/config"
	"github.com/harithzain/simlab/internal/httpapi/handlers"
	"github.com/harithzain/simlab/internal/httpapi/middleware"
	"github.com/harithzain/simlab/internal/scenario"
	"github.com/harithzain/simlab/internal/store/rabbitmq"
	"github.com/harithzain/simlab/internal/store/redisstore"
)

func NewRouter(cfg config.Config, svc *scenario.Service, rabbit *rabbitmq.Publisher, limiter *redisstore.Limiter, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(cfg, svc, rabbit, log)

	r.GET("/ping", h.Ping)
	r.POST("/auth/guest", h.GuestLogin)

	// Public share links: no auth, rate-limited per client IP.
	public := r.Group("/public")
	public.Use(middleware.RateLimit(limiter, log))
	public.GET("/capsule/:share_token", h.ViewCapsule)

	api := r.Group("/api")
	api.Use(middleware.Auth(cfg.JWTSecret, cfg.AuthRequired))

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:session_id", h.GetSession)
	api.GET("/sessions/:session_id/turns", h.ListTurns)

	api.POST("/sessions/:session_id/turns", h.SubmitTurn)
	api.POST("/sessions/:session_id/turns/stream", h.SubmitTurnStream)
	api.POST("/sessions/:session_id/turns/async", h.SubmitTurnAsync)
	api.POST("/sessions/:session_id/analysis", h.RunAnalysis)
	api.GET("/jobs/:job_id", h.GetJob)

	api.POST("/sessions/:session_id/final-report", h.GenerateFinalReport)
	api.GET("/sessions/:session_id/suggested", h.SuggestReplies)

	api.POST("/sessions/:session_id/snippets", h.GenerateSnippets)
	api.GET("/sessions/:session_id/snippets", h.ListSnippets)

	api.POST("/sessions/:session_id/capsule", h.CreateCapsule)
	api.GET("/sessions/:session_id/capsule", h.GetCapsule)

	return r
}
