// Package httpapi wires the gin router: public auth endpoints, the
// user/session surface under /v1, and the application surface under /app/v1.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voxhub/asr-gateway/internal/common"
	"github.com/voxhub/asr-gateway/internal/httpapi/handlers"
	"github.com/voxhub/asr-gateway/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(h.Log))

	r.NoRoute(func(c *gin.Context) {
		common.Error(c, http.StatusNotFound, common.CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Error(c, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.GET("/healthz", h.Health)

	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/anon", h.AnonSession)

	// registered users and anonymous sessions
	v1 := r.Group("/v1")
	v1.Use(middleware.UserOrAnon(h.Cfg.JWTSecret))
	v1.POST("/upload", h.Upload)
	v1.GET("/jobs", h.JobHistory)
	v1.GET("/jobs/:id/status", h.JobStatus)
	v1.GET("/jobs/:id/result", h.JobResult)
	v1.GET("/usage", h.Usage)

	// applications authenticating with API tokens; same core semantics,
	// identity is the application itself
	app := r.Group("/app/v1")
	app.Use(middleware.APIToken(h.Accounts))
	app.POST("/upload", h.Upload)
	app.GET("/jobs", h.JobHistory)
	app.GET("/jobs/:id/status", h.JobStatus)
	app.GET("/jobs/:id/result", h.JobResult)
	app.GET("/usage", h.Usage)

	// application management for registered users
	mgmt := r.Group("/v1/applications")
	mgmt.Use(middleware.UserOrAnon(h.Cfg.JWTSecret))
	mgmt.POST("", h.CreateApplication)

	return r
}
