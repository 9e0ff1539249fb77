package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/api/handlers"
	"github.com/campusprint/printdesk/internal/api/middleware"
)

type RouterDeps struct {
	Auth     *middleware.AuthMiddleware
	Print    *handlers.PrintHandler
	Admin    *handlers.AdminHandler
	Webhooks *handlers.WebhookHandler

	StationKey string
	// RateLimit guards uploads when set.
	RateLimit gin.HandlerFunc
	Health    func(ctx context.Context) error
	Logger    zerolog.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")

	auth := apiGroup.Group("/auth")
	auth.POST("/register", d.Auth.RegisterHandler)
	auth.POST("/login", d.Auth.LoginHandler)
	auth.POST("/logout", d.Auth.LogoutHandler)
	auth.GET("/status", d.Auth.StatusHandler)
	auth.POST("/setup", d.Auth.SetupHandler)

	var uploadGuards []gin.HandlerFunc
	if d.RateLimit != nil {
		uploadGuards = append(uploadGuards, d.RateLimit)
	}
	printGroup := apiGroup.Group("/print", d.Auth.RequireAuth())
	handlers.RegisterPrintRoutes(printGroup, d.Print, uploadGuards...)

	station := apiGroup.Group("/station", middleware.RequireStationKey(d.StationKey))
	handlers.RegisterStationRoutes(station, d.Print)

	admin := apiGroup.Group("/admin", d.Auth.RequireAuth(), d.Auth.RequireAdmin())
	handlers.RegisterAdminRoutes(admin, d.Admin)
	handlers.RegisterWebhookRoutes(admin, d.Webhooks)

	return r
}
