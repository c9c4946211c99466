package http

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"vn.io.arda/pinnotify/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, jwtSecret string, dev bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Health (no auth required)
	e.GET("/health", h.Health)

	// API, requires authentication
	api := e.Group("/api")
	api.Use(mw.JWTAuth(jwtSecret))

	// REST endpoints
	api.GET("/notifications", h.ListNotifications)
	api.GET("/notifications/unread", h.ListUnread)
	api.GET("/notifications/unread/count", h.GetUnreadCount)
	api.PUT("/notifications/read", h.MarkRead)
	api.PUT("/notifications/read-all", h.MarkAllRead)
	api.DELETE("/notifications/:id", h.Delete)
	api.GET("/users/:id", h.GetUser)

	// SSE endpoint
	api.GET("/notifications/stream", h.Stream)

	if dev {
		api.POST("/dev/activity", h.RecordActivity)
	}

	return e
}
