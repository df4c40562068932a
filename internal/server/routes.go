package server

import (
	"time"

	"github.com/meridian-hq/atlas/backend/internal/auth"
	"github.com/meridian-hq/atlas/backend/internal/server/middleware"
	"github.com/meridian-hq/atlas/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	rateLimit := middleware.NewRateLimiter(100, time.Hour).Middleware()

	// Auth routes (register/login/refresh are reachable without a token)
	authRoutes := e.Group("/auth", rateLimit)
	authRoutes.POST("/register", routes.RegisterHandler)
	authRoutes.POST("/login", routes.LoginHandler)
	authRoutes.POST("/refresh", routes.RefreshTokenHandler)
	authRoutes.POST("/logout", routes.LogoutHandler, middleware.AuthMiddleware)
	authRoutes.GET("/me", routes.MeHandler, middleware.AuthMiddleware)

	apiRoutes := e.Group("/api", middleware.AuthMiddleware, rateLimit)

	// Query routes
	apiRoutes.POST("/ask", routes.AskHandler, middleware.RequirePermission(auth.PermissionGraphQuery))
	apiRoutes.POST("/ask/stream", routes.AskStreamHandler, middleware.RequirePermission(auth.PermissionGraphQuery))

	// Graph routes
	apiRoutes.GET("/entities", routes.GetEntitiesHandler, middleware.RequirePermission(auth.PermissionGraphView))
	apiRoutes.GET("/entities/:name/neighborhood", routes.GetEntityNeighborhoodHandler, middleware.RequirePermission(auth.PermissionGraphView))
	apiRoutes.GET("/relationships", routes.GetRelationshipsHandler, middleware.RequirePermission(auth.PermissionGraphView))
	apiRoutes.GET("/graph/overview", routes.GetGraphOverviewHandler, middleware.RequirePermission(auth.PermissionGraphView))
	apiRoutes.GET("/stats", routes.GetStatsHandler, middleware.RequirePermission(auth.PermissionGraphView))

	// Document routes
	apiRoutes.POST("/upload", routes.UploadDocumentsHandler, middleware.RequirePermission(auth.PermissionDocumentUpload))
	apiRoutes.POST("/upload/url", routes.UploadURLHandler, middleware.RequirePermission(auth.PermissionDocumentUpload))
	apiRoutes.GET("/documents", routes.GetDocumentsHandler, middleware.RequirePermission(auth.PermissionDocumentView))
	apiRoutes.GET("/documents/:id/download", routes.GetDocumentDownloadHandler, middleware.RequirePermission(auth.PermissionDocumentView))
	apiRoutes.DELETE("/documents/:id", routes.DeleteDocumentHandler, middleware.RequirePermission(auth.PermissionDocumentDelete))

	// Tenant routes
	apiRoutes.POST("/tenants", routes.CreateTenantHandler, middleware.RequirePermission(auth.PermissionTenantManage))
	apiRoutes.GET("/tenants", routes.GetTenantsHandler, middleware.RequirePermission(auth.PermissionTenantView))
}
