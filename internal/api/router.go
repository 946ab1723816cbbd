// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/storyforge/draftsync/internal/auth"
	"github.com/storyforge/draftsync/internal/config"
	"github.com/storyforge/draftsync/internal/di"
	"github.com/storyforge/draftsync/internal/repos"
)

// SetupRouter builds the HTTP router from services registered in the
// container. It only pulls instances, never creates them.
func SetupRouter() (*gin.Engine, error) {
	container := di.GetContainer()

	cfg, ok := container.Get("config").(*config.Config)
	if !ok {
		return nil, fmt.Errorf("config not initialized")
	}
	repo, ok := container.Get("draftRepo").(*repos.DraftRepo)
	if !ok {
		return nil, fmt.Errorf("draft repository not initialized")
	}
	hub, ok := container.Get("eventHub").(*EventHub)
	if !ok {
		return nil, fmt.Errorf("event hub not initialized")
	}
	tokenConfig, ok := container.Get("tokenConfig").(*auth.TokenConfig)
	if !ok {
		return nil, fmt.Errorf("token config not initialized")
	}

	handler := NewHandler(repo, hub)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// Credentials (the session cookie) are only allowed when origins
	// are pinned; the cors spec forbids combining them with a wildcard.
	wildcard := len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*"

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Accept", SessionHeader},
		AllowCredentials: !wildcard,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	identified := r.Group("/")
	identified.Use(IdentityMiddleware(tokenConfig))
	{
		apiGroup := identified.Group("/api")
		{
			draftsGroup := apiGroup.Group("/drafts")
			{
				draftsGroup.GET("", handler.ListDrafts)
				draftsGroup.POST("", handler.CreateDraft)
				draftsGroup.PUT("/:id", handler.UpdateDraft)
				draftsGroup.DELETE("/:id", handler.DeleteDraft)
			}

			progressGroup := apiGroup.Group("/progress")
			{
				progressGroup.GET("", handler.GetProgress)
				progressGroup.PUT("", handler.PutProgress)
			}
		}

		// Draft event stream for cross-tab reconciliation.
		identified.GET("/ws/drafts", hub.Serve)
	}

	return r, nil
}
