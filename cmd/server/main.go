// cmd/server/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/storyforge/draftsync/internal/api"
	"github.com/storyforge/draftsync/internal/auth"
	"github.com/storyforge/draftsync/internal/config"
	"github.com/storyforge/draftsync/internal/di"
	"github.com/storyforge/draftsync/internal/repos"
	"github.com/storyforge/draftsync/internal/utils"
)

func main() {
	log.Println("starting draftsync server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "draftsync.log")); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logger := utils.GetLogger()

	db, err := sql.Open("sqlite", cfg.DatabaseURL)
	if err != nil {
		logger.Errorf("open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repos.EnsureSchema(db); err != nil {
		logger.Errorf("apply schema: %v", err)
		os.Exit(1)
	}
	logger.Infof("database ready at %s", cfg.DatabaseURL)

	tokenConfig, err := buildTokenConfig(cfg)
	if err != nil {
		logger.Errorf("session credential config: %v", err)
		os.Exit(1)
	}

	container := di.GetContainer()
	container.Register("config", cfg)
	container.Register("draftRepo", repos.NewDraftRepo(db))
	container.Register("eventHub", api.NewEventHub())
	container.Register("tokenConfig", tokenConfig)
	logger.Infof("services registered: %v", container.GetNames())

	router, err := api.SetupRouter()
	if err != nil {
		logger.Errorf("setup router: %v", err)
		os.Exit(1)
	}

	logger.Infof("listening on port %s", cfg.Port)
	runWithGracefulShutdown(router, cfg.Port, logger)
}

// buildTokenConfig reads the signing secret, generating an ephemeral
// one in debug mode so local runs need no setup. Production requires
// an explicit secret or every restart invalidates all sessions.
func buildTokenConfig(cfg *config.Config) (*auth.TokenConfig, error) {
	var secret []byte
	if cfg.SessionSecret != "" {
		if decoded, err := hex.DecodeString(cfg.SessionSecret); err == nil {
			secret = decoded
		} else {
			secret = []byte(cfg.SessionSecret)
		}
	} else {
		if !cfg.DebugMode {
			log.Println("warning: SESSION_SECRET not set, generating an ephemeral signing key")
		}
		key, err := auth.GenerateSecureKey(32)
		if err != nil {
			return nil, err
		}
		secret = key
	}
	return &auth.TokenConfig{Secret: secret, Expiration: cfg.SessionTTL}, nil
}

func runWithGracefulShutdown(router *gin.Engine, port string, logger *utils.Logger) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("forced shutdown: %v", err)
	}
	logger.Infof("server stopped")
}
