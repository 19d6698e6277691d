package api

import (
	"github.com/gin-gonic/gin"

	"github.com/siegeup/node-agent/internal/api/handlers"
	"github.com/siegeup/node-agent/internal/api/middleware"
	"github.com/siegeup/node-agent/internal/builds"
	"github.com/siegeup/node-agent/internal/config"
	"github.com/siegeup/node-agent/internal/hostinfo"
	"github.com/siegeup/node-agent/internal/logsink"
	"github.com/siegeup/node-agent/internal/state"
	"github.com/siegeup/node-agent/internal/supervisor"
)

// SetupRouter configures and returns the HTTP router
func SetupRouter(
	cfg *config.Config,
	store *state.Store,
	buildStore *builds.Store,
	sink *logsink.Sink,
	sup *supervisor.Supervisor,
	cpu *hostinfo.CPUTracker,
	updateCh chan<- struct{},
) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	serverHandler := handlers.NewServerHandler(store, buildStore, sink, sup, cpu, updateCh)
	buildHandler := handlers.NewBuildHandler(store, buildStore)
	logHandler := handlers.NewLogHandler(sink)

	router.POST("/launch", serverHandler.Launch)
	router.POST("/restart", serverHandler.Restart)
	router.POST("/update", serverHandler.Update)
	router.GET("/status", serverHandler.Status)
	router.POST("/upload", buildHandler.Upload)
	router.POST("/purge", buildHandler.Purge)
	router.GET("/logs/:port", logHandler.Logs)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
