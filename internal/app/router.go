package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"animehub/internal/auth"
	"animehub/internal/events"
	"animehub/internal/logging"
	"animehub/internal/pending"
	"animehub/internal/syncer"
	"animehub/internal/titles"
)

// Router builds the HTTP API. Catalog reads are public; the pending queue and
// every sync trigger sit behind the admin token.
func Router(s *Services, hub *events.Hub, runner *syncer.Runner) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger())
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/ws", events.WSHandler(hub))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": s.Config.Database.Path})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := s.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":      "not_ready",
				"db_error":    err.Error(),
				"tcp_clients": stats.TCPClients,
				"ws_clients":  stats.WSClients,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"db":          "ok",
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
			"runs":        len(runner.List()),
		})
	})

	titles.NewHandler(s.Titles).RegisterRoutes(router.Group("/titles"))

	authHandler := auth.NewHandler(s.Admins, s.Tokens)
	authHandler.RegisterRoutes(router.Group("/auth"))

	admin := router.Group("/admin")
	admin.Use(authHandler.Middleware())
	pending.NewHandler(s.Pending).RegisterRoutes(admin.Group("/pending"))
	syncer.NewHandler(s.Importer, s.Reconcilers, runner, s.Logs).RegisterRoutes(admin)

	return router
}
