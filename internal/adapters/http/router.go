// Package http wires the gin router: the signaling WebSocket endpoint,
// the minimal REST surface and the operational endpoints.
package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/adapters/signal"
	"github.com/yomogy/ito/internal/config"
	"github.com/yomogy/ito/internal/store"
)

// ClientTokenMiddleware hands every browser a stable token cookie, used
// as the session id fallback when the handshake carries none.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// languages is the static list the lobby offers; the UI localizes against
// it client-side.
var languages = []string{"en", "ja", "de", "fr"}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller, st store.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ItoSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/languages", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"languages": languages})
	})

	if cfg.Mode == "debug" {
		// Debug-only wipe of all collections. Never mounted in release.
		api.DELETE("/debug/sessions", func(c *gin.Context) {
			if err := st.Reset(c.Request.Context()); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		})
	}

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.Query("sessionId")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
