// Package http is the local control surface the presentation layer talks to:
// REST commands plus a websocket state stream.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/app"
	"github.com/openroom/voiceclient/internal/config"
	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, coord *app.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")
	api.POST("/session/join", handleJoin(coord))
	api.POST("/session/leave", handleLeave(coord))
	api.POST("/session/mute", handleMute(coord))
	api.GET("/session/state", handleState(coord))
	api.GET("/ws/state", handleStateStream(coord))

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type joinRequest struct {
	RoomID  string `json:"roomId" binding:"required"`
	GroupID string `json:"groupId"`
}

func handleJoin(coord *app.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid roomId"})
			return
		}
		if err := coord.JoinRoom(c.Request.Context(), domain.RoomID(req.RoomID), domain.GroupID(req.GroupID)); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	}
}

func handleLeave(coord *app.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := coord.LeaveRoom(); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	}
}

func handleMute(coord *app.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := coord.ToggleMute(); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Snapshot())
	}
}

func handleState(coord *app.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.Snapshot())
	}
}

func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}
