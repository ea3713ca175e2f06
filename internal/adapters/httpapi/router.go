// Package httpapi exposes the local control surface of the client: a small
// REST API for joining, leaving, screen share and preference changes.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/echobridge/meet/internal/app"
	"github.com/echobridge/meet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RequestIDMiddleware tags every request so log lines from one control call
// can be correlated.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Header("X-Request-ID", rid)
		c.Next()
	}
}

type joinRequest struct {
	Room string `json:"room" binding:"required"`
}

type prefsRequest struct {
	Language    string `json:"user_language" binding:"required"`
	VoiceGender string `json:"voice_gender"`
	GestureMode bool   `json:"gesture_mode"`
}

func SetupRouter(mode string, ctrl *app.SessionController) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	api := r.Group("/api/v1")

	api.POST("/session/join", func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("module", "httpapi").Str("rid", c.GetString("request_id")).Str("room", req.Room).Msg("join requested")
		if err := ctrl.Join(c.Request.Context(), req.Room); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		view, err := ctrl.Status()
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	api.POST("/session/leave", func(c *gin.Context) {
		if err := ctrl.Leave(c.Request.Context()); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/session/share/start", func(c *gin.Context) {
		if err := ctrl.StartScreenShare(c.Request.Context()); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/session/share/stop", func(c *gin.Context) {
		ctrl.StopScreenShare()
		c.Status(http.StatusNoContent)
	})

	api.PUT("/session/preferences", func(c *gin.Context) {
		var req prefsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl.SetPreferences(domain.TranslationPreferences{
			Language:    req.Language,
			VoiceGender: req.VoiceGender,
			GestureMode: req.GestureMode,
		})
		c.Status(http.StatusNoContent)
	})

	api.GET("/session/status", func(c *gin.Context) {
		view, err := ctrl.Status()
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotInSession),
		errors.Is(err, domain.ErrScreenShareConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrMediaAcquisition),
		errors.Is(err, domain.ErrSignalingDown):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
