package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yooprep/internal/api/middleware"
	"github.com/yoockh/yooprep/internal/ratelimit"
	"github.com/yoockh/yooprep/internal/speech"
	"github.com/yoockh/yooprep/internal/transcribe"
)

// WSHandler upgrades streaming-transcription connections and hands them to
// the coordinator.
type WSHandler struct {
	coordinator *transcribe.Coordinator
	speech      speech.Service
	fabric      *ratelimit.Fabric
	upgrader    websocket.Upgrader
	log         *logrus.Logger
}

func NewWSHandler(coordinator *transcribe.Coordinator, svc speech.Service, fabric *ratelimit.Fabric, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		coordinator: coordinator,
		speech:      svc,
		fabric:      fabric,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
		log: log,
	}
}

// StreamTranscription is the bidirectional audio-in / transcript-events-out
// channel. Token auth is optional on the handshake; a bad token is rejected
// before the upgrade.
func (h *WSHandler) StreamTranscription(c *gin.Context) {
	if _, ok := middleware.VerifyWS(c.Request); !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Code: "UNAUTHORIZED", Message: "invalid token"})
		return
	}

	// fast pre-check before the upgrade; the coordinator still does the
	// authoritative acquire
	if !h.fabric.Available(ratelimit.ProviderStreaming) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, APIError{Code: "CAPACITY_EXHAUSTED", Message: "streaming capacity exhausted, retry shortly"})
		return
	}

	sessionID := c.Query("session_id")

	taskID := ""
	if h.speech != nil {
		id, err := h.speech.NewStreamTask(c.Request.Context(), sessionID)
		if err != nil {
			h.log.WithError(err).Warn("stream task create failed; continuing untracked")
		} else {
			taskID = id
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}

	h.coordinator.Handle(c.Request.Context(), conn, sessionID, taskID)
}
