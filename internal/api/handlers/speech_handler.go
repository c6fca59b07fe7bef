package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yooprep/internal/ratelimit"
	"github.com/yoockh/yooprep/internal/speech"
	"github.com/yoockh/yooprep/internal/utils"
)

type SpeechHandler struct {
	svc    speech.Service
	fabric *ratelimit.Fabric
}

func NewSpeechHandler(svc speech.Service, fabric *ratelimit.Fabric) *SpeechHandler {
	return &SpeechHandler{svc: svc, fabric: fabric}
}

// SubmitTranscription accepts a multipart audio file and queues it for batch
// transcription. The session association is optional.
func (h *SpeechHandler) SubmitTranscription(c *gin.Context) {
	const op = "SpeechHandler.SubmitTranscription"

	file, err := c.FormFile("audio")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "audio file is required", err))
		return
	}

	f, err := file.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "cannot read audio file", err))
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "cannot read audio file", err))
		return
	}

	taskID, err := h.svc.SubmitBatch(c.Request.Context(), c.GetHeader(sessionHeader), audio, c.PostForm("language"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

func (h *SpeechHandler) TranscriptionStatus(c *gin.Context) {
	task, err := h.svc.TaskStatus(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *SpeechHandler) SessionTasks(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	tasks, err := h.svc.ListSessionTasks(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

type SynthesizeRequest struct {
	Text  string `json:"text" binding:"required"`
	Voice string `json:"voice"`
	Speed string `json:"speed"`
}

// Synthesize returns mp3 audio for the given text.
func (h *SpeechHandler) Synthesize(c *gin.Context) {
	const op = "SpeechHandler.Synthesize"

	var req SynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	speed := 1.0
	if req.Speed != "" {
		v, err := strconv.ParseFloat(req.Speed, 64)
		if err != nil || v < 0.25 || v > 4.0 {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "speed must be a number in 0.25..4.0", err))
			return
		}
		speed = v
	}

	audio, err := h.svc.Synthesize(c.Request.Context(), req.Text, req.Voice, speed)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "audio/mpeg", audio)
}

// UsageStats reports fabric slot usage per provider.
func (h *SpeechHandler) UsageStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.fabric.Usage())
}
