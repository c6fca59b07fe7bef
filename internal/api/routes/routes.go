package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yoockh/yooprep/internal/api/handlers"
	"github.com/yoockh/yooprep/internal/api/middleware"
)

type Deps struct {
	Interview *handlers.InterviewHandler
	Speech    *handlers.SpeechHandler
	Resume    *handlers.ResumeHandler
	WS        *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Sessions allow anonymous use; a bearer token binds ownership when present
	api := r.Group("/api")
	api.Use(middleware.OptionalAuth())

	api.POST("/sessions", d.Interview.CreateSession)
	api.POST("/interview/start", d.Interview.Start)
	api.POST("/interview/message", d.Interview.SendMessage)
	api.POST("/interview/end", d.Interview.End)
	api.POST("/interview/reset", d.Interview.Reset)
	api.GET("/interview/history", d.Interview.History)
	api.GET("/interview/stats", d.Interview.Stats)
	api.GET("/interview/per-turn-feedback", d.Interview.PerTurnFeedback)
	api.GET("/interview/final-summary", d.Interview.FinalSummaryStatus)

	api.GET("/session/time-remaining", d.Interview.TimeRemaining)
	api.POST("/session/ping", d.Interview.Ping)
	api.POST("/session/cleanup", d.Interview.Cleanup)
	api.GET("/sessions/active", d.Interview.ActiveSessions)

	api.POST("/speech-to-text", d.Speech.SubmitTranscription)
	api.GET("/speech-to-text/status/:task_id", d.Speech.TranscriptionStatus)
	api.GET("/speech/tasks", d.Speech.SessionTasks)
	api.POST("/text-to-speech", d.Speech.Synthesize)
	api.GET("/speech/usage", d.Speech.UsageStats)

	api.POST("/resume/upload", d.Resume.Upload)

	// WebSocket handshake carries its own token check
	r.GET("/api/speech-to-text/stream", d.WS.StreamTranscription)
}
