package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/orchestrator"
	"github.com/yoockh/yooprep/internal/registry"
	"github.com/yoockh/yooprep/internal/utils"
)

// InterviewHandler exposes the session-orchestration commands. Every
// session-scoped command resolves the orchestrator through the registry.
type InterviewHandler struct {
	reg *registry.Registry
}

func NewInterviewHandler(reg *registry.Registry) *InterviewHandler {
	return &InterviewHandler{reg: reg}
}

type CreateSessionRequest struct {
	JobRole             string `json:"job_role" binding:"required"`
	JobDescription      string `json:"job_description"`
	ResumeContent       string `json:"resume_content"`
	Style               string `json:"style"`
	Difficulty          string `json:"difficulty"`
	CompanyName         string `json:"company_name"`
	TargetQuestionCount int    `json:"target_question_count"`
	DurationMinutes     int    `json:"duration_minutes"`
	UseTimeBased        *bool  `json:"use_time_based"`
}

func (r *CreateSessionRequest) toConfig() models.SessionConfig {
	cfg := models.SessionConfig{
		JobRole:             r.JobRole,
		JobDescription:      r.JobDescription,
		ResumeContent:       r.ResumeContent,
		Style:               models.InterviewStyle(r.Style),
		Difficulty:          models.Difficulty(r.Difficulty),
		CompanyName:         r.CompanyName,
		TargetQuestionCount: r.TargetQuestionCount,
		DurationMinutes:     r.DurationMinutes,
		UseTimeBased:        true,
	}
	if r.UseTimeBased != nil {
		cfg.UseTimeBased = *r.UseTimeBased
	}
	return cfg
}

func (h *InterviewHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.CreateSession", "invalid request body", err))
		return
	}

	id, err := h.reg.Create(c.Request.Context(), req.toConfig(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (h *InterviewHandler) Start(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}

	turn, err := orc.Start(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *InterviewHandler) SendMessage(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.SendMessage", "invalid request body", err))
		return
	}

	turn, err := orc.SendUserMessage(c.Request.Context(), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *InterviewHandler) End(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}

	result, err := orc.End(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *InterviewHandler) Reset(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}
	orc.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (h *InterviewHandler) History(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": orc.History()})
}

func (h *InterviewHandler) Stats(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, orc.Stats())
}

func (h *InterviewHandler) PerTurnFeedback(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"per_turn_feedback": orc.Feedback()})
}

type FinalSummaryStatusResponse struct {
	Status  models.SummaryState  `json:"status"`
	Results *models.FinalSummary `json:"results,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func (h *InterviewHandler) FinalSummaryStatus(c *gin.Context) {
	orc, ok := h.resolve(c)
	if !ok {
		return
	}

	state, summary, errMsg := orc.SummaryStatus()
	c.JSON(http.StatusOK, FinalSummaryStatusResponse{
		Status:  state,
		Results: summary,
		Error:   errMsg,
	})
}

func (h *InterviewHandler) TimeRemaining(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	remaining, warned, err := h.reg.TimeRemaining(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"time_remaining_minutes": math.Round(remaining.Minutes()*10) / 10,
		"warning":                warned,
	})
}

func (h *InterviewHandler) Ping(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	expiry, err := h.reg.Ping(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"new_expiry": expiry.UTC()})
}

// Cleanup releases a session on client unload. Idempotent.
func (h *InterviewHandler) Cleanup(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	if err := h.reg.Cleanup(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleaned"})
}

func (h *InterviewHandler) ActiveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active_sessions": h.reg.ActiveCount()})
}

func (h *InterviewHandler) resolve(c *gin.Context) (*orchestrator.Orchestrator, bool) {
	id, ok := sessionID(c)
	if !ok {
		return nil, false
	}
	orc, err := h.reg.Resolve(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return orc, true
}
