package models

import (
	"fmt"
	"time"
)

type InterviewStyle string

const (
	StyleFormal     InterviewStyle = "formal"
	StyleCasual     InterviewStyle = "casual"
	StyleAggressive InterviewStyle = "aggressive"
	StyleTechnical  InterviewStyle = "technical"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// SessionConfig is immutable after the session starts.
type SessionConfig struct {
	JobRole             string         `bson:"job_role" json:"job_role"`
	JobDescription      string         `bson:"job_description,omitempty" json:"job_description,omitempty"`
	ResumeContent       string         `bson:"resume_content,omitempty" json:"resume_content,omitempty"`
	Style               InterviewStyle `bson:"style" json:"style"`
	Difficulty          Difficulty     `bson:"difficulty" json:"difficulty"`
	CompanyName         string         `bson:"company_name,omitempty" json:"company_name,omitempty"`
	TargetQuestionCount int            `bson:"target_question_count" json:"target_question_count"`
	DurationMinutes     int            `bson:"duration_minutes" json:"duration_minutes"`
	UseTimeBased        bool           `bson:"use_time_based" json:"use_time_based"`
}

func (c *SessionConfig) ApplyDefaults() {
	if c.Style == "" {
		c.Style = StyleFormal
	}
	if c.Difficulty == "" {
		c.Difficulty = DifficultyMedium
	}
	if c.TargetQuestionCount <= 0 {
		c.TargetQuestionCount = 15
	}
	if c.DurationMinutes == 0 {
		c.DurationMinutes = 10
	}
}

func (c *SessionConfig) Validate() error {
	if c.JobRole == "" {
		return fmt.Errorf("job_role is required")
	}
	switch c.Style {
	case StyleFormal, StyleCasual, StyleAggressive, StyleTechnical:
	default:
		return fmt.Errorf("unknown style %q", c.Style)
	}
	switch c.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("unknown difficulty %q", c.Difficulty)
	}
	if c.DurationMinutes < 5 || c.DurationMinutes > 30 {
		return fmt.Errorf("duration_minutes must be within 5..30, got %d", c.DurationMinutes)
	}
	return nil
}

// SessionCore is the config+status+stats record persisted per session.
type SessionCore struct {
	SessionID string        `bson:"session_id" json:"session_id"`
	UserID    string        `bson:"user_id,omitempty" json:"user_id,omitempty"` // empty for anonymous
	Status    SessionStatus `bson:"status" json:"status"`
	Config    SessionConfig `bson:"config" json:"config"`
	Stats     SessionStats  `bson:"stats" json:"stats"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}

type SessionStats struct {
	TotalMessages            int       `bson:"total_messages" json:"total_messages"`
	UserMessages             int       `bson:"user_messages" json:"user_messages"`
	AssistantMessages        int       `bson:"assistant_messages" json:"assistant_messages"`
	QuestionCount            int       `bson:"question_count" json:"question_count"`
	TotalResponseTimeSeconds float64   `bson:"total_response_time_seconds" json:"total_response_time_seconds"`
	APICallCount             int       `bson:"total_api_calls" json:"total_api_calls"`
	StartedAt                time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	LastActivityAt           time.Time `bson:"last_activity_at,omitempty" json:"last_activity_at,omitempty"`
}
