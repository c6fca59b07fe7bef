package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type AgentTag string

const (
	AgentInterviewer AgentTag = "interviewer"
	AgentCoach       AgentTag = "coach"
)

type ResponseType string

const (
	ResponseIntroduction ResponseType = "introduction"
	ResponseQuestion     ResponseType = "question"
	ResponseFollowUp     ResponseType = "follow_up"
	ResponseClosing      ResponseType = "closing"
	ResponseCoaching     ResponseType = "coaching_feedback"
)

// Turn is one conversation entry. Assistant turns tagged AgentCoach carry the
// structured Coaching payload; ResponseType is the discriminator readers
// branch on.
type Turn struct {
	Role         Role             `bson:"role" json:"role"`
	Agent        AgentTag         `bson:"agent,omitempty" json:"agent,omitempty"`
	Content      string           `bson:"content" json:"content"`
	Coaching     *CoachingContent `bson:"coaching,omitempty" json:"coaching,omitempty"`
	ResponseType ResponseType     `bson:"response_type,omitempty" json:"response_type,omitempty"`
	CreatedAt    time.Time        `bson:"created_at" json:"created_at"`
}

type CoachingContent struct {
	Question string `bson:"question" json:"question"`
	Answer   string `bson:"answer" json:"answer"`
	Feedback string `bson:"feedback" json:"feedback"`
}

// FeedbackEntry is the coach's asynchronous evaluation of one user turn.
// TurnIndex is the position of the user turn in the conversation history.
type FeedbackEntry struct {
	TurnIndex int    `bson:"turn_index" json:"turn_index"`
	Question  string `bson:"question" json:"question"`
	Answer    string `bson:"answer" json:"answer"`
	Feedback  string `bson:"feedback" json:"feedback"`
	Error     string `bson:"error,omitempty" json:"error,omitempty"`
}

// SessionConversation is the conversation+feedback record persisted per session.
type SessionConversation struct {
	SessionID string          `bson:"session_id" json:"session_id"`
	History   []Turn          `bson:"history" json:"history"`
	Feedback  []FeedbackEntry `bson:"per_turn_feedback" json:"per_turn_feedback"`
	UpdatedAt time.Time       `bson:"updated_at" json:"updated_at"`
}

type Resource struct {
	Title        string `bson:"title" json:"title"`
	URL          string `bson:"url" json:"url"`
	Description  string `bson:"description" json:"description"`
	ResourceType string `bson:"resource_type" json:"resource_type"`
	Reasoning    string `bson:"reasoning,omitempty" json:"reasoning,omitempty"`
}

type FinalSummary struct {
	PatternsTendencies    string     `bson:"patterns_tendencies" json:"patterns_tendencies"`
	Strengths             string     `bson:"strengths" json:"strengths"`
	Weaknesses            string     `bson:"weaknesses" json:"weaknesses"`
	ImprovementFocusAreas string     `bson:"improvement_focus_areas" json:"improvement_focus_areas"`
	ResourceSearchTopics  []string   `bson:"resource_search_topics,omitempty" json:"resource_search_topics,omitempty"`
	RecommendedResources  []Resource `bson:"recommended_resources,omitempty" json:"recommended_resources,omitempty"`
	GeneratedAt           time.Time  `bson:"generated_at" json:"generated_at"`
}

// SessionSummary is the final-summary record persisted per session.
// Error is set instead of Summary when generation failed terminally.
type SessionSummary struct {
	SessionID string        `bson:"session_id" json:"session_id"`
	Summary   *FinalSummary `bson:"summary,omitempty" json:"summary,omitempty"`
	Error     string        `bson:"error,omitempty" json:"error,omitempty"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}

type SummaryState string

const (
	SummaryNone       SummaryState = "none"
	SummaryGenerating SummaryState = "generating"
	SummaryCompleted  SummaryState = "completed"
	SummaryError      SummaryState = "error"
)
