package models

import (
	"time"

	"gorm.io/datatypes"
)

type SpeechTaskType string

const (
	TaskBatchTranscription     SpeechTaskType = "batch_transcription"
	TaskStreamingTranscription SpeechTaskType = "streaming_transcription"
	TaskSynthesis              SpeechTaskType = "synthesis"
)

type SpeechTaskStatus string

const (
	TaskProcessing SpeechTaskStatus = "processing"
	TaskCompleted  SpeechTaskStatus = "completed"
	TaskError      SpeechTaskStatus = "error"
)

type SpeechTask struct {
	TaskID    string           `gorm:"column:task_id;type:uuid;primaryKey" json:"task_id"`
	SessionID string           `gorm:"column:session_id;type:uuid;index" json:"session_id,omitempty"`
	TaskType  SpeechTaskType   `gorm:"column:task_type;type:text" json:"task_type"`
	Status    SpeechTaskStatus `gorm:"column:status;type:text" json:"status"`

	Progress datatypes.JSON `gorm:"column:progress;type:jsonb" json:"progress,omitempty"`
	Result   datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`

	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;index" json:"updated_at"`
}

func (SpeechTask) TableName() string { return "speech_tasks" }

// TranscriptResult is the result blob for completed transcription tasks.
type TranscriptResult struct {
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}
