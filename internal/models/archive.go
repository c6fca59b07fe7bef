package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// ArchivedTurn is a flattened conversation row written to Postgres when a
// session is released. Embedding is set only when an embedder is configured.
type ArchivedTurn struct {
	ID        string          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string          `gorm:"column:user_id;type:uuid;index" json:"user_id,omitempty"`
	SessionID string          `gorm:"column:session_id;type:uuid;index" json:"session_id"`
	Role      string          `gorm:"column:role;type:text" json:"role"`
	Agent     string          `gorm:"column:agent;type:text" json:"agent,omitempty"`
	Content   string          `gorm:"column:content;type:text" json:"content"`
	Embedding pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"embedding"`
	Timestamp time.Time       `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
	Metadata  datatypes.JSON  `gorm:"column:metadata;type:jsonb" json:"metadata"`
}

func (ArchivedTurn) TableName() string { return "archived_turns" }
