package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yoockh/yooprep/internal/models"
)

// ArchiveRepository stores flattened conversation rows for released sessions.
type ArchiveRepository interface {
	InsertBatch(ctx context.Context, rows []models.ArchivedTurn) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.ArchivedTurn, error)
	ArchiveConversation(ctx context.Context, userID, sessionID string, turns []models.Turn) error
}

type archiveRepo struct {
	db *gorm.DB
}

func NewArchiveRepo(db *gorm.DB) ArchiveRepository {
	return &archiveRepo{db: db}
}

func (r *archiveRepo) InsertBatch(ctx context.Context, rows []models.ArchivedTurn) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// ArchiveConversation flattens a released session's turns into rows. Coach
// turns keep their structured payload in metadata.
func (r *archiveRepo) ArchiveConversation(ctx context.Context, userID, sessionID string, turns []models.Turn) error {
	rows := make([]models.ArchivedTurn, 0, len(turns))
	for _, t := range turns {
		row := models.ArchivedTurn{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: sessionID,
			Role:      string(t.Role),
			Agent:     string(t.Agent),
			Content:   t.Content,
			Timestamp: t.CreatedAt,
		}
		if t.Coaching != nil {
			if b, err := json.Marshal(t.Coaching); err == nil {
				row.Metadata = datatypes.JSON(b)
			}
		}
		rows = append(rows, row)
	}
	return r.InsertBatch(ctx, rows)
}

func (r *archiveRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.ArchivedTurn, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []models.ArchivedTurn
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
