package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/utils"
)

type SpeechTaskRepository interface {
	CreateTask(ctx context.Context, task *models.SpeechTask) error
	UpdateTask(ctx context.Context, task *models.SpeechTask) error
	GetTask(ctx context.Context, taskID string) (*models.SpeechTask, error)
	ListTasks(ctx context.Context, sessionID string) ([]models.SpeechTask, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type speechTaskRepo struct {
	db *gorm.DB
}

func NewSpeechTaskRepo(db *gorm.DB) SpeechTaskRepository {
	return &speechTaskRepo{db: db}
}

func (r *speechTaskRepo) CreateTask(ctx context.Context, task *models.SpeechTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.UpdatedAt = task.CreatedAt
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *speechTaskRepo) UpdateTask(ctx context.Context, task *models.SpeechTask) error {
	task.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.SpeechTask{}).
		Where("task_id = ?", task.TaskID).
		Updates(map[string]any{
			"status":        task.Status,
			"progress":      task.Progress,
			"result":        task.Result,
			"error_message": task.ErrorMessage,
			"updated_at":    task.UpdatedAt,
		}).Error
}

func (r *speechTaskRepo) GetTask(ctx context.Context, taskID string) (*models.SpeechTask, error) {
	var row models.SpeechTask
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *speechTaskRepo) ListTasks(ctx context.Context, sessionID string) ([]models.SpeechTask, error) {
	var rows []models.SpeechTask
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *speechTaskRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.SpeechTaskStatus{models.TaskCompleted, models.TaskError}, cutoff).
		Delete(&models.SpeechTask{})
	return res.RowsAffected, res.Error
}
