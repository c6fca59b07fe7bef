package speech

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/yooprep/internal/cache"
	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/providers/tts"
	"github.com/yoockh/yooprep/internal/ratelimit"
	pgrepo "github.com/yoockh/yooprep/internal/repositories/postgres"
	"github.com/yoockh/yooprep/internal/utils"
)

const maxAudioBytes = 25 << 20

// Service fronts the speech plane: batch-transcription submission and
// text-to-speech synthesis. Batch work is queued on a redis stream and picked
// up by the worker pool; synthesis is synchronous under the synthesis cap.
type Service interface {
	SubmitBatch(ctx context.Context, sessionID string, audio []byte, language string) (string, error)
	TaskStatus(ctx context.Context, taskID string) (*models.SpeechTask, error)
	ListSessionTasks(ctx context.Context, sessionID string) ([]models.SpeechTask, error)
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
	NewStreamTask(ctx context.Context, sessionID string) (string, error)
}

type service struct {
	tasks  pgrepo.SpeechTaskRepository
	rdb    *redis.Client
	cache  *cache.RedisCache
	tts    tts.Provider
	fabric *ratelimit.Fabric
	stream string
	log    *logrus.Logger
}

func NewService(tasks pgrepo.SpeechTaskRepository, rdb *redis.Client, c *cache.RedisCache, synth tts.Provider, fabric *ratelimit.Fabric, log *logrus.Logger) Service {
	return &service{
		tasks:  tasks,
		rdb:    rdb,
		cache:  c,
		tts:    synth,
		fabric: fabric,
		stream: "speech:batch",
		log:    log,
	}
}

func (s *service) SubmitBatch(ctx context.Context, sessionID string, audio []byte, language string) (string, error) {
	const op = "SpeechService.SubmitBatch"

	if len(audio) == 0 {
		return "", utils.E(utils.CodeInvalidArgument, op, "audio payload is empty", nil)
	}
	if len(audio) > maxAudioBytes {
		return "", utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("audio exceeds %d bytes", maxAudioBytes), nil)
	}

	taskID := uuid.NewString()
	task := &models.SpeechTask{
		TaskID:    taskID,
		SessionID: sessionID,
		TaskType:  models.TaskBatchTranscription,
		Status:    models.TaskProcessing,
		Progress:  datatypes.JSON(`{"stage":"queued"}`),
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return "", utils.E(utils.CodePersistenceDegraded, op, "failed to create speech task", err)
	}

	fields := map[string]any{
		"task_id":      taskID,
		"session_id":   sessionID,
		"language":     language,
		"audio_base64": base64.StdEncoding.EncodeToString(audio),
		"ts_unix":      time.Now().UTC().Unix(),
	}
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: s.stream, Values: fields}).Err(); err != nil {
		_ = s.tasks.UpdateTask(ctx, &models.SpeechTask{
			TaskID:       taskID,
			Status:       models.TaskError,
			ErrorMessage: "failed to enqueue audio",
		})
		return "", utils.E(utils.CodeUnavailable, op, "failed to enqueue audio", err)
	}

	return taskID, nil
}

func (s *service) TaskStatus(ctx context.Context, taskID string) (*models.SpeechTask, error) {
	const op = "SpeechService.TaskStatus"

	if taskID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "task_id is required", nil)
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "task not found", err)
		}
		return nil, utils.E(utils.CodePersistenceDegraded, op, "failed to read task", err)
	}
	return task, nil
}

func (s *service) ListSessionTasks(ctx context.Context, sessionID string) ([]models.SpeechTask, error) {
	const op = "SpeechService.ListSessionTasks"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	rows, err := s.tasks.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, utils.E(utils.CodePersistenceDegraded, op, "failed to list tasks", err)
	}
	return rows, nil
}

// Synthesize returns audio bytes, serving repeats from the redis cache so a
// replayed interviewer line costs no provider slot.
func (s *service) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	const op = "SpeechService.Synthesize"

	if text == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "text is required", nil)
	}
	if s.tts == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "synthesis provider not configured", nil)
	}

	key := synthCacheKey(text, voice, speed)
	if s.cache != nil {
		if audio, hit, err := s.cache.GetBytes(ctx, key); err == nil && hit {
			return audio, nil
		}
	}

	release, err := s.fabric.Acquire(ctx, ratelimit.ProviderSynthesis)
	if err != nil {
		return nil, err
	}
	defer release()

	audio, err := s.tts.Synthesize(ctx, text, voice, speed)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "synthesis failed", err)
	}

	if s.cache != nil {
		if err := s.cache.SetBytes(ctx, key, audio, time.Hour); err != nil {
			s.log.WithError(err).Debug("synthesis cache set failed")
		}
	}
	return audio, nil
}

// NewStreamTask records a streaming-transcription task before the stream
// starts; the coordinator finishes it on teardown.
func (s *service) NewStreamTask(ctx context.Context, sessionID string) (string, error) {
	const op = "SpeechService.NewStreamTask"

	taskID := uuid.NewString()
	task := &models.SpeechTask{
		TaskID:    taskID,
		SessionID: sessionID,
		TaskType:  models.TaskStreamingTranscription,
		Status:    models.TaskProcessing,
		Progress:  datatypes.JSON(`{"stage":"streaming"}`),
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return "", utils.E(utils.CodePersistenceDegraded, op, "failed to create stream task", err)
	}
	return taskID, nil
}

func synthCacheKey(text, voice string, speed float64) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%.2f", text, voice, speed))
	return "tts:" + hex.EncodeToString(h[:])
}
