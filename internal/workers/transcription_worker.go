package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/providers/stt"
	"github.com/yoockh/yooprep/internal/ratelimit"
	pgrepo "github.com/yoockh/yooprep/internal/repositories/postgres"
)

const batchRetries = 3

// TranscriptionWorkerPool consumes batch-transcription tasks from a redis
// stream, runs them through the STT provider under the batch cap, and writes
// results back to the task table. Status updates publish on
// task:<task_id>:status.
type TranscriptionWorkerPool struct {
	Redis      *redis.Client
	Tasks      pgrepo.SpeechTaskRepository
	STT        stt.Provider
	Fabric     *ratelimit.Fabric
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *TranscriptionWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Tasks == nil || p.STT == nil || p.Fabric == nil {
		return errors.New("TranscriptionWorkerPool missing dependency: Redis/Tasks/STT/Fabric must be set")
	}
	if p.Stream == "" {
		p.Stream = "speech:batch"
	}
	if p.Group == "" {
		p.Group = "transcription-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *TranscriptionWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *TranscriptionWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	taskID := getStr("task_id")
	if taskID == "" {
		return
	}

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id": msg.ID,
		"task_id":  taskID,
	})

	statusCh := "task:" + taskID + ":status"
	language := getStr("language")

	raw := getStr("audio_base64")
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:] // strip data:...;base64,
	}
	audio, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(audio) == 0 {
		log.Warn("invalid audio payload")
		p.fail(ctx, taskID, statusCh, "invalid audio payload")
		return
	}

	p.publishStatus(ctx, statusCh, "processing", "transcription running")

	text, conf, err := p.transcribeWithRetry(ctx, audio, language)
	if err != nil {
		log.WithError(err).Error("batch transcription failed")
		p.fail(ctx, taskID, statusCh, err.Error())
		return
	}

	result, _ := json.Marshal(models.TranscriptResult{Text: text, Confidence: conf})
	task := &models.SpeechTask{
		TaskID: taskID,
		Status: models.TaskCompleted,
		Result: datatypes.JSON(result),
	}
	if err := p.Tasks.UpdateTask(ctx, task); err != nil {
		log.WithError(err).Error("task result write failed")
	}
	p.publishStatus(ctx, statusCh, "completed", "transcription complete")
}

// transcribeWithRetry holds a batch slot per attempt and backs off between
// failures. Capacity exhaustion counts as a failed attempt.
func (p *TranscriptionWorkerPool) transcribeWithRetry(ctx context.Context, audio []byte, language string) (string, float64, error) {
	backoff := time.Second

	var lastErr error
	for attempt := 0; attempt < batchRetries; attempt++ {
		release, err := p.Fabric.Acquire(ctx, ratelimit.ProviderBatchTranscription)
		if err != nil {
			lastErr = err
		} else {
			text, conf, terr := p.STT.Transcribe(ctx, audio, language)
			release()
			if terr == nil {
				return text, conf, nil
			}
			lastErr = terr
		}

		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", 0, lastErr
}

func (p *TranscriptionWorkerPool) fail(ctx context.Context, taskID, statusCh, message string) {
	task := &models.SpeechTask{
		TaskID:       taskID,
		Status:       models.TaskError,
		ErrorMessage: message,
	}
	if err := p.Tasks.UpdateTask(ctx, task); err != nil {
		p.Logger.WithError(err).WithField("task_id", taskID).Error("task error write failed")
	}
	p.publishStatus(ctx, statusCh, "error", message)
}

func (p *TranscriptionWorkerPool) publishStatus(ctx context.Context, channel, status, message string) {
	payload, _ := json.Marshal(map[string]string{
		"type":    "status",
		"status":  status,
		"message": message,
	})
	_ = p.Redis.Publish(ctx, channel, string(payload)).Err()
}
