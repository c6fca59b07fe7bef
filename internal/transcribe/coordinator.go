package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/providers/stt"
	"github.com/yoockh/yooprep/internal/ratelimit"
	pgrepo "github.com/yoockh/yooprep/internal/repositories/postgres"
	"github.com/yoockh/yooprep/internal/utils"
)

// Event is the outbound vocabulary of a streaming-transcription connection.
type Event struct {
	Type       string     `json:"type"` // connected|transcript|speech_started|utterance_end|error
	Text       string     `json:"text,omitempty"`
	IsFinal    bool       `json:"is_final,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
	Code       utils.Code `json:"code,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Conn is the client side of the stream. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Coordinator drives one bidirectional audio stream through the streaming
// provider under the process-wide streaming cap. The semaphore slot is
// released exactly once on every exit path.
type Coordinator struct {
	fabric *ratelimit.Fabric
	live   stt.LiveProvider
	tasks  pgrepo.SpeechTaskRepository // optional

	idleLimit time.Duration
	log       *logrus.Logger
}

func NewCoordinator(fabric *ratelimit.Fabric, live stt.LiveProvider, tasks pgrepo.SpeechTaskRepository, idleLimit time.Duration, log *logrus.Logger) *Coordinator {
	if idleLimit <= 0 {
		idleLimit = 60 * time.Second
	}
	return &Coordinator{
		fabric:    fabric,
		live:      live,
		tasks:     tasks,
		idleLimit: idleLimit,
		log:       log,
	}
}

// wsWriter serializes writes; gorilla connections allow one writer at a time.
type wsWriter struct {
	c  Conn
	mu sync.Mutex
}

func (w *wsWriter) writeEvent(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// Handle runs the stream until either side closes. taskID tags the optional
// speech-task record; sessionID is informational.
func (c *Coordinator) Handle(ctx context.Context, conn Conn, sessionID, taskID string) {
	log := c.log.WithFields(logrus.Fields{"session": sessionID, "task": taskID})
	w := &wsWriter{c: conn}

	release, err := c.fabric.Acquire(ctx, ratelimit.ProviderStreaming)
	if err != nil {
		_ = w.writeEvent(Event{Type: "error", Code: utils.CodeCapacityExhausted, Message: "streaming capacity exhausted, retry shortly"})
		_ = conn.Close()
		c.finishTask(taskID, "", errors.New("stream capacity exhausted"))
		return
	}

	ctx, cancel := context.WithCancel(ctx)

	var lastFinal string
	var streamErr error
	var teardown sync.Once
	closeAll := func(cause error) {
		teardown.Do(func() {
			if cause != nil && !errors.Is(cause, io.EOF) && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				streamErr = cause
			}
			cancel()
			_ = conn.Close()
			release()
		})
	}

	stream, err := c.live.OpenStream(ctx, "")
	if err != nil {
		log.WithError(err).Error("provider stream open failed")
		_ = w.writeEvent(Event{Type: "error", Code: utils.CodeUnavailable, Message: "transcription provider unavailable"})
		closeAll(err)
		c.finishTask(taskID, "", err)
		return
	}

	_ = w.writeEvent(Event{Type: "connected", Timestamp: time.Now().UTC()})

	// client -> provider: opaque audio frames, no buffering beyond backpressure
	go func() {
		defer func() { _ = stream.CloseSend() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(c.idleLimit))
			msgType, data, rerr := conn.ReadMessage()
			if rerr != nil {
				closeAll(rerr)
				return
			}
			if msgType != websocket.BinaryMessage || len(data) == 0 {
				continue
			}
			if serr := stream.Send(data); serr != nil {
				closeAll(serr)
				return
			}
		}
	}()

	// provider -> client: translate to the event vocabulary
	for {
		ev, rerr := stream.Recv()
		if rerr != nil {
			closeAll(rerr)
			break
		}

		switch ev.Type {
		case stt.LiveSpeechStarted:
			_ = w.writeEvent(Event{Type: "speech_started", Timestamp: time.Now().UTC()})
		case stt.LiveUtteranceEnd:
			_ = w.writeEvent(Event{Type: "utterance_end", Timestamp: time.Now().UTC()})
		case stt.LiveTranscript:
			if ev.IsFinal {
				lastFinal = ev.Text
			}
			_ = w.writeEvent(Event{
				Type:       "transcript",
				Text:       ev.Text,
				IsFinal:    ev.IsFinal,
				Confidence: ev.Confidence,
				Timestamp:  time.Now().UTC(),
			})
		}
	}

	closeAll(nil)
	c.finishTask(taskID, lastFinal, streamErr)
	log.Debug("stream closed")
}

// finishTask marks the associated speech-task record completed or error.
func (c *Coordinator) finishTask(taskID, finalText string, cause error) {
	if c.tasks == nil || taskID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task := &models.SpeechTask{TaskID: taskID, Status: models.TaskCompleted}
	if cause != nil {
		task.Status = models.TaskError
		task.ErrorMessage = cause.Error()
	} else if finalText != "" {
		if b, err := json.Marshal(models.TranscriptResult{Text: finalText}); err == nil {
			task.Result = datatypes.JSON(b)
		}
	}
	if err := c.tasks.UpdateTask(ctx, task); err != nil {
		c.log.WithError(err).WithField("task", taskID).Warn("stream task update failed")
	}
}
