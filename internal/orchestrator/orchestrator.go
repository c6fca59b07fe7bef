package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yooprep/internal/activity"
	"github.com/yoockh/yooprep/internal/agents"
	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/store"
	"github.com/yoockh/yooprep/internal/utils"
)

type State string

const (
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateAbandoned  State = "abandoned"
)

// GradeRequest carries one committed Q/A pair to the coach pipeline.
type GradeRequest struct {
	SessionID string
	TurnIndex int
	Question  string
	Answer    string
	Config    models.SessionConfig
	History   []models.Turn
}

// CoachEnqueuer is implemented by the coach pipeline. Both calls must return
// quickly; the work itself runs in the background.
type CoachEnqueuer interface {
	EnqueueGrade(req GradeRequest)
	StartFinalSummary(sessionID string)
}

// InterimResult is what end() returns immediately: the per-turn feedback
// collected so far. The final summary is never included; clients poll for it.
type InterimResult struct {
	Status          string                 `json:"status"`
	PerTurnFeedback []models.FeedbackEntry `json:"per_turn_feedback"`
}

// Orchestrator is the per-session state machine. All mutations run under mu,
// which is the session mutex the registry hands out. External LLM calls run
// outside the mutex: snapshot under lock, call, merge under lock.
type Orchestrator struct {
	mu sync.Mutex

	sessionID string
	userID    string
	cfg       models.SessionConfig

	state      State
	processing bool // a send-user-message is between snapshot and commit
	generation int  // bumped by reset; invalidates in-flight turns

	history  []models.Turn
	feedback []models.FeedbackEntry

	summary         *models.FinalSummary
	summaryErr      string
	summaryInFlight bool

	stats models.SessionStats
	dirty bool

	runtime  *agents.Runtime
	coach    CoachEnqueuer
	clock    *activity.Clock
	onCommit func() // registry-installed snapshot scheduler

	log *logrus.Entry
	now func() time.Time
}

func New(sessionID, userID string, cfg models.SessionConfig, runtime *agents.Runtime, coach CoachEnqueuer, clock *activity.Clock, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		sessionID: sessionID,
		userID:    userID,
		cfg:       cfg,
		state:     StateConfigured,
		runtime:   runtime,
		coach:     coach,
		clock:     clock,
		log:       log,
		now:       time.Now,
	}
}

func (o *Orchestrator) SessionID() string { return o.sessionID }

// SetOnCommit installs the post-transition snapshot scheduler.
func (o *Orchestrator) SetOnCommit(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCommit = fn
}

// SetNow overrides the time source. Test hook.
func (o *Orchestrator) SetNow(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// Hydrate restores state from a persisted snapshot.
func Hydrate(snap *store.Snapshot, runtime *agents.Runtime, coach CoachEnqueuer, clock *activity.Clock, log *logrus.Entry) *Orchestrator {
	o := New(snap.Core.SessionID, snap.Core.UserID, snap.Core.Config, runtime, coach, clock, log)
	o.history = append(o.history, snap.Conversation.History...)
	o.feedback = append(o.feedback, snap.Conversation.Feedback...)
	o.stats = snap.Core.Stats
	o.summary = snap.Summary.Summary
	o.summaryErr = snap.Summary.Error

	switch snap.Core.Status {
	case models.StatusCompleted:
		o.state = StateCompleted
	case models.StatusAbandoned:
		o.state = StateAbandoned
	default:
		if len(o.history) > 0 {
			o.state = StateRunning
		}
	}
	return o
}

// Start produces the opening assistant turn. Valid only in Configured.
func (o *Orchestrator) Start(ctx context.Context) (models.Turn, error) {
	const op = "Orchestrator.Start"

	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateConfigured:
	case StateAbandoned:
		return models.Turn{}, utils.E(utils.CodeSessionTimeout, op, "session timed out", nil)
	default:
		return models.Turn{}, utils.E(utils.CodeSessionStateInvalid, op, "interview already started", nil)
	}

	// introduction is template-driven, no external call: safe under the lock
	turn, err := o.runtime.NextInterviewerTurn(ctx, o.cfg, nil, o.stats)
	if err != nil {
		return models.Turn{}, err
	}

	now := o.now()
	assistant := models.Turn{
		Role:         models.RoleAssistant,
		Agent:        models.AgentInterviewer,
		Content:      turn.Content,
		ResponseType: turn.ResponseType,
		CreatedAt:    now,
	}
	o.history = append(o.history, assistant)
	o.stats.StartedAt = now
	o.stats.TotalMessages++
	o.stats.AssistantMessages++
	o.state = StateRunning
	o.clock.Touch(o.sessionID)
	o.commitLocked()

	return assistant, nil
}

// SendUserMessage appends the user turn, asks the interviewer for the next
// turn outside the mutex, and commits both as one observable step. On any
// failure the provisional user turn is rolled back and history is unchanged.
func (o *Orchestrator) SendUserMessage(ctx context.Context, text string) (models.Turn, error) {
	const op = "Orchestrator.SendUserMessage"

	if text == "" {
		return models.Turn{}, utils.E(utils.CodeInvalidArgument, op, "message is empty", nil)
	}

	o.mu.Lock()
	switch o.state {
	case StateRunning:
	case StateAbandoned:
		o.mu.Unlock()
		return models.Turn{}, utils.E(utils.CodeSessionTimeout, op, "session timed out", nil)
	default:
		o.mu.Unlock()
		return models.Turn{}, utils.E(utils.CodeSessionStateInvalid, op, "interview is not running", nil)
	}
	if o.processing {
		o.mu.Unlock()
		return models.Turn{}, utils.E(utils.CodeSessionStateInvalid, op, "another message is being processed", nil)
	}

	start := o.now()
	o.processing = true
	gen := o.generation

	userTurn := models.Turn{Role: models.RoleUser, Content: text, CreatedAt: start}
	o.history = append(o.history, userTurn)
	userIndex := len(o.history) - 1
	question := o.lastInterviewerContentLocked()

	o.clock.Touch(o.sessionID)

	cfg := o.cfg
	historySnap := o.copyHistoryLocked()
	statsSnap := o.stats
	o.mu.Unlock()

	turn, genErr := o.runtime.NextInterviewerTurn(ctx, cfg, historySnap, statsSnap)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.generation != gen {
		// session was reset mid-flight; the provisional turn is already gone
		return models.Turn{}, utils.E(utils.CodeSessionStateInvalid, op, "session was reset", nil)
	}
	o.processing = false

	if genErr != nil {
		o.history = o.history[:userIndex]
		return models.Turn{}, genErr
	}

	now := o.now()
	assistant := models.Turn{
		Role:         models.RoleAssistant,
		Agent:        models.AgentInterviewer,
		Content:      turn.Content,
		ResponseType: turn.ResponseType,
		CreatedAt:    now,
	}
	o.history = append(o.history, assistant)

	o.stats.TotalMessages += 2
	o.stats.UserMessages++
	o.stats.AssistantMessages++
	o.stats.APICallCount++
	o.stats.TotalResponseTimeSeconds += now.Sub(start).Seconds()
	if turn.ResponseType == models.ResponseQuestion {
		o.stats.QuestionCount++
	}
	o.clock.Touch(o.sessionID)

	if turn.ResponseType == models.ResponseClosing {
		// terminal interview condition reached
		o.state = StateCompleted
		o.startSummaryLocked()
	}

	o.commitLocked()

	if question != "" {
		o.coach.EnqueueGrade(GradeRequest{
			SessionID: o.sessionID,
			TurnIndex: userIndex,
			Question:  question,
			Answer:    text,
			Config:    cfg,
			History:   historySnap,
		})
	}

	return assistant, nil
}

// End transitions to Completed and schedules the final summary. Idempotent:
// a second call returns the same interim result without a second summary task.
func (o *Orchestrator) End(ctx context.Context) (InterimResult, error) {
	const op = "Orchestrator.End"

	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateRunning:
		if o.processing {
			return InterimResult{}, utils.E(utils.CodeSessionStateInvalid, op, "a message is being processed", nil)
		}
		o.state = StateCompleted
		o.startSummaryLocked()
		o.commitLocked()
	case StateCompleted:
		// repeated end: same result, no duplicate summary
	case StateAbandoned:
		return InterimResult{}, utils.E(utils.CodeSessionTimeout, op, "session timed out", nil)
	default:
		return InterimResult{}, utils.E(utils.CodeSessionStateInvalid, op, "interview was not started", nil)
	}

	return InterimResult{
		Status:          "Interview Ended",
		PerTurnFeedback: o.copyFeedbackLocked(),
	}, nil
}

// Reset clears history, feedback, stats, and summary; the config and session
// id survive. Valid in any state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.generation++
	o.processing = false
	o.history = nil
	o.feedback = nil
	o.summary = nil
	o.summaryErr = ""
	o.summaryInFlight = false
	o.stats = models.SessionStats{}
	o.state = StateConfigured
	o.clock.Touch(o.sessionID)
	o.commitLocked()
}

// MarkAbandoned is called by the registry on idle timeout.
func (o *Orchestrator) MarkAbandoned() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateCompleted {
		o.state = StateAbandoned
		o.dirty = true
	}
}

// startSummaryLocked launches the terminal summarizer exactly once.
func (o *Orchestrator) startSummaryLocked() {
	if o.summaryInFlight || o.summary != nil || o.summaryErr != "" {
		return
	}
	o.summaryInFlight = true
	o.coach.StartFinalSummary(o.sessionID)
}

// MergeFeedback installs (or idempotently replaces) the coach feedback for
// one user turn. Out-of-range indices are invariant violations and are
// rejected loudly.
func (o *Orchestrator) MergeFeedback(entry models.FeedbackEntry) error {
	const op = "Orchestrator.MergeFeedback"

	o.mu.Lock()
	defer o.mu.Unlock()

	if entry.TurnIndex < 0 || entry.TurnIndex >= len(o.history) || o.history[entry.TurnIndex].Role != models.RoleUser {
		o.log.WithFields(logrus.Fields{
			"turn_index": entry.TurnIndex,
			"history":    len(o.history),
		}).Error("feedback merge references a non-user turn")
		return utils.E(utils.CodeInternal, op, "feedback index does not reference a user turn", nil)
	}

	replaced := false
	for i := range o.feedback {
		if o.feedback[i].TurnIndex == entry.TurnIndex {
			o.feedback[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		o.feedback = append(o.feedback, entry)
		sort.SliceStable(o.feedback, func(i, j int) bool {
			return o.feedback[i].TurnIndex < o.feedback[j].TurnIndex
		})
	}

	// grading was initiated by a user action, so it refreshes activity
	o.clock.Touch(o.sessionID)
	o.commitLocked()
	return nil
}

// SummaryInput returns the consistent snapshot the terminal summarizer reads.
func (o *Orchestrator) SummaryInput() (models.SessionConfig, []models.Turn, []models.FeedbackEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg, o.copyHistoryLocked(), o.copyFeedbackLocked()
}

// InstallSummary stores the terminal summary (or its error) and clears the
// in-flight flag.
func (o *Orchestrator) InstallSummary(summary *models.FinalSummary, errMsg string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.summary = summary
	o.summaryErr = errMsg
	o.summaryInFlight = false
	o.commitLocked()
}

// --- read-only views -------------------------------------------------------

func (o *Orchestrator) History() []models.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copyHistoryLocked()
}

func (o *Orchestrator) Stats() models.SessionStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

func (o *Orchestrator) Feedback() []models.FeedbackEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copyFeedbackLocked()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Config() models.SessionConfig {
	return o.cfg
}

// SummaryStatus reports {generating | completed | error | none}.
func (o *Orchestrator) SummaryStatus() (models.SummaryState, *models.FinalSummary, string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.summaryInFlight:
		return models.SummaryGenerating, nil, ""
	case o.summaryErr != "":
		return models.SummaryError, nil, o.summaryErr
	case o.summary != nil:
		cp := *o.summary
		return models.SummaryCompleted, &cp, ""
	default:
		return models.SummaryNone, nil, ""
	}
}

// Snapshot builds the three persisted records from current state. Callers
// must not hold the mutex.
func (o *Orchestrator) Snapshot() *store.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// ConsumeDirtySnapshot returns the snapshot and clears the dirty flag, or
// nil when nothing changed since the last snapshot.
func (o *Orchestrator) ConsumeDirtySnapshot() *store.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.dirty {
		return nil
	}
	o.dirty = false
	return o.snapshotLocked()
}

// MarkDirty re-flags the session after a failed persistence attempt.
func (o *Orchestrator) MarkDirty() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dirty = true
}

func (o *Orchestrator) snapshotLocked() *store.Snapshot {
	now := o.now()

	status := models.StatusActive
	switch o.state {
	case StateCompleted:
		status = models.StatusCompleted
	case StateAbandoned:
		status = models.StatusAbandoned
	}

	stats := o.stats
	if remaining, ok := o.clock.TimeRemaining(o.sessionID); ok {
		stats.LastActivityAt = now.Add(remaining - o.clock.IdleBudget())
	}

	return &store.Snapshot{
		Core: models.SessionCore{
			SessionID: o.sessionID,
			UserID:    o.userID,
			Status:    status,
			Config:    o.cfg,
			Stats:     stats,
			CreatedAt: o.stats.StartedAt,
			UpdatedAt: now,
		},
		Conversation: models.SessionConversation{
			SessionID: o.sessionID,
			History:   o.copyHistoryLocked(),
			Feedback:  o.copyFeedbackLocked(),
			UpdatedAt: now,
		},
		Summary: models.SessionSummary{
			SessionID: o.sessionID,
			Summary:   o.summary,
			Error:     o.summaryErr,
			UpdatedAt: now,
		},
	}
}

func (o *Orchestrator) commitLocked() {
	o.dirty = true
	if o.onCommit != nil {
		o.onCommit()
	}
}

func (o *Orchestrator) lastInterviewerContentLocked() string {
	for i := len(o.history) - 1; i >= 0; i-- {
		t := o.history[i]
		if t.Role == models.RoleAssistant && t.Agent == models.AgentInterviewer {
			return t.Content
		}
	}
	return ""
}

func (o *Orchestrator) copyHistoryLocked() []models.Turn {
	out := make([]models.Turn, len(o.history))
	copy(out, o.history)
	return out
}

func (o *Orchestrator) copyFeedbackLocked() []models.FeedbackEntry {
	out := make([]models.FeedbackEntry, len(o.feedback))
	copy(out, o.feedback)
	return out
}
