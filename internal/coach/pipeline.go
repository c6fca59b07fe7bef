package coach

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yooprep/internal/agents"
	"github.com/yoockh/yooprep/internal/logger"
	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/orchestrator"
)

const gradeAttempts = 2

// SessionResolver is the registry surface the pipeline merges through. A
// session evicted between enqueue and merge is re-hydrated by Resolve.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*orchestrator.Orchestrator, error)
}

// RuntimeFactory builds the coach-side agent runtime for one session.
type RuntimeFactory func(sessionID string) *agents.Runtime

// Pipeline runs the two background coach workers: the per-turn grader and the
// terminal summarizer. Grading tasks execute in turn-index order per session;
// results merge back through the session mutex.
type Pipeline struct {
	mu       sync.Mutex
	queues   map[string][]orchestrator.GradeRequest
	draining map[string]bool

	resolver   SessionResolver
	newRuntime RuntimeFactory

	gradingBudget time.Duration
	summaryBudget time.Duration

	log *logrus.Logger
	wg  sync.WaitGroup
}

func NewPipeline(factory RuntimeFactory, gradingBudget, summaryBudget time.Duration, log *logrus.Logger) *Pipeline {
	if gradingBudget <= 0 {
		gradingBudget = 30 * time.Second
	}
	if summaryBudget <= 0 {
		summaryBudget = 2 * time.Minute
	}
	return &Pipeline{
		queues:        make(map[string][]orchestrator.GradeRequest),
		draining:      make(map[string]bool),
		newRuntime:    factory,
		gradingBudget: gradingBudget,
		summaryBudget: summaryBudget,
		log:           log,
	}
}

// Bind wires the registry after construction (the registry itself is built
// with this pipeline as its coach enqueuer).
func (p *Pipeline) Bind(resolver SessionResolver) { p.resolver = resolver }

// Wait blocks until all in-flight background work finishes. Test hook and
// shutdown aid.
func (p *Pipeline) Wait() { p.wg.Wait() }

// EnqueueGrade queues grading for one committed user turn. Tasks for the same
// session run strictly in enqueue order.
func (p *Pipeline) EnqueueGrade(req orchestrator.GradeRequest) {
	p.mu.Lock()
	p.queues[req.SessionID] = append(p.queues[req.SessionID], req)
	if p.draining[req.SessionID] {
		p.mu.Unlock()
		return
	}
	p.draining[req.SessionID] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.drainGrades(req.SessionID)
}

func (p *Pipeline) drainGrades(sessionID string) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		queue := p.queues[sessionID]
		if len(queue) == 0 {
			p.draining[sessionID] = false
			delete(p.queues, sessionID)
			p.mu.Unlock()
			return
		}
		req := queue[0]
		p.queues[sessionID] = queue[1:]
		p.mu.Unlock()

		p.gradeOne(req)
	}
}

func (p *Pipeline) gradeOne(req orchestrator.GradeRequest) {
	log := logger.ForSession(p.log, req.SessionID).WithField("turn_index", req.TurnIndex)
	rt := p.newRuntime(req.SessionID)

	var feedback string
	var lastErr error
	for attempt := 0; attempt < gradeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.gradingBudget)
		feedback, lastErr = rt.EvaluateAnswer(ctx, req.Config, req.Question, req.Answer, req.History)
		cancel()
		if lastErr == nil {
			break
		}
	}

	entry := models.FeedbackEntry{
		TurnIndex: req.TurnIndex,
		Question:  clip(req.Question, 200),
		Answer:    clip(req.Answer, 200),
	}
	if lastErr != nil {
		log.WithError(lastErr).Error("per-turn grading failed")
		entry.Feedback = "Coaching feedback could not be generated for this answer."
		entry.Error = lastErr.Error()
	} else {
		entry.Feedback = feedback
	}

	p.merge(req.SessionID, entry, log)
}

func (p *Pipeline) merge(sessionID string, entry models.FeedbackEntry, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orc, err := p.resolver.Resolve(ctx, sessionID)
	if err != nil {
		log.WithError(err).Error("cannot resolve session for feedback merge")
		return
	}
	if err := orc.MergeFeedback(entry); err != nil {
		log.WithError(err).Error("feedback merge rejected")
	}
}

// StartFinalSummary launches the terminal summarizer. The orchestrator's
// in-flight flag guarantees at most one per session; this method just runs.
func (p *Pipeline) StartFinalSummary(sessionID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runFinalSummary(sessionID)
	}()
}

func (p *Pipeline) runFinalSummary(sessionID string) {
	log := logger.ForSession(p.log, sessionID)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.summaryBudget)
	defer cancel()

	orc, err := p.resolver.Resolve(ctx, sessionID)
	if err != nil {
		log.WithError(err).Error("cannot resolve session for final summary")
		return
	}

	cfg, history, feedback := orc.SummaryInput()
	if len(history) == 0 {
		orc.InstallSummary(nil, "no conversation history available for final summary")
		return
	}

	rt := p.newRuntime(sessionID)

	summary, err := rt.FinalSummary(ctx, cfg, history, feedback)
	if err != nil {
		log.WithError(err).Error("final summary generation failed")
		orc.InstallSummary(nil, fmt.Sprintf("final summary generation failed: %v", err))
		return
	}

	summary.RecommendedResources = rt.RecommendResources(ctx, summary)
	summary.GeneratedAt = time.Now().UTC()

	orc.InstallSummary(summary, "")
	log.WithFields(logrus.Fields{
		"resources":  len(summary.RecommendedResources),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("final summary completed")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
