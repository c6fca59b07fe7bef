package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yooprep/internal/activity"
	"github.com/yoockh/yooprep/internal/agents"
	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/ratelimit"
	"github.com/yoockh/yooprep/internal/utils"
)

type fakeLLM struct {
	mu       sync.Mutex
	failures int           // fail this many calls before succeeding
	failAll  bool          // every call fails
	gate     chan struct{} // when set, Generate blocks until closed
	calls    int
	reply    string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	fail := f.failAll || f.failures > 0
	if f.failures > 0 {
		f.failures--
	}
	reply := f.reply
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("upstream 503")
	}
	if reply == "" {
		reply = `{"action": "ask_new_question", "content": "Tell me about a project you led."}`
	}
	return reply, nil
}

func (f *fakeLLM) Close() error { return nil }

type fakeCoach struct {
	mu        sync.Mutex
	grades    []GradeRequest
	summaries int
}

func (f *fakeCoach) EnqueueGrade(req GradeRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grades = append(f.grades, req)
}

func (f *fakeCoach) StartFinalSummary(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
}

func (f *fakeCoach) summaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries
}

func quietEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("test", true)
}

func testConfig() models.SessionConfig {
	cfg := models.SessionConfig{
		JobRole:         "Software Engineer",
		Style:           models.StyleFormal,
		Difficulty:      models.DifficultyMedium,
		DurationMinutes: 5,
		UseTimeBased:    true,
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestOrchestrator(t *testing.T, provider *fakeLLM) (*Orchestrator, *fakeCoach) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	fabric := ratelimit.New(map[string]int{
		ratelimit.ProviderLLM:    4,
		ratelimit.ProviderSearch: 2,
	}, time.Second, log)

	rt := agents.NewRuntime(provider, nil, fabric, quietEntry())
	coach := &fakeCoach{}
	clock := activity.NewClock(15 * time.Minute)

	orc := New("sess-1", "", testConfig(), rt, coach, clock, quietEntry())
	return orc, coach
}

func TestStartProducesIntroduction(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeLLM{})

	turn, err := orc.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RoleAssistant, turn.Role)
	assert.Equal(t, models.AgentInterviewer, turn.Agent)
	assert.Equal(t, models.ResponseIntroduction, turn.ResponseType)
	assert.NotEmpty(t, turn.Content)

	history := orc.History()
	require.Len(t, history, 1)
	assert.Equal(t, StateRunning, orc.State())

	// a second start is a state error
	_, err = orc.Start(context.Background())
	assert.True(t, utils.IsCode(err, utils.CodeSessionStateInvalid))
}

func TestSendUserMessageGrowsHistoryByTwo(t *testing.T) {
	orc, coach := newTestOrchestrator(t, &fakeLLM{})

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	turn, err := orc.SendUserMessage(context.Background(), "I have five years of backend experience.")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, turn.Role)

	history := orc.History()
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleUser, history[1].Role)
	assert.Equal(t, "I have five years of backend experience.", history[1].Content)
	assert.Equal(t, models.RoleAssistant, history[2].Role)

	// the committed user turn was handed to the coach with its question
	coach.mu.Lock()
	defer coach.mu.Unlock()
	require.Len(t, coach.grades, 1)
	assert.Equal(t, 1, coach.grades[0].TurnIndex)
	assert.Equal(t, history[0].Content, coach.grades[0].Question)
	assert.Equal(t, history[1].Content, coach.grades[0].Answer)
}

func TestSendUserMessageRetriesTransientFailures(t *testing.T) {
	// fail twice then succeed: retries are internal, the caller sees success
	orc, _ := newTestOrchestrator(t, &fakeLLM{failures: 2})

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	_, err = orc.SendUserMessage(context.Background(), "answer")
	require.NoError(t, err)
	assert.Len(t, orc.History(), 3)
}

func TestSendUserMessageRollsBackOnFailure(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeLLM{failAll: true})

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	_, err = orc.SendUserMessage(context.Background(), "answer")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeAgentUnavailable))

	// history unchanged: the provisional user turn was rolled back
	assert.Len(t, orc.History(), 1)

	// session remains usable for a retry
	assert.Equal(t, StateRunning, orc.State())
}

func TestSendUserMessageSurfacesCapacityExhausted(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	fabric := ratelimit.New(map[string]int{
		ratelimit.ProviderLLM:    1,
		ratelimit.ProviderSearch: 1,
	}, 50*time.Millisecond, log)

	provider := &fakeLLM{}
	rt := agents.NewRuntime(provider, nil, fabric, quietEntry())
	coach := &fakeCoach{}
	clock := activity.NewClock(15 * time.Minute)
	orc := New("sess-cap", "", testConfig(), rt, coach, clock, quietEntry())

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	// saturate the llm cap from elsewhere in the process
	release, err := fabric.Acquire(context.Background(), ratelimit.ProviderLLM)
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = orc.SendUserMessage(context.Background(), "answer")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeCapacityExhausted))
	assert.Less(t, time.Since(start), 400*time.Millisecond, "foreground sends do not back off on capacity")

	provider.mu.Lock()
	assert.Zero(t, provider.calls)
	provider.mu.Unlock()

	// the provisional user turn was rolled back and the session stays usable
	assert.Len(t, orc.History(), 1)
	assert.Equal(t, StateRunning, orc.State())
}

func TestConcurrentSendsSerialize(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeLLM{gate: gate}
	orc, _ := newTestOrchestrator(t, provider)

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := orc.SendUserMessage(context.Background(), "first")
		firstDone <- err
	}()

	// wait until the first send is inside the LLM call
	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.calls >= 1
	}, time.Second, time.Millisecond)

	_, err = orc.SendUserMessage(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeSessionStateInvalid))

	close(gate)
	require.NoError(t, <-firstDone)

	// exactly one send committed: intro + user + assistant
	assert.Len(t, orc.History(), 3)
}

func TestEndIsIdempotent(t *testing.T) {
	orc, coach := newTestOrchestrator(t, &fakeLLM{})

	_, err := orc.Start(context.Background())
	require.NoError(t, err)
	_, err = orc.SendUserMessage(context.Background(), "answer")
	require.NoError(t, err)

	res1, err := orc.End(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, coach.summaryCount())

	// send after end is rejected, history untouched
	_, err = orc.SendUserMessage(context.Background(), "more")
	assert.True(t, utils.IsCode(err, utils.CodeSessionStateInvalid))
	assert.Len(t, orc.History(), 3)

	// repeated end: same result shape, no duplicate summary task
	res2, err := orc.End(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res1.Status, res2.Status)
	assert.Equal(t, 1, coach.summaryCount())
}

func TestAbandonedSessionRejectsWork(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeLLM{})

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	orc.MarkAbandoned()

	_, err = orc.SendUserMessage(context.Background(), "hello?")
	assert.True(t, utils.IsCode(err, utils.CodeSessionTimeout))

	_, err = orc.End(context.Background())
	assert.True(t, utils.IsCode(err, utils.CodeSessionTimeout))
}

func TestResetReturnsToConfigured(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeLLM{})

	first, err := orc.Start(context.Background())
	require.NoError(t, err)
	_, err = orc.SendUserMessage(context.Background(), "answer")
	require.NoError(t, err)

	orc.Reset()
	assert.Equal(t, StateConfigured, orc.State())
	assert.Empty(t, orc.History())
	assert.Empty(t, orc.Feedback())
	assert.Equal(t, models.SessionStats{}, orc.Stats())

	// reset + start yields the same opening structure as a fresh session
	again, err := orc.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Role, again.Role)
	assert.Equal(t, first.Agent, again.Agent)
	assert.Equal(t, first.ResponseType, again.ResponseType)
}

func TestMergeFeedbackOrdering(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeLLM{})

	_, err := orc.Start(context.Background())
	require.NoError(t, err)
	_, err = orc.SendUserMessage(context.Background(), "first answer")
	require.NoError(t, err)
	_, err = orc.SendUserMessage(context.Background(), "second answer")
	require.NoError(t, err)

	// merges complete out of order; entries still read in index order
	require.NoError(t, orc.MergeFeedback(models.FeedbackEntry{TurnIndex: 3, Question: "q2", Answer: "second answer", Feedback: "good"}))
	require.NoError(t, orc.MergeFeedback(models.FeedbackEntry{TurnIndex: 1, Question: "q1", Answer: "first answer", Feedback: "fine"}))

	fb := orc.Feedback()
	require.Len(t, fb, 2)
	assert.Equal(t, 1, fb[0].TurnIndex)
	assert.Equal(t, 3, fb[1].TurnIndex)

	// re-merge replaces, never duplicates
	require.NoError(t, orc.MergeFeedback(models.FeedbackEntry{TurnIndex: 1, Question: "q1", Answer: "first answer", Feedback: "revised"}))
	fb = orc.Feedback()
	require.Len(t, fb, 2)
	assert.Equal(t, "revised", fb[0].Feedback)

	// feedback count never exceeds user-turn count
	userTurns := 0
	for _, turn := range orc.History() {
		if turn.Role == models.RoleUser {
			userTurns++
		}
	}
	assert.LessOrEqual(t, len(fb), userTurns)
}

func TestMergeFeedbackRejectsInvalidIndex(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeLLM{})

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	// index 0 is the assistant introduction, not a user turn
	err = orc.MergeFeedback(models.FeedbackEntry{TurnIndex: 0, Feedback: "x"})
	require.Error(t, err)

	err = orc.MergeFeedback(models.FeedbackEntry{TurnIndex: 99, Feedback: "x"})
	require.Error(t, err)

	assert.Empty(t, orc.Feedback())
}

func TestSummaryStatusLifecycle(t *testing.T) {
	orc, _ := newTestOrchestrator(t, &fakeLLM{})

	state, _, _ := orc.SummaryStatus()
	assert.Equal(t, models.SummaryNone, state)

	_, err := orc.Start(context.Background())
	require.NoError(t, err)
	_, err = orc.End(context.Background())
	require.NoError(t, err)

	state, _, _ = orc.SummaryStatus()
	assert.Equal(t, models.SummaryGenerating, state)

	orc.InstallSummary(&models.FinalSummary{Strengths: "clear answers"}, "")
	state, summary, _ := orc.SummaryStatus()
	assert.Equal(t, models.SummaryCompleted, state)
	require.NotNil(t, summary)
	assert.Equal(t, "clear answers", summary.Strengths)
}

func TestQuestionCountTerminalCondition(t *testing.T) {
	provider := &fakeLLM{}
	orc, coach := newTestOrchestrator(t, provider)

	// count-based session with a single planned question
	cfg := testConfig()
	cfg.UseTimeBased = false
	cfg.TargetQuestionCount = 1
	orc.cfg = cfg

	_, err := orc.Start(context.Background())
	require.NoError(t, err)

	turn, err := orc.SendUserMessage(context.Background(), "answer one")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseQuestion, turn.ResponseType)

	turn, err = orc.SendUserMessage(context.Background(), "answer two")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseClosing, turn.ResponseType)

	// closing is a terminal interview condition
	assert.Equal(t, StateCompleted, orc.State())
	assert.Equal(t, 1, coach.summaryCount())
}
