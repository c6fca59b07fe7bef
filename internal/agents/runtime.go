package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/providers/llm"
	"github.com/yoockh/yooprep/internal/providers/search"
	"github.com/yoockh/yooprep/internal/ratelimit"
	"github.com/yoockh/yooprep/internal/utils"
)

// Runtime adapts the LLM and search providers into the two agent roles the
// orchestrator calls: interviewer and coach. One Runtime per session; agents
// never live in process-wide singletons.
type Runtime struct {
	llm    llm.Provider
	search search.Provider
	fabric *ratelimit.Fabric
	log    *logrus.Entry

	now func() time.Time
}

func NewRuntime(provider llm.Provider, searcher search.Provider, fabric *ratelimit.Fabric, log *logrus.Entry) *Runtime {
	return &Runtime{
		llm:    provider,
		search: searcher,
		fabric: fabric,
		log:    log,
		now:    time.Now,
	}
}

type InterviewerTurn struct {
	Content      string
	ResponseType models.ResponseType
}

// NextInterviewerTurn produces the next assistant turn. The introduction and
// closing are template-driven; the middle of the interview goes to the LLM.
func (r *Runtime) NextInterviewerTurn(ctx context.Context, cfg models.SessionConfig, history []models.Turn, stats models.SessionStats) (InterviewerTurn, error) {
	const op = "Runtime.NextInterviewerTurn"

	if len(history) == 0 {
		return InterviewerTurn{
			Content:      introductionFor(cfg),
			ResponseType: models.ResponseIntroduction,
		}, nil
	}

	minutesLeft := 0.0
	if cfg.UseTimeBased && !stats.StartedAt.IsZero() {
		elapsed := r.now().Sub(stats.StartedAt)
		minutesLeft = (time.Duration(cfg.DurationMinutes)*time.Minute - elapsed).Minutes()
		if minutesLeft <= 0 {
			return InterviewerTurn{Content: closingFor(cfg), ResponseType: models.ResponseClosing}, nil
		}
	} else if !cfg.UseTimeBased && stats.QuestionCount >= cfg.TargetQuestionCount {
		return InterviewerTurn{Content: closingFor(cfg), ResponseType: models.ResponseClosing}, nil
	}

	prompt := interviewerPrompt(cfg, history, stats.QuestionCount, minutesLeft)
	raw, err := r.generate(ctx, prompt)
	if err != nil {
		if utils.IsCode(err, utils.CodeCapacityExhausted) {
			return InterviewerTurn{}, err
		}
		return InterviewerTurn{}, utils.E(utils.CodeAgentUnavailable, op, "interviewer generation failed", err)
	}

	var decision struct {
		Action  string `json:"action"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(extractJSON(raw), &decision); err != nil || decision.Content == "" {
		// model ignored the format; use the raw text as a new question
		return InterviewerTurn{Content: strings.TrimSpace(raw), ResponseType: models.ResponseQuestion}, nil
	}

	rt := models.ResponseQuestion
	if decision.Action == "ask_follow_up" {
		rt = models.ResponseFollowUp
	}
	return InterviewerTurn{Content: decision.Content, ResponseType: rt}, nil
}

// EvaluateAnswer is the coach's per-turn grading call.
func (r *Runtime) EvaluateAnswer(ctx context.Context, cfg models.SessionConfig, question, answer string, history []models.Turn) (string, error) {
	const op = "Runtime.EvaluateAnswer"

	out, err := r.generateBackground(ctx, evaluateAnswerPrompt(cfg, question, answer, history))
	if err != nil {
		return "", utils.E(utils.CodeAgentUnavailable, op, "answer evaluation failed", err)
	}
	return strings.TrimSpace(out), nil
}

// FinalSummary produces the terminal coaching summary (without resources).
func (r *Runtime) FinalSummary(ctx context.Context, cfg models.SessionConfig, history []models.Turn, feedback []models.FeedbackEntry) (*models.FinalSummary, error) {
	const op = "Runtime.FinalSummary"

	raw, err := r.generateBackground(ctx, finalSummaryPrompt(cfg, history, feedback))
	if err != nil {
		return nil, utils.E(utils.CodeAgentUnavailable, op, "summary generation failed", err)
	}

	var parsed struct {
		PatternsTendencies    string   `json:"patterns_tendencies"`
		Strengths             string   `json:"strengths"`
		Weaknesses            string   `json:"weaknesses"`
		ImprovementFocusAreas string   `json:"improvement_focus_areas"`
		ResourceSearchTopics  []string `json:"resource_search_topics"`
	}
	if err := json.Unmarshal(extractJSON(raw), &parsed); err != nil {
		r.log.WithError(err).Warn("summary json parse failed, falling back to raw text")
		return &models.FinalSummary{
			PatternsTendencies:    strings.TrimSpace(raw),
			ImprovementFocusAreas: "Review the detailed notes above.",
		}, nil
	}

	return &models.FinalSummary{
		PatternsTendencies:    parsed.PatternsTendencies,
		Strengths:             parsed.Strengths,
		Weaknesses:            parsed.Weaknesses,
		ImprovementFocusAreas: parsed.ImprovementFocusAreas,
		ResourceSearchTopics:  parsed.ResourceSearchTopics,
	}, nil
}

// RecommendResources searches for learning material per topic. At most 3
// topics, 2 results each, 6 resources total; falls back to a static list
// when the search yields nothing usable.
func (r *Runtime) RecommendResources(ctx context.Context, summary *models.FinalSummary) []models.Resource {
	const maxTopics = 3
	const perTopic = 2
	const maxTotal = 6

	topics := summary.ResourceSearchTopics
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}

	var out []models.Resource
	for _, topic := range topics {
		if len(out) >= maxTotal {
			break
		}
		results, err := r.searchTopic(ctx, topic, perTopic)
		if err != nil {
			r.log.WithError(err).WithField("topic", topic).Warn("resource search failed")
			continue
		}
		for _, res := range results {
			if len(out) >= maxTotal {
				break
			}
			out = append(out, models.Resource{
				Title:        res.Title,
				URL:          res.URL,
				Description:  res.Snippet,
				ResourceType: res.Type,
				Reasoning:    resourceReasoning(topic, summary.ImprovementFocusAreas),
			})
		}
	}

	if len(out) == 0 {
		out = fallbackResources()
	}
	return out
}

func (r *Runtime) searchTopic(ctx context.Context, topic string, n int) ([]search.Result, error) {
	if r.search == nil {
		return nil, utils.E(utils.CodeUnavailable, "Runtime.searchTopic", "search provider not configured", nil)
	}

	release, err := r.fabric.Acquire(ctx, ratelimit.ProviderSearch)
	if err != nil {
		return nil, err
	}
	defer release()

	return r.search.Search(ctx, "learn "+topic+" interview preparation", n)
}

// generate holds an llm fabric slot around each attempt and retries
// transient provider failures with backoff. A saturated fabric slot is not
// retried: foreground callers see CAPACITY_EXHAUSTED immediately.
func (r *Runtime) generate(ctx context.Context, prompt string) (string, error) {
	return callWithRetry(ctx, false, r.attempt(prompt))
}

// generateBackground is generate for coach-side work, where a saturated slot
// is retried with the same bounded backoff as provider failures.
func (r *Runtime) generateBackground(ctx context.Context, prompt string) (string, error) {
	return callWithRetry(ctx, true, r.attempt(prompt))
}

func (r *Runtime) attempt(prompt string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		release, err := r.fabric.Acquire(ctx, ratelimit.ProviderLLM)
		if err != nil {
			return "", err
		}
		defer release()
		return r.llm.Generate(ctx, prompt)
	}
}

func resourceReasoning(topic, focusAreas string) string {
	if focusAreas == "" {
		return "Recommended to strengthen " + topic + "."
	}
	return "Recommended because your improvement areas include " + truncate(focusAreas, 120) + "; this covers " + topic + "."
}

func fallbackResources() []models.Resource {
	return []models.Resource{
		{
			Title:        "STAR Method: The Complete Guide",
			URL:          "https://www.themuse.com/advice/star-interview-method",
			Description:  "Structure behavioral answers with situation, task, action, result.",
			ResourceType: "article",
			Reasoning:    "A reliable baseline for structuring interview answers.",
		},
		{
			Title:        "Mock Interview Practice",
			URL:          "https://www.pramp.com/",
			Description:  "Free peer-to-peer mock interviews.",
			ResourceType: "course",
			Reasoning:    "Deliberate practice is the fastest way to improve delivery.",
		},
	}
}

// extractJSON pulls the first JSON object out of an LLM reply, stripping
// markdown fences when present.
func extractJSON(raw string) []byte {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return []byte(strings.TrimSpace(s))
}
