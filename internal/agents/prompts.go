package agents

import (
	"fmt"
	"strings"

	"github.com/yoockh/yooprep/internal/models"
)

var introductionTemplates = map[models.InterviewStyle]string{
	models.StyleFormal:     "Hello, and thank you for joining today. I'll be conducting your interview for the %s position%s. We'll go through a series of questions so I can learn about your background and experience. Whenever you're ready, please start by telling me a bit about yourself.",
	models.StyleCasual:     "Hey! Great to meet you. I'll be chatting with you today about the %s role%s. No pressure, this is just a conversation. To kick things off, tell me a little about yourself.",
	models.StyleAggressive: "Let's get started. You're here for the %s position%s, and I expect precise, substantive answers. First: walk me through your background, and keep it relevant.",
	models.StyleTechnical:  "Welcome. This is a technical interview for the %s position%s. I'll focus on your hands-on experience and how you approach problems. To begin, give me an overview of your technical background.",
}

var closingTemplates = map[models.InterviewStyle]string{
	models.StyleFormal:     "That brings us to the end of our interview. Thank you for your thoughtful answers today; you'll receive detailed feedback shortly.",
	models.StyleCasual:     "And that's a wrap! Thanks for the great conversation. Your feedback will be ready in a moment.",
	models.StyleAggressive: "We're done here. Feedback will follow.",
	models.StyleTechnical:  "That concludes the technical portion. Thank you; a detailed evaluation of your answers is being prepared.",
}

func introductionFor(cfg models.SessionConfig) string {
	tmpl, ok := introductionTemplates[cfg.Style]
	if !ok {
		tmpl = introductionTemplates[models.StyleFormal]
	}
	company := ""
	if cfg.CompanyName != "" {
		company = " at " + cfg.CompanyName
	}
	return fmt.Sprintf(tmpl, cfg.JobRole, company)
}

func closingFor(cfg models.SessionConfig) string {
	tmpl, ok := closingTemplates[cfg.Style]
	if !ok {
		tmpl = closingTemplates[models.StyleFormal]
	}
	return tmpl
}

func interviewerPrompt(cfg models.SessionConfig, history []models.Turn, questionsAsked int, minutesLeft float64) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a %s-style interviewer for a %s position", cfg.Style, cfg.JobRole)
	if cfg.CompanyName != "" {
		fmt.Fprintf(&sb, " at %s", cfg.CompanyName)
	}
	fmt.Fprintf(&sb, ". Difficulty level: %s.\n", cfg.Difficulty)

	if cfg.JobDescription != "" {
		fmt.Fprintf(&sb, "\nJob description:\n%s\n", truncate(cfg.JobDescription, 1500))
	}
	if cfg.ResumeContent != "" {
		fmt.Fprintf(&sb, "\nCandidate resume:\n%s\n", truncate(cfg.ResumeContent, 1500))
	}

	sb.WriteString("\nConversation so far:\n")
	sb.WriteString(formatHistory(history, 12, 400))

	if cfg.UseTimeBased {
		fmt.Fprintf(&sb, "\nAbout %.0f minutes remain in the interview.", minutesLeft)
	} else {
		fmt.Fprintf(&sb, "\nYou have asked %d of %d planned questions.", questionsAsked, cfg.TargetQuestionCount)
	}

	sb.WriteString(`

Decide the next move and respond with ONLY a JSON object:
{"action": "ask_follow_up" | "ask_new_question", "content": "<what you say to the candidate>"}
Ask a follow-up only when the last answer left something specific worth probing; otherwise move to a new question.`)

	return sb.String()
}

func evaluateAnswerPrompt(cfg models.SessionConfig, question, answer string, history []models.Turn) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an interview coach observing a %s interview for a %s position.\n", cfg.Style, cfg.JobRole)
	if cfg.ResumeContent != "" {
		fmt.Fprintf(&sb, "\nCandidate resume:\n%s\n", truncate(cfg.ResumeContent, 1000))
	}
	if cfg.JobDescription != "" {
		fmt.Fprintf(&sb, "\nJob description:\n%s\n", truncate(cfg.JobDescription, 1000))
	}

	sb.WriteString("\nRecent conversation:\n")
	sb.WriteString(formatHistory(history, 10, 200))

	fmt.Fprintf(&sb, "\nQuestion asked:\n%s\n\nCandidate answer:\n%s\n", question, answer)
	sb.WriteString(`
Give concise, conversational coaching feedback on this single answer: what worked, what to improve, and one concrete suggestion. Respond with the feedback text only.`)

	return sb.String()
}

func finalSummaryPrompt(cfg models.SessionConfig, history []models.Turn, feedback []models.FeedbackEntry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an interview coach producing the final evaluation of a %s interview for a %s position.\n", cfg.Style, cfg.JobRole)
	sb.WriteString("\nFull conversation:\n")
	sb.WriteString(formatHistory(history, 50, 400))

	if len(feedback) > 0 {
		sb.WriteString("\nPer-answer coaching notes:\n")
		for _, f := range feedback {
			if f.Error != "" {
				continue
			}
			fmt.Fprintf(&sb, "- Q: %s\n  Feedback: %s\n", truncate(f.Question, 150), truncate(f.Feedback, 300))
		}
	}

	sb.WriteString(`
Respond with ONLY a JSON object:
{
  "patterns_tendencies": "...",
  "strengths": "...",
  "weaknesses": "...",
  "improvement_focus_areas": "...",
  "resource_search_topics": ["topic 1", "topic 2"]
}
resource_search_topics are 2-3 short skill phrases worth studying, derived from the weaknesses.`)

	return sb.String()
}

func formatHistory(history []models.Turn, maxTurns, maxContent int) string {
	start := 0
	if len(history) > maxTurns {
		start = len(history) - maxTurns
	}

	var sb strings.Builder
	for _, t := range history[start:] {
		if t.Role == models.RoleSystem {
			continue
		}
		label := string(t.Role)
		if t.Agent != "" {
			label = string(t.Agent)
		}
		fmt.Fprintf(&sb, "[%s] %s\n", label, truncate(t.Content, maxContent))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
