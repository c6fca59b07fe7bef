package config

import (
	"os"
	"strconv"
	"time"
)

// Settings holds the runtime tunables read once at startup.
type Settings struct {
	IdleBudget        time.Duration
	WarningThreshold  time.Duration
	IdleSweepInterval time.Duration

	FinalSummaryBudget   time.Duration
	PerTurnGradingBudget time.Duration

	CapBatchTranscription int
	CapSynthesis          int
	CapStreaming          int
	CapLLM                int
	CapSearch             int

	AcquireTimeout time.Duration
}

func LoadSettings() Settings {
	return Settings{
		IdleBudget:        minutes("IDLE_BUDGET_MINUTES", 15),
		WarningThreshold:  minutes("WARNING_THRESHOLD_MINUTES", 2),
		IdleSweepInterval: seconds("IDLE_SWEEP_INTERVAL_SECONDS", 60),

		FinalSummaryBudget:   seconds("FINAL_SUMMARY_BUDGET_SECONDS", 120),
		PerTurnGradingBudget: seconds("PER_TURN_GRADING_BUDGET_SECONDS", 30),

		CapBatchTranscription: intEnv("CAP_BATCH_TRANSCRIPTION", 5),
		CapSynthesis:          intEnv("CAP_SYNTHESIS", 26),
		CapStreaming:          intEnv("CAP_STREAMING_TRANSCRIPTION", 10),
		CapLLM:                intEnv("CAP_LLM", 8),
		CapSearch:             intEnv("CAP_SEARCH", 3),

		AcquireTimeout: seconds("ACQUIRE_TIMEOUT_SECONDS", 5),
	}
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func minutes(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Minute
}

func seconds(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Second
}
