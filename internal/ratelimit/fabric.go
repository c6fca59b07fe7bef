package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yooprep/internal/utils"
)

// Provider names used across the process. Caps come from provider agreements.
const (
	ProviderBatchTranscription = "batch-transcription"
	ProviderSynthesis          = "synthesis"
	ProviderStreaming          = "streaming-transcription"
	ProviderLLM                = "llm"
	ProviderSearch             = "search"
)

// Fabric caps concurrent in-flight calls per external provider, process-wide.
// Waiters are served FIFO (blocked channel sends queue in arrival order).
type Fabric struct {
	mu     sync.Mutex
	sems   map[string]chan struct{}
	stats  map[string]*providerStats
	budget time.Duration

	log *logrus.Logger
}

type providerStats struct {
	capacity int
	active   int
	total    int64
	errors   int64
}

// ProviderUsage is a point-in-time view of one provider's slot usage.
type ProviderUsage struct {
	Capacity      int   `json:"capacity"`
	Active        int   `json:"active_connections"`
	Available     int   `json:"available_slots"`
	TotalRequests int64 `json:"total_requests"`
	Errors        int64 `json:"errors"`
}

// New builds a fabric with the given per-provider capacities. acquireBudget is
// the default wait before an acquire gives up with CAPACITY_EXHAUSTED.
func New(caps map[string]int, acquireBudget time.Duration, log *logrus.Logger) *Fabric {
	if acquireBudget <= 0 {
		acquireBudget = 5 * time.Second
	}
	f := &Fabric{
		sems:   make(map[string]chan struct{}, len(caps)),
		stats:  make(map[string]*providerStats, len(caps)),
		budget: acquireBudget,
		log:    log,
	}
	for name, cap := range caps {
		if cap <= 0 {
			cap = 1
		}
		f.sems[name] = make(chan struct{}, cap)
		f.stats[name] = &providerStats{capacity: cap}
	}
	return f
}

// Acquire blocks until a slot for provider is free, the context is cancelled,
// or the acquire budget elapses. The returned release func is safe to call
// more than once; only the first call frees the slot.
func (f *Fabric) Acquire(ctx context.Context, provider string) (func(), error) {
	const op = "Fabric.Acquire"

	f.mu.Lock()
	sem, ok := f.sems[provider]
	st := f.stats[provider]
	f.mu.Unlock()
	if !ok {
		return nil, utils.E(utils.CodeInternal, op, "unknown provider "+provider, nil)
	}

	timer := time.NewTimer(f.budget)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		f.countError(st)
		return nil, utils.E(utils.CodeCapacityExhausted, op, provider+" acquire cancelled", ctx.Err())
	case <-timer.C:
		f.countError(st)
		f.log.WithField("provider", provider).Warn("all slots occupied")
		return nil, utils.E(utils.CodeCapacityExhausted, op, provider+" capacity exhausted", nil)
	}

	f.mu.Lock()
	st.active++
	st.total++
	f.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-sem
			f.mu.Lock()
			st.active--
			f.mu.Unlock()
		})
	}
	return release, nil
}

func (f *Fabric) countError(st *providerStats) {
	f.mu.Lock()
	st.errors++
	f.mu.Unlock()
}

// Available reports whether provider has a free slot right now.
func (f *Fabric) Available(provider string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sem, ok := f.sems[provider]
	if !ok {
		return false
	}
	return len(sem) < cap(sem)
}

// Usage returns a snapshot of slot usage for every provider.
func (f *Fabric) Usage() map[string]ProviderUsage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]ProviderUsage, len(f.stats))
	for name, st := range f.stats {
		out[name] = ProviderUsage{
			Capacity:      st.capacity,
			Active:        st.active,
			Available:     st.capacity - len(f.sems[name]),
			TotalRequests: st.total,
			Errors:        st.errors,
		}
	}
	return out
}
