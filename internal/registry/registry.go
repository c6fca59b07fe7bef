package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yooprep/internal/activity"
	"github.com/yoockh/yooprep/internal/agents"
	"github.com/yoockh/yooprep/internal/logger"
	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/orchestrator"
	"github.com/yoockh/yooprep/internal/store"
	"github.com/yoockh/yooprep/internal/utils"
)

// RuntimeFactory builds the per-session agent runtime. Each session gets its
// own adapters; no process-wide agent holds user data.
type RuntimeFactory func(sessionID string) *agents.Runtime

// Archiver receives the conversation of a released session for cold storage.
type Archiver interface {
	ArchiveConversation(ctx context.Context, userID, sessionID string, turns []models.Turn) error
}

// Registry is the single source of truth for live sessions in this process.
// Its mutex protects only the map; session work runs under each session's own
// mutex inside the orchestrator.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*orchestrator.Orchestrator

	store      store.SessionStore
	saver      *store.Saver
	clock      *activity.Clock
	coach      orchestrator.CoachEnqueuer
	newRuntime RuntimeFactory
	archiver   Archiver

	log *logrus.Logger
}

func New(st store.SessionStore, saver *store.Saver, clock *activity.Clock, coach orchestrator.CoachEnqueuer, factory RuntimeFactory, log *logrus.Logger) *Registry {
	r := &Registry{
		sessions:   make(map[string]*orchestrator.Orchestrator),
		store:      st,
		saver:      saver,
		clock:      clock,
		coach:      coach,
		newRuntime: factory,
		log:        log,
	}
	saver.OnError = func(sessionID string, err error) {
		r.mu.Lock()
		orc := r.sessions[sessionID]
		r.mu.Unlock()
		if orc != nil {
			orc.MarkDirty()
		}
	}
	return r
}

// SetArchiver wires optional conversation archiving on release.
func (r *Registry) SetArchiver(a Archiver) { r.archiver = a }

// Create allocates a session, publishes it, and writes the initial snapshot.
// The id is not leaked when the initial write fails.
func (r *Registry) Create(ctx context.Context, cfg models.SessionConfig, userID string) (string, error) {
	const op = "Registry.Create"

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return "", utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}

	sessionID := uuid.NewString()
	orc := r.buildOrchestrator(sessionID, userID, cfg, nil)

	if err := r.saver.Flush(ctx, orc.Snapshot()); err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "failed to persist new session", err)
	}

	r.mu.Lock()
	r.sessions[sessionID] = orc
	r.mu.Unlock()

	r.clock.Touch(sessionID)
	logger.ForSession(r.log, sessionID).Info("session created")
	return sessionID, nil
}

// Resolve returns the live orchestrator, hydrating from the store on a miss.
// Hydration is idempotent under concurrent resolves; the loser observes the
// winner's orchestrator. The registry mutex is never held across store I/O.
func (r *Registry) Resolve(ctx context.Context, sessionID string) (*orchestrator.Orchestrator, error) {
	const op = "Registry.Resolve"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session id is required", nil)
	}

	r.mu.Lock()
	if orc, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return orc, nil
	}
	r.mu.Unlock()

	snap, err := r.store.Get(ctx, sessionID)
	if err != nil {
		if utils.IsCode(err, utils.CodeSessionNotFound) {
			return nil, err
		}
		return nil, utils.E(utils.CodePersistenceDegraded, op, "failed to load session", err)
	}

	orc := r.buildOrchestrator(sessionID, snap.Core.UserID, snap.Core.Config, snap)

	r.mu.Lock()
	if winner, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return winner, nil
	}
	r.sessions[sessionID] = orc
	r.mu.Unlock()

	if orc.State() != orchestrator.StateAbandoned {
		r.clock.Touch(sessionID)
	}
	logger.ForSession(r.log, sessionID).Info("session hydrated")
	return orc, nil
}

func (r *Registry) buildOrchestrator(sessionID, userID string, cfg models.SessionConfig, snap *store.Snapshot) *orchestrator.Orchestrator {
	rt := r.newRuntime(sessionID)
	entry := logger.ForSession(r.log, sessionID)

	var orc *orchestrator.Orchestrator
	if snap != nil {
		orc = orchestrator.Hydrate(snap, rt, r.coach, r.clock, entry)
	} else {
		orc = orchestrator.New(sessionID, userID, cfg, rt, r.coach, r.clock, entry)
	}
	orc.SetOnCommit(func() {
		r.saver.Schedule(sessionID, orc.ConsumeDirtySnapshot)
	})
	return orc
}

// Release flushes and evicts. On a flush failure the session stays in memory,
// marked dirty, and the caller sees PERSISTENCE_DEGRADED.
func (r *Registry) Release(ctx context.Context, sessionID string) error {
	const op = "Registry.Release"

	r.mu.Lock()
	orc, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil // already released
	}

	snap := orc.Snapshot()
	if err := r.saver.Flush(ctx, snap); err != nil {
		orc.MarkDirty()
		logger.ForSession(r.log, sessionID).WithError(err).Error("flush on release failed; retaining session")
		return utils.E(utils.CodePersistenceDegraded, op, "failed to flush session state", err)
	}

	if r.archiver != nil {
		if err := r.archiver.ArchiveConversation(ctx, snap.Core.UserID, sessionID, snap.Conversation.History); err != nil {
			logger.ForSession(r.log, sessionID).WithError(err).Warn("conversation archive failed")
		}
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	r.clock.Remove(sessionID)

	logger.ForSession(r.log, sessionID).Info("session released")
	return nil
}

// Cleanup is Release plus abandoning a still-active session. Idempotent.
func (r *Registry) Cleanup(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	orc, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	orc.MarkAbandoned()
	return r.Release(ctx, sessionID)
}

// Ping extends the session and returns the new expiry.
func (r *Registry) Ping(ctx context.Context, sessionID string) (time.Time, error) {
	const op = "Registry.Ping"

	orc, err := r.Resolve(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if orc.State() == orchestrator.StateAbandoned {
		return time.Time{}, utils.E(utils.CodeSessionTimeout, op, "session timed out", nil)
	}

	if expiry, ok := r.clock.Ping(sessionID); ok {
		return expiry, nil
	}
	// live session whose clock entry is missing (hydration touches the clock,
	// so this happens only if the entry was removed meanwhile)
	r.clock.Touch(sessionID)
	expiry, _ := r.clock.Ping(sessionID)
	return expiry, nil
}

// TimeRemaining reports the idle countdown and whether the session is inside
// the warning window.
func (r *Registry) TimeRemaining(ctx context.Context, sessionID string) (time.Duration, bool, error) {
	orc, err := r.Resolve(ctx, sessionID)
	if err != nil {
		return 0, false, err
	}
	if orc.State() == orchestrator.StateAbandoned {
		return 0, false, utils.E(utils.CodeSessionTimeout, "Registry.TimeRemaining", "session timed out", nil)
	}

	remaining, ok := r.clock.TimeRemaining(sessionID)
	if !ok {
		r.clock.Touch(sessionID)
		remaining = r.clock.IdleBudget()
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, r.clock.Warned(sessionID), nil
}

// ActiveCount returns the number of live sessions in memory.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
