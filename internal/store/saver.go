package store

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Saver writes snapshots asynchronously, coalescing rapid transitions: while
// a write is in flight further schedules only mark the session pending, and
// the loop re-reads the latest snapshot before each write, so the final write
// always reflects the final in-memory state.
type Saver struct {
	store SessionStore
	log   *logrus.Logger

	mu       sync.Mutex
	inflight map[string]*saveState

	writeTimeout time.Duration

	// OnError is invoked when a write fails terminally for this attempt, so
	// the owner can mark the session dirty for retry.
	OnError func(sessionID string, err error)
}

type saveState struct {
	pending bool
}

func NewSaver(s SessionStore, log *logrus.Logger) *Saver {
	return &Saver{
		store:        s,
		log:          log,
		inflight:     make(map[string]*saveState),
		writeTimeout: 10 * time.Second,
	}
}

// Schedule queues a snapshot write for sessionID. snapshotFn is called right
// before each write and must return a consistent snapshot (taken under the
// session mutex by the caller). A nil snapshot skips the write.
func (s *Saver) Schedule(sessionID string, snapshotFn func() *Snapshot) {
	s.mu.Lock()
	if st, ok := s.inflight[sessionID]; ok {
		st.pending = true
		s.mu.Unlock()
		return
	}
	st := &saveState{}
	s.inflight[sessionID] = st
	s.mu.Unlock()

	go s.run(sessionID, st, snapshotFn)
}

func (s *Saver) run(sessionID string, st *saveState, snapshotFn func() *Snapshot) {
	for {
		snap := snapshotFn()
		if snap != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
			err := s.store.PutSnapshot(ctx, snap)
			cancel()
			if err != nil {
				s.log.WithError(err).WithField("session", sessionID).Error("snapshot write failed")
				if s.OnError != nil {
					s.OnError(sessionID, err)
				}
			}
		}

		s.mu.Lock()
		if st.pending {
			st.pending = false
			s.mu.Unlock()
			continue
		}
		delete(s.inflight, sessionID)
		s.mu.Unlock()
		return
	}
}

// Flush writes the snapshot synchronously. Used on release/cleanup where the
// caller needs the result.
func (s *Saver) Flush(ctx context.Context, snap *Snapshot) error {
	return s.store.PutSnapshot(ctx, snap)
}
