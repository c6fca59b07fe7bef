package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yooprep/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	snaps  map[string]*Snapshot
	writes int
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*Snapshot)}
}

func (m *memStore) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	m.writes++
	cp := *snap
	m.snaps[snap.Core.SessionID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[sessionID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *snap
	return &cp, nil
}

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func snapWith(id string, messages int) *Snapshot {
	return &Snapshot{
		Core: models.SessionCore{
			SessionID: id,
			Status:    models.StatusActive,
			Stats:     models.SessionStats{TotalMessages: messages},
		},
		Conversation: models.SessionConversation{SessionID: id},
		Summary:      models.SessionSummary{SessionID: id},
	}
}

func TestSaverWritesLatestState(t *testing.T) {
	ms := newMemStore()
	s := NewSaver(ms, quietLog())

	var mu sync.Mutex
	messages := 0
	dirty := false

	snapshotFn := func() *Snapshot {
		mu.Lock()
		defer mu.Unlock()
		if !dirty {
			return nil
		}
		dirty = false
		return snapWith("s1", messages)
	}

	// rapid transitions; writes may coalesce but the last must win
	for i := 1; i <= 20; i++ {
		mu.Lock()
		messages = i
		dirty = true
		mu.Unlock()
		s.Schedule("s1", snapshotFn)
	}

	require.Eventually(t, func() bool {
		got, err := ms.Get(context.Background(), "s1")
		return err == nil && got.Core.Stats.TotalMessages == 20
	}, 2*time.Second, 5*time.Millisecond)

	ms.mu.Lock()
	writes := ms.writes
	ms.mu.Unlock()
	assert.LessOrEqual(t, writes, 20)
}

func TestSaverReportsFailures(t *testing.T) {
	ms := newMemStore()
	ms.fail = true
	s := NewSaver(ms, quietLog())

	var failed sync.WaitGroup
	failed.Add(1)
	var gotID string
	s.OnError = func(sessionID string, err error) {
		gotID = sessionID
		failed.Done()
	}

	s.Schedule("s1", func() *Snapshot { return snapWith("s1", 1) })
	failed.Wait()
	assert.Equal(t, "s1", gotID)
}

func TestFlushIsSynchronous(t *testing.T) {
	ms := newMemStore()
	s := NewSaver(ms, quietLog())

	require.NoError(t, s.Flush(context.Background(), snapWith("s2", 3)))

	got, err := ms.Get(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Core.Stats.TotalMessages)
}
