package store

import (
	"context"

	"github.com/yoockh/yooprep/internal/models"
)

// Snapshot is the point-in-time view of a session after a committed state
// transition: the three logical records persisted per session.
type Snapshot struct {
	Core         models.SessionCore
	Conversation models.SessionConversation
	Summary      models.SessionSummary
}

// SessionStore persists session snapshots. Put replaces each of the three
// records wholesale; Get returns utils.ErrNotFound (wrapped) when the session
// has no core record.
type SessionStore interface {
	PutSnapshot(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, sessionID string) (*Snapshot, error)
}
