package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/yooprep/internal/cache"
	"github.com/yoockh/yooprep/internal/utils"
)

// MongoStore keeps the three session records in dedicated collections keyed
// by session_id. A short-TTL redis cache fronts Get for hot re-hydration.
type MongoStore struct {
	core         *mongo.Collection
	conversation *mongo.Collection
	summary      *mongo.Collection

	cache    *cache.RedisCache
	cacheTTL time.Duration

	log *logrus.Logger
}

func NewMongoStore(db *mongo.Database, c *cache.RedisCache, log *logrus.Logger) *MongoStore {
	return &MongoStore{
		core:         db.Collection("session_core"),
		conversation: db.Collection("session_conversation"),
		summary:      db.Collection("session_summary"),
		cache:        c,
		cacheTTL:     5 * time.Minute,
		log:          log,
	}
}

func cacheKey(sessionID string) string { return "session:" + sessionID + ":snapshot" }

func (s *MongoStore) PutSnapshot(ctx context.Context, snap *Snapshot) error {
	const op = "MongoStore.PutSnapshot"

	id := snap.Core.SessionID
	if id == "" {
		return utils.E(utils.CodeInvalidArgument, op, "snapshot missing session_id", nil)
	}

	upsert := options.Replace().SetUpsert(true)
	filter := bson.M{"session_id": id}

	if _, err := s.core.ReplaceOne(ctx, filter, snap.Core, upsert); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to write core record", err)
	}
	if _, err := s.conversation.ReplaceOne(ctx, filter, snap.Conversation, upsert); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to write conversation record", err)
	}
	if _, err := s.summary.ReplaceOne(ctx, filter, snap.Summary, upsert); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to write summary record", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey(id), snap, s.cacheTTL); err != nil {
			s.log.WithError(err).Debug("snapshot cache set failed")
		}
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	const op = "MongoStore.Get"

	if s.cache != nil {
		var cached Snapshot
		if hit, err := s.cache.GetJSON(ctx, cacheKey(sessionID), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	var snap Snapshot
	filter := bson.M{"session_id": sessionID}

	err := s.core.FindOne(ctx, filter).Decode(&snap.Core)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.E(utils.CodeSessionNotFound, op, "session not found", utils.ErrNotFound)
	}
	if err != nil {
		return nil, utils.E(utils.CodePersistenceDegraded, op, "failed to read core record", err)
	}

	// conversation and summary records may lag the core on a fresh session
	err = s.conversation.FindOne(ctx, filter).Decode(&snap.Conversation)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.E(utils.CodePersistenceDegraded, op, "failed to read conversation record", err)
	}
	snap.Conversation.SessionID = sessionID

	err = s.summary.FindOne(ctx, filter).Decode(&snap.Summary)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.E(utils.CodePersistenceDegraded, op, "failed to read summary record", err)
	}
	snap.Summary.SessionID = sessionID

	return &snap, nil
}
