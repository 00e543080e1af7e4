package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
	"github.com/pagepilot/pagepilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when the session id is unknown or already expired.
var ErrNotFound = errors.New("session not found")

const keyPrefix = "pagepilot:session:"

// Store keeps session records in Redis under a TTL. Expiry is handled by
// Redis itself: a key that outlives its TTL simply disappears, so expired
// sessions never need a sweeper.
type Store struct {
	logger *zap.Logger
	client redis.Cmdable
	ttl    time.Duration
}

// New connects a session store to Redis. The client is injected so tests can
// point it at an in-process server.
func New(cfg config.SessionConfig, client redis.Cmdable, logger *zap.Logger) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		logger: logger.Named("session"),
		client: client,
		ttl:    ttl,
	}
}

// NewClient builds the production Redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Put writes the session and refreshes its TTL. ExpiresAt is stamped here so
// the stored record and the Redis key expiry agree.
func (s *Store) Put(ctx context.Context, session schemas.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.ExpiresAt = now.Add(s.ttl)

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", session.ID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+session.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing session %s: %w", session.ID, err)
	}
	s.logger.Debug("Session stored",
		zap.String("session_id", session.ID),
		zap.String("phase", string(session.Phase)),
	)
	return nil
}

// Get fetches one session. A missing key maps to ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (schemas.Session, error) {
	payload, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return schemas.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schemas.Session{}, fmt.Errorf("fetching session %s: %w", id, err)
	}
	var session schemas.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return schemas.Session{}, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return session, nil
}

// UpdatePhase transitions an existing session to a new phase, preserving its
// remaining fields and refreshing the TTL.
func (s *Store) UpdatePhase(ctx context.Context, id string, phase schemas.SessionPhase) (schemas.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return schemas.Session{}, err
	}
	session.Phase = phase
	if err := s.Put(ctx, session); err != nil {
		return schemas.Session{}, err
	}
	return session, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// List scans up to limit live sessions. SCAN keeps this safe against large
// keyspaces; order is whatever Redis yields.
func (s *Store) List(ctx context.Context, limit int) ([]schemas.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]schemas.Session, 0, limit)
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", int64(limit)).Iterator()
	for iter.Next(ctx) {
		if len(out) == limit {
			break
		}
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		var session schemas.Session
		if err := json.Unmarshal(payload, &session); err != nil {
			s.logger.Warn("Skipping undecodable session record",
				zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		out = append(out, session)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	return out, nil
}
