package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hweilin/moneybook/pkg/logger"
)

const (
	// DefaultScratchTTL bounds how long a previewed statement stays
	// executable before the upload has to be repeated.
	DefaultScratchTTL = 30 * time.Minute

	// scratchKeyPrefix is the prefix for import scratch keys
	scratchKeyPrefix = "import:scratch:"
)

// ScratchStore keeps raw statement bytes between import preview and
// execute. Entries carry a TTL so abandoned previews clean themselves up.
type ScratchStore struct {
	client *redis.Client
	logger *logger.Logger
}

// NewScratchStore creates a Redis-backed scratch store
func NewScratchStore(client *redis.Client, log *logger.Logger) *ScratchStore {
	return &ScratchStore{
		client: client,
		logger: log.WithField("component", "scratch"),
	}
}

func scratchKey(sessionID uuid.UUID) string {
	return scratchKeyPrefix + sessionID.String()
}

// Put stores the statement bytes for a session
func (s *ScratchStore) Put(ctx context.Context, sessionID uuid.UUID, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultScratchTTL
	}
	if err := s.client.Set(ctx, scratchKey(sessionID), data, ttl).Err(); err != nil {
		s.logger.Error("scratch error", "operation", "put", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to store scratch data: %w", err)
	}
	return nil
}

// Get retrieves the statement bytes for a session. A missing or expired
// entry returns nil, nil.
func (s *ScratchStore) Get(ctx context.Context, sessionID uuid.UUID) ([]byte, error) {
	val, err := s.client.Get(ctx, scratchKey(sessionID)).Bytes()
	if err == redis.Nil {
		s.logger.Debug("scratch miss", "session_id", sessionID)
		return nil, nil
	}
	if err != nil {
		s.logger.Error("scratch error", "operation", "get", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to get scratch data: %w", err)
	}
	return val, nil
}

// Delete removes the statement bytes for a session
func (s *ScratchStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.client.Del(ctx, scratchKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete scratch data: %w", err)
	}
	return nil
}
