package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCodeTTL is how long a binding code stays valid
const DefaultCodeTTL = 5 * time.Minute

// codeEntry holds the pending binding a one-time code stands for
type codeEntry struct {
	userID          uuid.UUID
	channel         Channel
	defaultLedgerID *uuid.UUID
	expiresAt       time.Time
}

// CodeStore is the process-local one-time-passcode store. Codes are
// deliberately not persisted: a restart invalidates them and the user
// regenerates.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]codeEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewCodeStore creates an in-memory code store with the given TTL
func NewCodeStore(ttl time.Duration) *CodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &CodeStore{
		codes: make(map[string]codeEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Generate issues a fresh 6-digit decimal code bound to the user and
// channel. The code is single use.
func (s *CodeStore) Generate(userID uuid.UUID, channel Channel, defaultLedgerID *uuid.UUID) (string, time.Time, error) {
	code, err := randomCode()
	if err != nil {
		return "", time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	expiresAt := s.now().Add(s.ttl)
	s.codes[code] = codeEntry{
		userID:          userID,
		channel:         channel,
		defaultLedgerID: defaultLedgerID,
		expiresAt:       expiresAt,
	}
	return code, expiresAt, nil
}

// Consume looks up a code and removes it. The second return is false
// for absent, already-used, or expired codes.
func (s *CodeStore) Consume(code string) (codeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		return codeEntry{}, false
	}
	delete(s.codes, code)
	if s.now().After(entry.expiresAt) {
		return codeEntry{}, false
	}
	return entry, true
}

// sweepLocked drops expired codes; callers hold the mutex
func (s *CodeStore) sweepLocked() {
	now := s.now()
	for code, entry := range s.codes {
		if now.After(entry.expiresAt) {
			delete(s.codes, code)
		}
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
