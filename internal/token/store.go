// Package token owns the client's view of its bearer credential.
//
// The Store is the only writer of session identity: it holds the current
// access token and its expiry in memory and mirrors them to a JSON record on
// disk under a fixed path. Expiry checks fail closed: a token that cannot be
// decoded is expired, never valid.
package token

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew is the clock-skew tolerance applied when checking expiry.
// A token within this window of its expiry is already treated as expired.
const expirySkew = 30 * time.Second

// Token is the persisted credential record.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Email       string    `json:"email,omitempty"`
}

// Store holds the current token in memory and mirrors it to disk.
// All methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	current    *Token
	generation uint64

	path string
	now  func() time.Time
}

// NewStore creates a Store backed by the JSON record at path. If a record
// already exists on disk it is loaded into memory; a corrupt record is
// ignored and will be overwritten by the next Set.
func NewStore(path string) *Store {
	s := &Store{
		path: path,
		now:  time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil || tok.AccessToken == "" {
		return s
	}
	s.current = &tok
	return s
}

// NewMemoryStore creates a Store with no durable medium. Used in tests and
// by callers that must never touch the filesystem.
func NewMemoryStore() *Store {
	return &Store{now: time.Now}
}

// Get returns the current token. The second return is false when no token
// is held. Pure read, no side effects.
func (s *Store) Get() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Token{}, false
	}
	return *s.current, true
}

// Set stores a new token, overwriting any prior value unconditionally.
// The durable write is best-effort: a failed disk write never surfaces to
// the caller, memory state always wins.
func (s *Store) Set(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := tok
	s.current = &cp
	s.generation++
	s.persistLocked()
}

// Clear wipes the token from memory and disk. Idempotent for the visible
// token, but the generation bumps on every call: a Clear must invalidate a
// refresh already on the wire even when the store is currently empty.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	s.generation++
	if s.path != "" {
		_ = os.Remove(s.path)
	}
}

// SetIfGeneration stores tok only when the store's generation still equals
// generation, returning whether the write happened. This is the refresh
// coordinator's guard against applying a token that was issued against a
// session identity which no longer exists.
func (s *Store) SetIfGeneration(tok Token, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != generation {
		return false
	}
	cp := tok
	s.current = &cp
	s.generation++
	s.persistLocked()
	return true
}

// Generation returns a counter incremented on every Set and Clear. The
// refresh coordinator compares generations around its network call so that a
// refresh issued against a session the user has since terminated is
// discarded instead of resurrecting it.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// IsExpired reports whether tok should be treated as expired. It prefers
// the JWT exp claim when the token decodes; otherwise it falls back to the
// companion ExpiresAt. Any decode failure or missing claim is expired.
func (s *Store) IsExpired(tok Token) bool {
	if tok.AccessToken == "" {
		return true
	}
	now := s.now()

	parsed, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, jwt.MapClaims{})
	if err == nil {
		exp, err := parsed.Claims.GetExpirationTime()
		if err == nil && exp != nil {
			return now.Add(expirySkew).After(exp.Time)
		}
	}

	if tok.ExpiresAt.IsZero() {
		// Neither a decodable exp claim nor a companion expiry: fail closed.
		return true
	}
	return now.Add(expirySkew).After(tok.ExpiresAt)
}

// persistLocked mirrors the current token to disk. Caller holds s.mu.
func (s *Store) persistLocked() {
	if s.path == "" || s.current == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return
	}
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0600)
}
