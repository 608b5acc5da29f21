// Package auth issues and checks operator credentials.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	SessionDuration = 8 * time.Hour
	SessionCookie   = "trinity_session"
	BcryptCost      = 12
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SessionStore maps cookie session ids to user ids. Sessions live in
// memory and do not survive a restart.
type SessionStore struct {
	byID *expiringMap[string, uint]
}

func NewSessionStore() *SessionStore {
	return &SessionStore{byID: newExpiringMap[string, uint]()}
}

// Create starts a session for userID lasting SessionDuration and returns
// its id, 32 random bytes hex encoded.
func (s *SessionStore) Create(userID uint) (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	id := hex.EncodeToString(b[:])
	s.byID.put(id, userID, s.byID.clock().Add(SessionDuration))
	return id, nil
}

func (s *SessionStore) Get(sessionID string) (uint, bool) {
	return s.byID.get(sessionID)
}

func (s *SessionStore) Delete(sessionID string) {
	s.byID.remove(sessionID)
}

// DeleteByUserID logs a user out everywhere.
func (s *SessionStore) DeleteByUserID(userID uint) {
	s.byID.removeFunc(func(uid uint) bool { return uid == userID })
}

// Cleanup removes expired sessions and returns how many were dropped.
func (s *SessionStore) Cleanup() int { return s.byID.sweep() }

func (s *SessionStore) Len() int { return s.byID.len() }

// SetNowFunc replaces the clock. Used by tests.
func (s *SessionStore) SetNowFunc(fn func() time.Time) { s.byID.setClock(fn) }
