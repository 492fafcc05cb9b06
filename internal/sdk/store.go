package sdk

import (
	"time"

	"github.com/rs/zerolog"
)

// KVStore is a client-side string store: a cookie jar or local storage.
// Implementations may fail (storage disabled, quota); the identity store
// absorbs those failures.
type KVStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// CookieAttributes carries the attributes for consent cookie writes.
type CookieAttributes struct {
	MaxAge   time.Duration
	Path     string
	SameSite string
}

// CookieJar extends KVStore with attribute-carrying writes.
type CookieJar interface {
	KVStore
	SetWithAttributes(key, value string, attrs CookieAttributes) error
}

// IdentityStore persists the identifier client-side. Reads prefer the
// cookie, then local storage. Every access error is swallowed and logged:
// a visitor with storage disabled still gets a working (per-page) id.
type IdentityStore struct {
	Cookies KVStore
	Local   KVStore
	Log     zerolog.Logger
}

// Get returns the stored value for key, cookie first. ok is false when
// neither store has it or both are inaccessible.
func (s *IdentityStore) Get(key string) (value string, ok bool) {
	if s.Cookies != nil {
		v, err := s.Cookies.Get(key)
		if err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("cookie read failed")
		} else if v != "" {
			return v, true
		}
	}
	if s.Local != nil {
		v, err := s.Local.Get(key)
		if err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("local storage read failed")
		} else if v != "" {
			return v, true
		}
	}
	return "", false
}

// Set writes the value to local storage and the cookie. Failures are
// silent and non-fatal.
func (s *IdentityStore) Set(key, value string) {
	if s.Local != nil {
		if err := s.Local.Set(key, value); err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("local storage write failed")
		}
	}
	if s.Cookies != nil {
		if err := s.Cookies.Set(key, value); err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("cookie write failed")
		}
	}
}

// Delete removes the key from both stores. Errors are logged, not thrown.
func (s *IdentityStore) Delete(key string) {
	if s.Local != nil {
		if err := s.Local.Delete(key); err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("local storage remove failed")
		}
	}
	if s.Cookies != nil {
		if err := s.Cookies.Delete(key); err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("cookie remove failed")
		}
	}
}
