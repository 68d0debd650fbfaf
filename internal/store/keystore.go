// Package store holds the realtime API credential and fans out change
// notifications.
package store

import (
	"strings"
	"sync"
)

// KeyStore is an in-memory credential store safe for concurrent use.
// Subscribers are invoked outside the store lock, so they may call back
// into the store or into components that read from it.
type KeyStore struct {
	mu     sync.Mutex
	secret string
	subs   map[int]func(secret string, ok bool)
	nextID int
}

func NewKeyStore(initial string) *KeyStore {
	return &KeyStore{
		secret: strings.TrimSpace(initial),
		subs:   map[int]func(string, bool){},
	}
}

func (s *KeyStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret, s.secret != ""
}

func (s *KeyStore) Set(secret string) {
	secret = strings.TrimSpace(secret)
	s.mu.Lock()
	if secret == s.secret {
		s.mu.Unlock()
		return
	}
	s.secret = secret
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(secret, secret != "")
	}
}

func (s *KeyStore) Clear() {
	s.Set("")
}

// Subscribe registers a change callback and returns its unsubscribe
// function. The callback does not fire for the current value.
func (s *KeyStore) Subscribe(fn func(secret string, ok bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *KeyStore) snapshotSubsLocked() []func(string, bool) {
	subs := make([]func(string, bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}
