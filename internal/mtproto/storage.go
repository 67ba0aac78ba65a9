package mtproto

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/gotd/td/session"
)

// memStorage is a session.Storage seeded from a stored credential. The
// client writes refreshed keys back into it; Bytes exposes them.
type memStorage struct {
	mu      sync.Mutex
	data    []byte
	changed bool
}

var _ session.Storage = (*memStorage)(nil)

func newMemStorage(seed []byte) *memStorage {
	return &memStorage{data: bytes.Clone(seed)}
}

func (s *memStorage) LoadSession(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return bytes.Clone(s.data), nil
}

func (s *memStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !bytes.Equal(s.data, data) {
		s.changed = true
	}
	s.data = bytes.Clone(data)
	return nil
}

// Bytes returns the current session and whether it differs from the seed.
func (s *memStorage) Bytes() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.data), s.changed
}

var errNoSession = errors.New("mtproto: sign-in stored no session")

// credential encodes the session written since the seed. A storage the
// client never wrote to holds no authorization and is rejected.
func (s *memStorage) credential() (string, error) {
	data, changed := s.Bytes()
	if !changed || len(data) == 0 {
		return "", errNoSession
	}
	return EncodeSession(data)
}
