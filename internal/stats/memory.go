package stats

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemory returns a Store local to this process.
func NewMemory() Store { return &memoryStore{} }

var _ Store = (*memoryStore)(nil)

func (m *memoryStore) SessionOpened(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Active++
	m.snap.Sessions++
	return nil
}

func (m *memoryStore) SessionClosed(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Active > 0 {
		m.snap.Active--
	}
	m.snap.Failed += boolInt(r.Failed)
	m.snap.Stripped += boolInt(r.StartTLSStripped)
	m.snap.Credentials += int64(r.Credentials)
	m.snap.ClientToRemote += r.ClientToRemote
	m.snap.RemoteToClient += r.RemoteToClient
	return nil
}

func (m *memoryStore) Snapshot(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	s.Now = now()
	return s, nil
}

func (m *memoryStore) Close() error { return nil }
