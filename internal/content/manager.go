package content

import (
	"errors"
	"sync/atomic"
	"time"
)

var ErrNoSnapshot = errors.New("content: no active snapshot")

type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set publishes s. The caller's copy stays private.
func (m *Manager) Set(s Snapshot) {
	cp := new(Snapshot)
	*cp = s
	if cp.Meta.LoadedAt.IsZero() {
		cp.Meta.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get returns the active snapshot; ok is false until one with a filesystem
// has been set.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

// ReadyErr is the readiness probe: nil once a snapshot is active.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return ErrNoSnapshot
	}
	return nil
}

// ContentVersion and ContentHash feed the X-Content-* response headers.
func (m *Manager) ContentVersion() string {
	if s := m.active.Load(); s != nil {
		return s.Meta.Version
	}
	return ""
}

func (m *Manager) ContentHash() string {
	if s := m.active.Load(); s != nil {
		return s.Meta.Hash
	}
	return ""
}

func (m *Manager) Source() Source {
	if s := m.active.Load(); s != nil {
		return s.Meta.Source
	}
	return SourceUnknown
}

func (m *Manager) LoadedAt() time.Time {
	if s := m.active.Load(); s != nil {
		return s.Meta.LoadedAt
	}
	return time.Time{}
}
