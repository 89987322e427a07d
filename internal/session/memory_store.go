package session

import "sync"

// MemoryPersister is an in-memory Persister for tests and ephemeral runs.
type MemoryPersister struct {
	mu   sync.Mutex
	sess *Session
}

// NewMemoryPersister creates a new in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Save(sess *Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *sess
	p.sess = &cp
	return nil
}

func (p *MemoryPersister) Load() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil, nil
	}
	cp := *p.sess
	return &cp, nil
}

func (p *MemoryPersister) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sess = nil
	return nil
}
