package curation

import (
	"sync"

	"github.com/Financial-Times/annotations-agreement/cas"
	"github.com/Financial-Times/annotations-agreement/diff"
)

// Store persists curation documents per document and curator.
type Store interface {
	Read(doc diff.DocumentRef, user string) (c *cas.Container, found bool, err error)
	Write(doc diff.DocumentRef, user string, c *cas.Container) error
	Delete(doc diff.DocumentRef, user string) (found bool, err error)
	Check() error
}

type storeKey struct {
	doc  diff.DocumentRef
	user string
}

// MemoryStore keeps curation documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[storeKey]*cas.Container
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[storeKey]*cas.Container{}}
}

func (m *MemoryStore) Read(doc diff.DocumentRef, user string) (*cas.Container, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.docs[storeKey{doc, user}]
	if !ok {
		return nil, false, nil
	}
	return c.Copy(), true, nil
}

func (m *MemoryStore) Write(doc diff.DocumentRef, user string, c *cas.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[storeKey{doc, user}] = c.Copy()
	return nil
}

func (m *MemoryStore) Delete(doc diff.DocumentRef, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storeKey{doc, user}
	_, ok := m.docs[key]
	delete(m.docs, key)
	return ok, nil
}

func (m *MemoryStore) Check() error {
	return nil
}
