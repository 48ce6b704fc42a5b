package media

import (
	"context"
	"sync"
)

// MemoryStore is a Store kept in a map. Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Metadata
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Metadata)}
}

func (s *MemoryStore) Get(ctx context.Context, hash string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.records[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &md, nil
}

func (s *MemoryStore) Put(ctx context.Context, md *Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[md.Hash] = *md
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, hash)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Hashes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make([]string, 0, len(s.records))
	for h := range s.records {
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *MemoryStore) Close() error { return nil }
