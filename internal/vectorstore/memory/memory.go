package memory

import (
	"errors"
	"sync"

	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
	"bookrag/internal/vectorstore"
)

// Storage keeps the last saved generation in process memory. It backs
// ephemeral runs and tests where nothing should touch the disk.
type Storage struct {
	mu      sync.RWMutex
	saved   *vectorstore.Snapshot
	saveErr error
}

func NewStorage() *Storage { return &Storage{} }

// FailSaves makes subsequent Save calls return err. A nil err clears it.
func (s *Storage) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *Storage) Save(snap *vectorstore.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if len(snap.Vectors) != len(snap.Chunks) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = clone(snap)
	return nil
}

func (s *Storage) Load() (*vectorstore.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.saved == nil {
		return nil, apperr.ErrNotFound
	}
	return clone(s.saved), nil
}

func (s *Storage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	return nil
}

func clone(snap *vectorstore.Snapshot) *vectorstore.Snapshot {
	out := *snap
	out.Vectors = make([][]float32, len(snap.Vectors))
	for i, v := range snap.Vectors {
		out.Vectors[i] = append([]float32(nil), v...)
	}
	out.Chunks = append([]domain.Chunk(nil), snap.Chunks...)
	return &out
}
