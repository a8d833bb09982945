package vectorstore

import "bookrag/internal/domain"

// Snapshot is one complete index generation: normalized vectors and the
// parallel chunk sequence, row i belonging to chunk i.
type Snapshot struct {
	Generation string
	ModelID    string
	Dimension  int
	Vectors    [][]float32
	Chunks     []domain.Chunk
}

// Storage persists and restores whole index generations.
// Load reports errors.ErrNotFound when nothing has been saved yet.
type Storage interface {
	Save(s *Snapshot) error
	Load() (*Snapshot, error)
	Clear() error
}
