package disk

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
	"bookrag/internal/vectorstore"
)

func sampleSnapshot() *vectorstore.Snapshot {
	return &vectorstore.Snapshot{
		Generation: uuid.NewString(),
		ModelID:    "hashing-3",
		Dimension:  3,
		Vectors:    [][]float32{{1, 0, 0}, {0, 0.6, 0.8}},
		Chunks: []domain.Chunk{
			{Text: "--- Page 1 --- first", Page: 1, ChunkID: 0},
			{Text: "second", Page: 2, ChunkID: 1},
		},
	}
}

func Test_SaveThenLoad(t *testing.T) {
	s := NewStorage(filepath.Join(t.TempDir(), "idx"))
	assert.False(t, s.Exists())
	snap := sampleSnapshot()
	require.NoError(t, s.Save(snap))
	assert.True(t, s.Exists())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	// no temporaries left behind
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func Test_Load_Missing(t *testing.T) {
	s := NewStorage(t.TempDir())
	_, err := s.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.Save(sampleSnapshot()))
	require.NoError(t, os.Remove(filepath.Join(s.Dir(), ChunksFile)))
	_, err = s.Load()
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// forgedHeader is a vectors file with a valid magic and version, the given
// shape and no rows at all.
func forgedHeader(dim, count uint32) []byte {
	buf := make([]byte, headerSize+4)
	copy(buf, magic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], dim)
	binary.LittleEndian.PutUint32(buf[12:16], count)
	copy(buf[16:headerSize], uuid.NewString())
	return buf
}

func Test_Load_RejectsCorruption(t *testing.T) {
	var cases = map[string]func(t *testing.T, dir string){
		"flipped vector byte": func(t *testing.T, dir string) {
			p := filepath.Join(dir, VectorsFile)
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			data[headerSize+1] ^= 0xff
			require.NoError(t, os.WriteFile(p, data, 0o644))
		},
		"truncated vectors": func(t *testing.T, dir string) {
			p := filepath.Join(dir, VectorsFile)
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(p, data[:len(data)-6], 0o644))
		},
		"bad magic": func(t *testing.T, dir string) {
			p := filepath.Join(dir, VectorsFile)
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			copy(data, "XXXX")
			require.NoError(t, os.WriteFile(p, data, 0o644))
		},
		"forged header wrapping the size": func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), forgedHeader(1<<31, 1<<31), 0o644))
		},
		"forged row count": func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), forgedHeader(3, 1<<31), 0o644))
		},
		"dimension over the cap": func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), forgedHeader(maxDimension+1, 0), 0o644))
		},
		"garbage metadata": func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, ChunksFile), []byte("not gob"), 0o644))
		},
		"metadata from another generation": func(t *testing.T, dir string) {
			other := NewStorage(filepath.Join(t.TempDir(), "other"))
			require.NoError(t, other.Save(sampleSnapshot()))
			data, err := os.ReadFile(filepath.Join(other.Dir(), ChunksFile))
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(dir, ChunksFile), data, 0o644))
		},
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewStorage(t.TempDir())
			require.NoError(t, s.Save(sampleSnapshot()))
			corrupt(t, s.Dir())
			_, err := s.Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrCorrupt)
		})
	}
}

func Test_Save_FailureKeepsPreviousPair(t *testing.T) {
	s := NewStorage(t.TempDir())
	first := sampleSnapshot()
	require.NoError(t, s.Save(first))

	bad := sampleSnapshot()
	bad.Vectors[1] = []float32{1, 2}
	require.Error(t, s.Save(bad))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, first.Generation, got.Generation)
}

func Test_Save_RejectsMalformedSnapshot(t *testing.T) {
	s := NewStorage(t.TempDir())
	snap := sampleSnapshot()
	snap.Generation = "short"
	assert.ErrorIs(t, s.Save(snap), apperr.ErrInvalid)

	snap = sampleSnapshot()
	snap.Chunks = snap.Chunks[:1]
	assert.ErrorIs(t, s.Save(snap), apperr.ErrInvalid)
	assert.Error(t, s.Save(nil))
	assert.False(t, s.Exists())
}

func Test_Clear(t *testing.T) {
	s := NewStorage(t.TempDir())
	require.NoError(t, s.Clear())
	require.NoError(t, s.Save(sampleSnapshot()))
	require.NoError(t, s.Clear())
	assert.False(t, s.Exists())
}

func failChunksInstall(t *testing.T) {
	t.Helper()
	rename = func(oldpath, newpath string) error {
		if filepath.Base(newpath) == ChunksFile {
			return errors.New("rename: input/output error")
		}
		return os.Rename(oldpath, newpath)
	}
	t.Cleanup(func() { rename = os.Rename })
}

func Test_Save_InterruptedInstallKeepsPreviousPair(t *testing.T) {
	s := NewStorage(t.TempDir())
	first := sampleSnapshot()
	require.NoError(t, s.Save(first))

	failChunksInstall(t)
	second := sampleSnapshot()
	second.Vectors[0] = []float32{0, 1, 0}
	require.Error(t, s.Save(second))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, first, got)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporaries or backups left behind")
}

func Test_Save_InterruptedFirstInstallLeavesNothing(t *testing.T) {
	s := NewStorage(t.TempDir())
	failChunksInstall(t)
	require.Error(t, s.Save(sampleSnapshot()))

	_, err := s.Load()
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, s.Exists())
}
