package disk

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
	"bookrag/internal/vectorstore"
)

const (
	VectorsFile = "index.vec"
	ChunksFile  = "chunks.gob"

	magic         = "BRIX"
	formatVersion = 1
	generationLen = 36
	headerSize    = 4 + 4 + 4 + 4 + generationLen
	maxDimension  = 1 << 16
	backupSuffix  = ".prev"
)

// rename is swapped in tests to fail individual installs.
var rename = os.Rename

// metadata is the gob payload of ChunksFile. Generation and VectorCRC must
// match the vectors file for the pair to be accepted.
type metadata struct {
	Version    int
	Generation string
	ModelID    string
	Dimension  int
	Count      int
	VectorCRC  uint32
	Chunks     []domain.Chunk
}

// Storage keeps one index generation as a matched pair of files in Dir.
type Storage struct {
	dir string
}

func NewStorage(dir string) *Storage {
	return &Storage{dir: dir}
}

func (s *Storage) Dir() string { return s.dir }

func (s *Storage) vectorsPath() string { return filepath.Join(s.dir, VectorsFile) }
func (s *Storage) chunksPath() string  { return filepath.Join(s.dir, ChunksFile) }

// Save writes both files to temporaries, syncs them and renames them into
// place, vectors first. The previous vectors file is kept as a backup until
// the metadata is installed and put back if that fails, so a failed Save
// leaves the previous pair loadable.
func (s *Storage) Save(snap *vectorstore.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if len(snap.Generation) != generationLen {
		return fmt.Errorf("%w: generation id must be %d bytes, got %q", apperr.ErrInvalid, generationLen, snap.Generation)
	}
	if len(snap.Vectors) != len(snap.Chunks) {
		return fmt.Errorf("%w: %d vectors for %d chunks", apperr.ErrInvalid, len(snap.Vectors), len(snap.Chunks))
	}
	vecData, crc, err := encodeVectors(snap)
	if err != nil {
		return err
	}
	var meta bytes.Buffer
	if err := gob.NewEncoder(&meta).Encode(metadata{
		Version:    formatVersion,
		Generation: snap.Generation,
		ModelID:    snap.ModelID,
		Dimension:  snap.Dimension,
		Count:      len(snap.Vectors),
		VectorCRC:  crc,
		Chunks:     snap.Chunks,
	}); err != nil {
		return fmt.Errorf("encode chunk metadata: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	vecTmp, err := writeTemp(s.vectorsPath(), vecData)
	if err != nil {
		return err
	}
	metaTmp, err := writeTemp(s.chunksPath(), meta.Bytes())
	if err != nil {
		_ = os.Remove(vecTmp)
		return err
	}
	backup, err := s.backupVectors()
	if err != nil {
		_ = os.Remove(vecTmp)
		_ = os.Remove(metaTmp)
		return err
	}
	if err := rename(vecTmp, s.vectorsPath()); err != nil {
		_ = os.Remove(vecTmp)
		_ = os.Remove(metaTmp)
		s.dropBackup(backup)
		return fmt.Errorf("install vectors file: %w", err)
	}
	if err := rename(metaTmp, s.chunksPath()); err != nil {
		_ = os.Remove(metaTmp)
		if rerr := s.restoreVectors(backup); rerr != nil {
			return fmt.Errorf("install chunks file: %w (restore previous vectors: %v)", err, rerr)
		}
		return fmt.Errorf("install chunks file: %w", err)
	}
	s.dropBackup(backup)
	syncDir(s.dir)
	return nil
}

// backupVectors hard-links the current vectors file aside. It returns "" when
// there is nothing to keep.
func (s *Storage) backupVectors() (string, error) {
	backup := s.vectorsPath() + backupSuffix
	_ = os.Remove(backup)
	if _, err := os.Stat(s.vectorsPath()); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err := os.Link(s.vectorsPath(), backup); err == nil {
		return backup, nil
	}
	// filesystems without hard links get a copy
	data, err := os.ReadFile(s.vectorsPath())
	if err != nil {
		return "", fmt.Errorf("back up vectors file: %w", err)
	}
	tmp, err := writeTemp(backup, data)
	if err != nil {
		return "", fmt.Errorf("back up vectors file: %w", err)
	}
	if err := os.Rename(tmp, backup); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("back up vectors file: %w", err)
	}
	return backup, nil
}

// restoreVectors puts the backed-up vectors file back, or removes the new one
// when there was no previous pair.
func (s *Storage) restoreVectors(backup string) error {
	if backup == "" {
		if err := os.Remove(s.vectorsPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.Rename(backup, s.vectorsPath()); err != nil {
		return err
	}
	syncDir(s.dir)
	return nil
}

func (s *Storage) dropBackup(backup string) {
	if backup != "" {
		_ = os.Remove(backup)
	}
}

// Load reads and cross-checks the pair. A missing file is ErrNotFound; any
// structural problem or generation mismatch is ErrCorrupt.
func (s *Storage) Load() (*vectorstore.Snapshot, error) {
	vecData, err := os.ReadFile(s.vectorsPath())
	if err != nil {
		return nil, readErr(err)
	}
	metaData, err := os.ReadFile(s.chunksPath())
	if err != nil {
		return nil, readErr(err)
	}
	snap, crc, err := decodeVectors(vecData)
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := gob.NewDecoder(bytes.NewReader(metaData)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: decode chunk metadata: %v", apperr.ErrCorrupt, err)
	}
	switch {
	case meta.Version != formatVersion:
		return nil, fmt.Errorf("%w: unsupported metadata version %d", apperr.ErrCorrupt, meta.Version)
	case meta.Generation != snap.Generation:
		return nil, fmt.Errorf("%w: generation mismatch between vectors (%s) and chunks (%s)", apperr.ErrCorrupt, snap.Generation, meta.Generation)
	case meta.VectorCRC != crc:
		return nil, fmt.Errorf("%w: vector checksum mismatch", apperr.ErrCorrupt)
	case meta.Dimension != snap.Dimension || meta.Count != len(snap.Vectors) || len(meta.Chunks) != len(snap.Vectors):
		return nil, fmt.Errorf("%w: shape mismatch between vectors and chunks", apperr.ErrCorrupt)
	}
	snap.ModelID = meta.ModelID
	snap.Chunks = meta.Chunks
	return snap, nil
}

// Clear removes both files. Missing files are not an error.
func (s *Storage) Clear() error {
	for _, p := range []string{s.chunksPath(), s.vectorsPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Exists reports whether both files are present.
func (s *Storage) Exists() bool {
	for _, p := range []string{s.vectorsPath(), s.chunksPath()} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func encodeVectors(snap *vectorstore.Snapshot) ([]byte, uint32, error) {
	dim := snap.Dimension
	if dim <= 0 || dim > maxDimension {
		return nil, 0, fmt.Errorf("%w: dimension %d is out of range", apperr.ErrInvalid, dim)
	}
	buf := make([]byte, headerSize+len(snap.Vectors)*dim*4+4)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(dim))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(snap.Vectors)))
	copy(buf[16:headerSize], snap.Generation)
	off := headerSize
	for i, v := range snap.Vectors {
		if len(v) != dim {
			return nil, 0, fmt.Errorf("%w: vector %d has dimension %d, want %d", apperr.ErrInvalid, i, len(v), dim)
		}
		for _, f := range v {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(f))
			off += 4
		}
	}
	crc := crc32.ChecksumIEEE(buf[headerSize:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf, crc, nil
}

func decodeVectors(data []byte) (*vectorstore.Snapshot, uint32, error) {
	if len(data) < headerSize+4 {
		return nil, 0, fmt.Errorf("%w: vectors file truncated", apperr.ErrCorrupt)
	}
	if string(data[0:4]) != magic {
		return nil, 0, fmt.Errorf("%w: bad vectors file magic", apperr.ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != formatVersion {
		return nil, 0, fmt.Errorf("%w: unsupported vectors version %d", apperr.ErrCorrupt, v)
	}
	dim := binary.LittleEndian.Uint32(data[8:12])
	count := binary.LittleEndian.Uint32(data[12:16])
	if dim == 0 || dim > maxDimension {
		return nil, 0, fmt.Errorf("%w: vectors file has dimension %d", apperr.ErrCorrupt, dim)
	}
	// sizes are compared in uint64 so a forged header cannot wrap the product
	if body := uint64(len(data) - headerSize - 4); uint64(count)*uint64(dim)*4 != body {
		return nil, 0, fmt.Errorf("%w: vectors file is %d bytes for %d rows of dimension %d", apperr.ErrCorrupt, len(data), count, dim)
	}
	rows := data[headerSize : len(data)-4]
	crc := crc32.ChecksumIEEE(rows)
	if stored := binary.LittleEndian.Uint32(data[len(data)-4:]); stored != crc {
		return nil, 0, fmt.Errorf("%w: vectors checksum mismatch", apperr.ErrCorrupt)
	}
	vectors := make([][]float32, count)
	off := 0
	for i := range vectors {
		v := make([]float32, int(dim))
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(rows[off : off+4]))
			off += 4
		}
		vectors[i] = v
	}
	return &vectorstore.Snapshot{
		Generation: string(data[16:headerSize]),
		Dimension:  int(dim),
		Vectors:    vectors,
	}, crc, nil
}

func writeTemp(final string, data []byte) (string, error) {
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Base(tmp), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("sync %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func readErr(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", apperr.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrCorrupt, err)
}
