// Package filestore maps recording identifiers to audio files on disk.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/satindergrewal/affirmloop/internal/audio"
	"github.com/satindergrewal/affirmloop/internal/fault"
)

// MinFreeBytes is the free space required before a capture may start.
const MinFreeBytes = 16 << 20

const originalSuffix = "_original"

// Store lays out <dir>/<id>.<ext> and its <id>_original.<ext> sibling.
type Store struct {
	dir     string
	codec   audio.Codec
	minFree uint64
	free    func(dir string) (uint64, error)
}

// New creates the directory if needed.
func New(dir string, codec audio.Codec) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Store{dir: dir, codec: codec, minFree: MinFreeBytes, free: freeBytes}, nil
}

func (s *Store) Dir() string        { return s.dir }
func (s *Store) Codec() audio.Codec { return s.codec }

func (s *Store) PathFor(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+"."+s.codec.Ext())
}

func (s *Store) OriginalPathFor(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+originalSuffix+"."+s.codec.Ext())
}

// Exists reports whether a working file is present.
func (s *Store) Exists(id uuid.UUID) bool {
	info, err := os.Stat(s.PathFor(id))
	return err == nil && info.Mode().IsRegular()
}

// HasOriginal reports whether the untouched capture is still on disk.
func (s *Store) HasOriginal(id uuid.UUID) bool {
	_, err := os.Stat(s.OriginalPathFor(id))
	return err == nil
}

// Size returns the working file size in bytes.
func (s *Store) Size(id uuid.UUID) (int64, error) {
	info, err := os.Stat(s.PathFor(id))
	if err != nil {
		return 0, notFound(err)
	}
	return info.Size(), nil
}

// Duration reads the working file length from container metadata.
func (s *Store) Duration(id uuid.UUID) (float64, error) {
	return s.codec.Duration(s.PathFor(id))
}

// Read decodes the working file.
func (s *Store) Read(id uuid.UUID) (audio.Clip, error) {
	return s.codec.Decode(s.PathFor(id))
}

// ReadSource decodes the original capture, falling back to the working
// file once the original has been discarded.
func (s *Store) ReadSource(id uuid.UUID) (audio.Clip, error) {
	if s.HasOriginal(id) {
		return s.codec.Decode(s.OriginalPathFor(id))
	}
	return s.Read(id)
}

// Save writes clip as both the working file and the original, replacing
// whatever was stored for id.
func (s *Store) Save(id uuid.UUID, clip audio.Clip) error {
	tmp, err := s.WriteTemp(id, clip)
	if err != nil {
		return err
	}
	if err := copyFile(tmp, s.OriginalPathFor(id)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write original: %w", err)
	}
	return s.Commit(tmp, id)
}

// WriteTemp encodes clip next to the working file under a unique name and
// returns its path. Nothing visible changes until Commit.
func (s *Store) WriteTemp(id uuid.UUID, clip audio.Clip) (string, error) {
	f, err := os.CreateTemp(s.dir, id.String()+".*.tmp."+s.codec.Ext())
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	path := f.Name()
	f.Close()

	if err := s.codec.Encode(path, clip); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Commit atomically moves a temp file over the working file.
func (s *Store) Commit(tmp string, id uuid.UUID) error {
	if err := os.Rename(tmp, s.PathFor(id)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", id, err)
	}
	return nil
}

// Discard removes a temp file that will not be committed.
func (s *Store) Discard(tmp string) {
	if tmp != "" {
		os.Remove(tmp)
	}
}

// DeleteOriginal removes the original sibling if present.
func (s *Store) DeleteOriginal(id uuid.UUID) error {
	return removeIfExists(s.OriginalPathFor(id))
}

// Delete removes the working file, the original and any stray temp files.
// Missing files are not an error.
func (s *Store) Delete(id uuid.UUID) error {
	if err := removeIfExists(s.PathFor(id)); err != nil {
		return err
	}
	if err := removeIfExists(s.OriginalPathFor(id)); err != nil {
		return err
	}
	temps, _ := filepath.Glob(filepath.Join(s.dir, id.String()+".*.tmp.*"))
	for _, t := range temps {
		os.Remove(t)
	}
	return nil
}

// CheckFreeSpace fails with ErrInsufficientDiskSpace when the volume is
// nearly full.
func (s *Store) CheckFreeSpace() error {
	avail, err := s.free(s.dir)
	if err != nil {
		// unknown is not full
		return nil
	}
	if avail < s.minFree {
		return fault.Wrap(fault.ErrInsufficientDiskSpace,
			fmt.Errorf("%d bytes free in %s", avail, s.dir))
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fault.Wrap(fault.ErrFileNotFound, err)
	}
	return err
}
