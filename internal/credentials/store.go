package credentials

import (
	"fmt"

	"github.com/spf13/afero"
)

// Store persists a record in its 80-byte layout.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore creates a store for path on fs.
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record. A missing file surfaces as an error matching
// os.ErrNotExist.
func (s *Store) Load() (Record, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return Record{}, fmt.Errorf("read credentials: %w", err)
	}
	rec, err := Decode(data)
	if err != nil {
		return Record{}, fmt.Errorf("decode credentials %s: %w", s.path, err)
	}
	return rec, nil
}

// Save writes the record to a temporary file and renames it into place.
func (s *Store) Save(rec Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.fs.Remove(tmp)
		return fmt.Errorf("rename credentials: %w", err)
	}
	return nil
}
