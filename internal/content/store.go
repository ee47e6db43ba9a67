// Package content is a content-addressed blob store for report text. The
// registry keeps only references into it.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anonreport/internal/apperr"
)

// Triage is an optional automated classification of stored content.
type Triage struct {
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary,omitempty"`
	Model      string  `json:"model"`
}

// Meta is the sidecar stored next to each blob.
type Meta struct {
	Tags      []string  `json:"tags,omitempty"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Triage    *Triage   `json:"triage,omitempty"`
}

// FileStore keeps blobs under dir/<first two hex chars>/<ref>.
type FileStore struct {
	dir string
	now func() time.Time
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) blobPath(r Ref) string {
	h := r.String()
	return filepath.Join(s.dir, h[:2], h)
}

func (s *FileStore) metaPath(r Ref) string {
	return s.blobPath(r) + ".json"
}

// Put stores b and returns its reference. Storing the same bytes again is a
// no-op that keeps the original metadata; created reports which case applied.
func (s *FileStore) Put(b []byte, meta Meta) (ref Ref, created bool, err error) {
	ref = RefOf(b)
	if s.Has(ref) {
		return ref, false, nil
	}
	path := s.blobPath(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ref, false, err
	}
	meta.Size = len(b)
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now().UTC()
	}
	// Metadata first: a blob is only visible once its sidecar exists.
	if err := writeJSON(s.metaPath(ref), meta); err != nil {
		return ref, false, err
	}
	if err := writeAtomic(path, b); err != nil {
		return ref, false, err
	}
	return ref, true, nil
}

// Get returns the blob and its metadata, or apperr.ErrNotFound.
func (s *FileStore) Get(r Ref) ([]byte, Meta, error) {
	b, err := os.ReadFile(s.blobPath(r))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Meta{}, fmt.Errorf("%w: content %s", apperr.ErrNotFound, r)
		}
		return nil, Meta{}, err
	}
	if RefOf(b) != r {
		return nil, Meta{}, fmt.Errorf("content %s fails its digest check", r)
	}
	var meta Meta
	if raw, err := os.ReadFile(s.metaPath(r)); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	return b, meta, nil
}

func (s *FileStore) Has(r Ref) bool {
	_, err := os.Stat(s.blobPath(r))
	return err == nil
}

// SetTriage records a classification for an existing blob.
func (s *FileStore) SetTriage(r Ref, t Triage) error {
	if !s.Has(r) {
		return fmt.Errorf("%w: content %s", apperr.ErrNotFound, r)
	}
	var meta Meta
	if raw, err := os.ReadFile(s.metaPath(r)); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	meta.Triage = &t
	return writeJSON(s.metaPath(r), meta)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, b)
}

func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
