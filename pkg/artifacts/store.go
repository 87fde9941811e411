package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// ErrNotFound is returned when no blob exists for a hash.
var ErrNotFound = errors.New("artifacts: blob not found")

// Store is the contract for content-addressed storage of artifact blobs.
// Keys are bare 64 character lowercase hex digests, matching the artifact
// hash wire shape.
type Store interface {
	// Store persists data and returns its content hash.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a blob exists for the hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes the blob for the hash. Deleting a missing blob is not
	// an error.
	Delete(ctx context.Context, hash string) error
}

// StoreArtifact canonically serializes the artifact and persists it. The
// returned address is the digest of the serialized record, which differs
// from the artifact's payload hash.
func StoreArtifact(ctx context.Context, s Store, art contracts.Artifact) (string, error) {
	data, err := canonical.Marshal(art)
	if err != nil {
		return "", fmt.Errorf("artifacts: serialize artifact %s: %w", art.ArtifactID, err)
	}
	return s.Store(ctx, data)
}

// LoadArtifact retrieves and decodes an artifact record by storage address.
func LoadArtifact(ctx context.Context, s Store, addr string) (contracts.Artifact, error) {
	data, err := s.Get(ctx, addr)
	if err != nil {
		return contracts.Artifact{}, err
	}
	var art contracts.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return contracts.Artifact{}, fmt.Errorf("artifacts: decode artifact at %s: %w", addr, err)
	}
	return art, nil
}

// FileStore is a filesystem-backed Store. Blobs land as <hash>.blob under
// the base directory, written to a temp file and renamed so readers never
// observe partial content.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the base directory if needed and returns the store.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) blobPath(hash string) (string, error) {
	if !canonical.ValidHexDigest(hash) {
		return "", fmt.Errorf("artifacts: malformed content hash %q", hash)
	}
	return filepath.Join(s.baseDir, hash+".blob"), nil
}

// Store implements Store. Idempotent: re-storing existing content succeeds
// without rewriting.
func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := canonical.HashBytes(data)
	path := filepath.Join(s.baseDir, hash+".blob")

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return hash, nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.blobPath(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("artifacts: open blob: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read blob: %w", err)
	}
	return data, nil
}

// Exists implements Store.
func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.blobPath(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: stat blob: %w", err)
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.blobPath(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifacts: delete blob: %w", err)
	}
	return nil
}
