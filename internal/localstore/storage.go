package localstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// payloadStore keeps object payloads on the local filesystem under a
// content-addressed layout rooted at dataDir. Each bucket gets its own
// subdirectory, and within each bucket payloads are addressed by their
// full SHA-256 hexadecimal hash, with the first two characters used as
// a subdirectory prefix.
type payloadStore struct {
	dataDir string
}

func newPayloadStore(dataDir string) *payloadStore {
	return &payloadStore{dataDir: dataDir}
}

func (s *payloadStore) payloadPath(bucket, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return filepath.Join(s.dataDir, bucket, hashHex[:2], hashHex), nil
}

func (s *payloadStore) put(bucket string, hashHex string, data []byte) error {
	objPath, err := s.payloadPath(bucket, hashHex)
	if err != nil {
		return err
	}

	// If the same payload already exists in any bucket, hard-link it
	// instead of writing a second copy.
	pattern := filepath.Join(s.dataDir, "*", hashHex[:2], hashHex)
	matches, _ := filepath.Glob(pattern)
	for _, existing := range matches {
		if existing == objPath {
			return nil
		}
		info, err := os.Stat(existing)
		if err != nil || !info.Mode().IsRegular() || info.Size() != int64(len(data)) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
			return err
		}
		if err := os.Link(existing, objPath); err == nil {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(objPath, data, 0o644)
}

func (s *payloadStore) get(bucket string, hashHex string) ([]byte, error) {
	objPath, err := s.payloadPath(bucket, hashHex)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(objPath)
}

// deleteBucket removes every payload stored for the bucket.
func (s *payloadStore) deleteBucket(bucket string) error {
	return os.RemoveAll(filepath.Join(s.dataDir, bucket))
}
