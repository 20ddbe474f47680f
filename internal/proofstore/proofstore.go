package proofstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrTooLarge               = errors.New("proof file too large")
	ErrNotFound               = errors.New("proof not found")
)

// Store holds uploaded payment proofs and hands back opaque references. The
// rest of the system only ever stores and passes the reference along.
type Store interface {
	Save(ctx context.Context, data []byte, contentType string) (string, error)
	ScheduleDeletion(ctx context.Context, ref string, after time.Duration) error
}

type DeletionScheduler interface {
	Schedule(ctx context.Context, ref string, deleteAt time.Time) error
}

// DiskStore writes proofs under a base directory, named by a fresh uuid plus
// the extension implied by the sniffed content type. The declared type must
// also be on the allowlist, but the bytes decide what gets stored.
type DiskStore struct {
	dir       string
	maxSize   int64
	scheduler DeletionScheduler
}

func NewDiskStore(dir string, maxSize int64, scheduler DeletionScheduler) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("proof dir required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create proof dir: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 5 << 20
	}
	return &DiskStore{dir: dir, maxSize: maxSize, scheduler: scheduler}, nil
}

func (s *DiskStore) Save(_ context.Context, data []byte, contentType string) (string, error) {
	if int64(len(data)) > s.maxSize {
		return "", ErrTooLarge
	}
	if contentType != "" {
		if _, err := extensionFor(contentType); err != nil {
			return "", err
		}
	}
	ext, err := extensionFor(http.DetectContentType(data))
	if err != nil {
		return "", err
	}

	ref := uuid.NewString() + ext
	path := filepath.Join(s.dir, ref)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write proof: %w", err)
	}
	return ref, nil
}

func (s *DiskStore) ScheduleDeletion(ctx context.Context, ref string, after time.Duration) error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Schedule(ctx, ref, time.Now().UTC().Add(after))
}

// Remove deletes the stored file; missing files count as already removed.
func (s *DiskStore) Remove(ref string) error {
	if !validRef(ref) {
		return ErrNotFound
	}
	err := os.Remove(filepath.Join(s.dir, ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DiskStore) Open(ref string) ([]byte, error) {
	if !validRef(ref) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func extensionFor(contentType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "application/pdf":
		return ".pdf", nil
	default:
		return "", ErrUnsupportedContentType
	}
}

// validRef rejects anything that could escape the base directory.
func validRef(ref string) bool {
	if ref == "" {
		return false
	}
	return filepath.Base(ref) == ref && !strings.HasPrefix(ref, ".")
}
