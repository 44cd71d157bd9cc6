package scanstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// stateFile is the on-disk shape of the scan state.
type stateFile struct {
	Processed []string `json:"processed"`
}

// Store tracks which log files a scan has fully processed. One Store
// instance owns the state file exclusively between Open and Close.
type Store interface {
	IsProcessed(key string) bool
	// MarkProcessed records a key and persists the updated state before
	// returning, so a crash never forgets a commit it acknowledged.
	MarkProcessed(key string) error
	// StartAfter returns the lexicographically greatest processed key,
	// or an empty string when nothing has been processed. Listing can
	// start after it because log keys arrive in lexicographic order.
	StartAfter() string
	Keys() []string
	Close() error
}

type fileStore struct {
	path      string
	lock      *flock.Flock
	processed map[string]struct{}
}

const lockRetryInterval = 100 * time.Millisecond

// Open acquires an exclusive advisory lock next to the state file and
// loads the processed set. The lock is held until Close so two
// overlapping runs cannot interleave their read-modify-write cycles.
// A state file that fails to parse is treated as empty: re-processing
// is idempotent, refusing to run is not.
func Open(ctx context.Context, path string) (Store, error) {
	logger := zerolog.Ctx(ctx)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, lockRetryInterval)
	if !ok {
		return nil, fmt.Errorf("could not acquire state lock %s: %w", lock.Path(), err)
	}

	processed, err := load(path, logger)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}

	return &fileStore{
		path:      path,
		lock:      lock,
		processed: processed,
	}, nil
}

func load(path string, logger *zerolog.Logger) (map[string]struct{}, error) {
	processed := make(map[string]struct{})

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return processed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var state stateFile
	if err := json.Unmarshal(raw, &state); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("state file is corrupt, treating as empty")
		return processed, nil
	}
	for _, key := range state.Processed {
		processed[key] = struct{}{}
	}
	return processed, nil
}

func (s *fileStore) IsProcessed(key string) bool {
	_, ok := s.processed[key]
	return ok
}

func (s *fileStore) MarkProcessed(key string) error {
	if _, ok := s.processed[key]; ok {
		return nil
	}
	s.processed[key] = struct{}{}
	if err := s.persist(); err != nil {
		delete(s.processed, key)
		return err
	}
	return nil
}

func (s *fileStore) StartAfter() string {
	keys := s.Keys()
	if len(keys) == 0 {
		return ""
	}
	return keys[len(keys)-1]
}

func (s *fileStore) Keys() []string {
	keys := make([]string, 0, len(s.processed))
	for key := range s.processed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *fileStore) Close() error {
	return s.lock.Close()
}

// persist replaces the state file atomically. The advisory lock lives
// in a sibling file, so renaming over the state file never disturbs
// the lock a running scan holds.
func (s *fileStore) persist() error {
	state := stateFile{Processed: s.Keys()}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file %s: %w", s.path, err)
	}
	return nil
}

const peekRecentKeys = 20

// Peek reads the state file without taking the scan lock. It serves
// read-only surfaces that must never block, or be blocked by, a
// running scan.
func Peek(path string) (*domain.ScanState, error) {
	view := &domain.ScanState{StatePath: path}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var state stateFile
	if err := json.Unmarshal(raw, &state); err != nil {
		return view, nil
	}

	keys := append([]string(nil), state.Processed...)
	sort.Strings(keys)

	view.ProcessedCount = len(keys)
	if len(keys) > 0 {
		view.Watermark = keys[len(keys)-1]
	}
	recent := keys
	if len(recent) > peekRecentKeys {
		recent = recent[len(recent)-peekRecentKeys:]
	}
	view.RecentKeys = recent
	return view, nil
}
