// Package watermark persists the per-topic high-water mark as a JSON object
// mapping topic ID to an ISO-8601 timestamp. The file is always replaced
// whole, so a crash leaves either the previous or the new content.
package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/natefinch/atomic"
)

// legacyLayouts are accepted on load for files written without a zone.
var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Store is the watermark collaborator used by the orchestrator.
type Store interface {
	Get(topicID string) models.Watermark
	Advance(ctx context.Context, topicID string, at time.Time) (bool, error)
	Snapshot() map[string]models.Watermark
}

// FileStore keeps watermarks in memory and mirrors them to one JSON file.
type FileStore struct {
	path       string
	logger     *core.Logger
	retryDelay time.Duration
	write      func(path string, r io.Reader) error

	mu    sync.RWMutex
	marks map[string]time.Time

	// writeMu serialises file replacement; marks may change while a write runs.
	writeMu sync.Mutex
}

// Open loads path, treating a missing file as "no topic observed yet".
// A file that cannot be decoded is moved aside and the store starts empty.
func Open(path string, loc *time.Location, logger *core.Logger) (*FileStore, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &FileStore{
		path:       path,
		logger:     logger,
		retryDelay: 250 * time.Millisecond,
		write:      atomic.WriteFile,
		marks:      make(map[string]time.Time),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("No watermark file, every topic starts with a baseline cycle", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, core.NewPersistenceError("failed to read watermark file", err)
	}

	marks, err := decode(data, loc)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return nil, core.NewPersistenceError("watermark file is corrupt and could not be moved aside", errors.Join(err, renameErr))
		}
		logger.Warn("Watermark file is corrupt, moved aside and re-baselining", "path", path, "moved_to", aside, "error", err)
		return s, nil
	}

	marks, moved := rekey(marks)
	s.marks = marks
	logger.Info("Loaded watermarks", "path", path, "topics", len(marks))

	if moved > 0 {
		logger.Info("Re-keyed legacy watermark entries to topic IDs", "path", path, "entries", moved)
		if err := s.persist(context.Background()); err != nil {
			logger.Warn("Failed to rewrite re-keyed watermark file, will retry on next advance", "path", path, "error", err)
		}
	}
	return s, nil
}

// rekey maps keys written by earlier tooling (raw keywords such as
// "Playstation 5", or raw search URLs) to topic IDs. Colliding keys keep the
// later timestamp.
func rekey(marks map[string]time.Time) (map[string]time.Time, int) {
	out := make(map[string]time.Time, len(marks))
	moved := 0
	for key, at := range marks {
		id := key
		if !strings.HasPrefix(key, "url:") {
			if topic, ok := models.NewTopic(key); ok {
				id = topic.ID
			}
		}
		if id != key {
			moved++
		}
		if current, ok := out[id]; !ok || at.After(current) {
			out[id] = at
		}
	}
	return out, moved
}

func decode(data []byte, loc *time.Location) (map[string]time.Time, error) {
	marks := make(map[string]time.Time)
	if len(bytes.TrimSpace(data)) == 0 {
		return marks, nil
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, core.NewParseError("watermark file is not a JSON object of timestamps", err)
	}
	for topicID, value := range raw {
		at, err := parseTimestamp(value, loc)
		if err != nil {
			return nil, core.NewParseError(fmt.Sprintf("topic %q", topicID), err)
		}
		marks[topicID] = at
	}
	return marks, nil
}

func parseTimestamp(value string, loc *time.Location) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return at.In(loc), nil
	}
	for _, layout := range legacyLayouts {
		if at, err := time.ParseInLocation(layout, value, loc); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// Get returns the watermark for topicID, unknown if never observed.
func (s *FileStore) Get(topicID string) models.Watermark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.marks[topicID]
	if !ok {
		return models.Watermark{}
	}
	return models.NewWatermark(at)
}

// Snapshot returns a copy of all known watermarks.
func (s *FileStore) Snapshot() map[string]models.Watermark {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Watermark, len(s.marks))
	for topicID, at := range s.marks {
		out[topicID] = models.NewWatermark(at)
	}
	return out
}

// Advance moves topicID's watermark to at when at is later and persists the
// file. It reports whether the watermark moved. On a persistence error the
// in-memory value stays advanced for the rest of the run.
func (s *FileStore) Advance(ctx context.Context, topicID string, at time.Time) (bool, error) {
	s.mu.Lock()
	current, ok := s.marks[topicID]
	if ok && !at.After(current) {
		s.mu.Unlock()
		return false, nil
	}
	s.marks[topicID] = at
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.logger.Error("Failed to persist watermark, keeping in-memory value",
			"topic_id", topicID, "watermark", at, "path", s.path, "error", err)
		return true, err
	}
	return true, nil
}

// persist writes the current map, retrying once.
func (s *FileStore) persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := s.encode()
	if err != nil {
		return core.NewPersistenceError("failed to encode watermarks", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), 1), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := s.write(s.path, bytes.NewReader(data)); err != nil {
			s.logger.Warn("Watermark write failed", "path", s.path, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return core.NewPersistenceError("failed to write watermark file", err)
	}
	return nil
}

func (s *FileStore) encode() ([]byte, error) {
	s.mu.RLock()
	out := make(map[string]string, len(s.marks))
	for topicID, at := range s.marks {
		out[topicID] = at.Format(time.RFC3339)
	}
	s.mu.RUnlock()

	// encoding/json sorts map keys, keeping the file diff-friendly.
	return json.MarshalIndent(out, "", "  ")
}
