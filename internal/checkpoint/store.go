// Package checkpoint persists one finalized week of journey state per
// artifact. Each week produces a JSON snapshot plus a human-readable
// transcript; filenames are keyed by zero-padded week number so the sequence
// sorts correctly. Writes go through a temp-file-then-rename discipline so a
// crash mid-write never leaves a readable but truncated checkpoint.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kingrea/journeysim/internal/journey"
)

// FormatVersion guards against loading snapshots written by an incompatible
// build.
const FormatVersion = 1

// ErrNotFound is returned when no checkpoint exists for the requested week.
var ErrNotFound = errors.New("checkpoint: not found")

// CorruptError reports a checkpoint that exists but fails structural
// validation. It is fatal to a resume attempt and is never silently treated
// as "start fresh".
type CorruptError struct {
	Week   int
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint: week %d corrupt: %s", e.Week, e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// snapshot is the on-disk shape of one week's checkpoint.
type snapshot struct {
	Version int                  `json:"version"`
	Week    int                  `json:"week"`
	State   *journey.MemberState `json:"state"`
}

// Store reads and writes week-indexed checkpoints under a single directory.
// Saves and loads of the same week are serialized so no reader observes a
// half-written artifact.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates (or reuses) the checkpoint directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: ensure directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory backing this store.
func (s *Store) Dir() string { return s.dir }

func (s *Store) statePath(week int) string {
	return filepath.Join(s.dir, fmt.Sprintf("week_%02d.json", week))
}

func (s *Store) transcriptPath(week int) string {
	return filepath.Join(s.dir, fmt.Sprintf("week_%02d_transcript.txt", week))
}

// FullTranscriptPath is where WriteFullTranscript concatenates every week.
func (s *Store) FullTranscriptPath() string {
	return filepath.Join(s.dir, "full_transcript.txt")
}

// Save persists the finalized state and transcript for a week. The snapshot
// is written from an independent deep copy, so later mutation of the live
// state cannot retroactively alter it.
func (s *Store) Save(week int, state *journey.MemberState, transcript string) error {
	if state == nil {
		return fmt.Errorf("checkpoint: state is required")
	}
	if state.Week != week {
		return &journey.InvariantViolation{Reason: fmt.Sprintf("saving week %d but state is at week %d", week, state.Week)}
	}
	if err := state.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{Version: FormatVersion, Week: week, State: state.Clone()}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode week %d: %w", week, err)
	}
	if err := atomicWrite(s.statePath(week), append(encoded, '\n')); err != nil {
		return fmt.Errorf("checkpoint: write week %d: %w", week, err)
	}
	if err := atomicWrite(s.transcriptPath(week), []byte(transcript)); err != nil {
		return fmt.Errorf("checkpoint: write week %d transcript: %w", week, err)
	}
	return nil
}

// Load reproduces the state and transcript exactly as saved for a week.
func (s *Store) Load(week int) (*journey.MemberState, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.statePath(week))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: week %d", ErrNotFound, week)
		}
		return nil, "", fmt.Errorf("checkpoint: read week %d: %w", week, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, "", &CorruptError{Week: week, Reason: "invalid JSON", Err: err}
	}
	if snap.Version != FormatVersion {
		return nil, "", &CorruptError{Week: week, Reason: fmt.Sprintf("unsupported format version %d", snap.Version)}
	}
	if snap.State == nil {
		return nil, "", &CorruptError{Week: week, Reason: "missing state"}
	}
	if snap.Week != week || snap.State.Week != week {
		return nil, "", &CorruptError{Week: week, Reason: fmt.Sprintf("snapshot indexed %d holds week %d", snap.Week, snap.State.Week)}
	}
	if err := snap.State.Validate(); err != nil {
		return nil, "", &CorruptError{Week: week, Reason: "state invariants violated", Err: err}
	}
	transcript, err := os.ReadFile(s.transcriptPath(week))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("checkpoint: read week %d transcript: %w", week, err)
	}
	return snap.State, string(transcript), nil
}

var weekFilePattern = regexp.MustCompile(`^week_(\d+)\.json$`)

// Weeks lists every saved week index in ascending order.
func (s *Store) Weeks() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list directory: %w", err)
	}
	var weeks []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := weekFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		week, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		weeks = append(weeks, week)
	}
	sort.Ints(weeks)
	return weeks, nil
}

// Latest returns the highest fully-written week index. The second return is
// false when no checkpoint exists yet.
func (s *Store) Latest() (int, bool, error) {
	weeks, err := s.Weeks()
	if err != nil {
		return 0, false, err
	}
	if len(weeks) == 0 {
		return 0, false, nil
	}
	return weeks[len(weeks)-1], true, nil
}

// WriteFullTranscript concatenates every week's transcript into the final
// journey-wide artifact.
func (s *Store) WriteFullTranscript() error {
	weeks, err := s.Weeks()
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, week := range weeks {
		data, err := os.ReadFile(s.transcriptPath(week))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("checkpoint: read week %d transcript: %w", week, err)
		}
		b.Write(data)
	}
	return atomicWrite(s.FullTranscriptPath(), []byte(b.String()))
}

// atomicWrite lands content at path via a temp file and rename so partial
// writes are never observable under the final name.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
