// Package journal keeps an append-only history of renewal runs in a JSONL
// file. The history command reads it back; journal problems never fail a
// run.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event values recorded per run.
const (
	EventRunSucceeded = "run_succeeded"
	EventRunFailed    = "run_failed"
)

// Entry records the outcome of one renewal run.
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	Event     string        `json:"event"`
	Renewed   []string      `json:"renewed,omitempty"`
	Failed    []string      `json:"failed,omitempty"`
	Reloaded  bool          `json:"reloaded"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Journal appends run entries to a JSONL file. A Journal with an empty path
// is disabled and ignores every append.
type Journal struct {
	path string
	mu   sync.Mutex
}

// New creates a journal writing to path. An empty path disables it.
func New(path string) *Journal {
	return &Journal{path: path}
}

// Enabled reports whether the journal records anything.
func (j *Journal) Enabled() bool {
	return j.path != ""
}

// Append writes one entry to the journal.
func (j *Journal) Append(entry Entry) error {
	if !j.Enabled() {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o750); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(entry); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Last returns up to n most recent entries, oldest first. Lines that do not
// parse are skipped so a torn write cannot hide the rest of the history.
func (j *Journal) Last(n int) ([]Entry, error) {
	if !j.Enabled() {
		return nil, nil
	}

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
