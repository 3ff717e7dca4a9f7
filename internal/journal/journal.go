// Package journal appends every trigger action to a JSON lines file.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one journal line
type Entry struct {
	Session    string    `json:"session"`
	Seq        uint64    `json:"seq"`
	Time       time.Time `json:"time"`
	Action     string    `json:"action"`
	Count      int       `json:"count"`
	Stable     int       `json:"stable"`
	Replayed   bool      `json:"replayed,omitempty"`
	Suppressed bool      `json:"suppressed,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Journal writes entries from a background goroutine
type Journal struct {
	mu        sync.RWMutex
	file      *os.File
	filename  string
	session   string
	open      bool
	seq       uint64
	written   uint64
	dropped   uint64
	startTime time.Time
	entryChan chan Entry
	wg        sync.WaitGroup
}

// Open starts a journal. If path is an existing directory a new file named
// after the current time is created inside it, otherwise path is appended to.
func Open(path string) (*Journal, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("actions_%s.jsonl", time.Now().Format("20060102_150405")))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	j := &Journal{
		file:      file,
		filename:  path,
		session:   uuid.NewString(),
		open:      true,
		startTime: time.Now(),
		entryChan: make(chan Entry, 64),
	}
	j.wg.Add(1)
	go j.writeEntries()
	return j, nil
}

// Session returns the id stamped on every entry of this run
func (j *Journal) Session() string {
	return j.session
}

// Record queues an entry (non-blocking). It returns false when the journal
// is closed or its queue is full.
func (j *Journal) Record(e Entry) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.open {
		return false
	}

	j.seq++
	e.Session = j.session
	e.Seq = j.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	select {
	case j.entryChan <- e:
		return true
	default:
		j.dropped++
		return false
	}
}

// writeEntries drains the queue until Close
func (j *Journal) writeEntries() {
	defer j.wg.Done()

	w := bufio.NewWriter(j.file)
	enc := json.NewEncoder(w)

	for e := range j.entryChan {
		if err := enc.Encode(e); err != nil {
			continue
		}
		j.mu.Lock()
		j.written++
		j.mu.Unlock()

		if len(j.entryChan) == 0 {
			w.Flush()
		}
	}
	w.Flush()
}

// Close flushes pending entries and closes the file
func (j *Journal) Close() error {
	j.mu.Lock()
	if !j.open {
		j.mu.Unlock()
		return nil
	}
	j.open = false
	close(j.entryChan)
	j.mu.Unlock()

	j.wg.Wait()

	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

// Status describes the journal
type Status struct {
	Open      bool      `json:"open"`
	Filename  string    `json:"filename"`
	Session   string    `json:"session"`
	Written   uint64    `json:"written"`
	Dropped   uint64    `json:"dropped"`
	StartTime time.Time `json:"start_time"`
}

// GetStatus returns the current journal status
func (j *Journal) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Status{
		Open:      j.open,
		Filename:  j.filename,
		Session:   j.session,
		Written:   j.written,
		Dropped:   j.dropped,
		StartTime: j.startTime,
	}
}
