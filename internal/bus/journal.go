package bus

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Journal records dead letters for later inspection or replay.
type Journal interface {
	Record(letter DeadLetter) error
}

// FileJournal appends dead letters to a file, one JSON line per letter,
// fsynced so letters survive a crash.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileJournal constructs a FileJournal targeting the given path.
func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

// Record appends the dead letter to the journal file.
func (j *FileJournal) Record(letter DeadLetter) error {
	if letter.At.IsZero() {
		letter.At = time.Now().UTC()
	}
	data, err := json.Marshal(letter)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial write: wrote %d of %d bytes", n, len(data)+1)
	}

	return j.f.Sync()
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
