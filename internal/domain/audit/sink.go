package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink appends entries as JSONL to a local file. Writes are
// serialized; a failed write is reported to the caller who decides
// whether to log it, never to fail the audited operation.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileSink opens (or creates) the sink file in append mode.
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit sink %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

// Write appends one entry as a JSON line.
func (s *FileSink) Write(e *Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
