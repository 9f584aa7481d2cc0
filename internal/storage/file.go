package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"jobtrack/pkg/logx"
)

// fileStore appends records to <prefix>.runs.jsonl. Every compactEvery writes
// the file is rewritten to keep only the newest MaxRecords lines.
type fileStore struct {
	log  logx.Logger
	path string
	max  int

	mu     sync.Mutex
	f      *os.File // nil after a failed reopen; Append retries
	closed bool
	writes int

	rename func(oldpath, newpath string) error
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	runs := filepath.Join(dir, base+".runs.jsonl")

	f, err := os.OpenFile(runs, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", runs))
	return &fileStore{log: log, path: runs, max: cfg.maxRecords(), f: f, rename: os.Rename}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if s.f == nil {
		if err := s.reopenLocked(); err != nil {
			return err
		}
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("run log compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	return tail(s.path, limit)
}

// tail reads the last limit records from path. Malformed lines are skipped.
func tail(path string, limit int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tailFrom(f, limit)
}

func tailFrom(r io.Reader, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	ring := make([]Record, 0, limit)
	start := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, rec)
			continue
		}
		ring[start] = rec
		start = (start + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return append(ring[start:], ring[:start]...), nil
}

func (s *fileStore) compactLocked() error {
	keep, err := tail(s.path, s.max)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = s.f.Close()
	s.f = nil
	renameErr := s.rename(tmp, s.path)
	if renameErr != nil {
		_ = os.Remove(tmp)
	}
	// The original file is reopened even when the rename failed, so appends
	// continue on the uncompacted log.
	return errors.Join(renameErr, s.reopenLocked())
}

func (s *fileStore) reopenLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}
