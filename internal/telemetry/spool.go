package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/loykin/chiefmon/internal/wire"
)

// spoolFile is the newline-delimited JSON disk buffer described by
// spec.md §6: each line a full event, appended atomically, consumed
// from the head on replay.
type spoolFile struct {
	mu   sync.Mutex
	path string
}

func openSpool(path string) (*spoolFile, error) {
	if path == "" {
		path = "chief-telemetry.spool.jsonl"
	}
	// #nosec G304 -- path is operator-configured
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &spoolFile{path: path}, nil
}

// Append writes each event of the batch as one JSON line.
func (s *spoolFile) Append(batch []wire.TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path is operator-configured
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for _, ev := range batch {
		line, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// PeekBatch reads up to n events from the head of the spool without
// removing them.
func (s *spoolFile) PeekBatch(n int) ([]wire.TelemetryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path is operator-configured
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []wire.TelemetryEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for len(out) < n && scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev wire.TelemetryEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, scanner.Err()
}

// RemoveBatch drops the first n lines from the spool file, rewriting
// the remainder.
func (s *spoolFile) RemoveBatch(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path is operator-configured
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var remaining [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	skipped := 0
	for scanner.Scan() {
		if skipped < n {
			skipped++
			continue
		}
		line := append([]byte(nil), scanner.Bytes()...)
		remaining = append(remaining, line)
	}
	scanErr := scanner.Err()
	_ = f.Close()
	if scanErr != nil {
		return scanErr
	}

	tmp := s.path + ".tmp"
	// #nosec G304 -- path is operator-configured
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, line := range remaining {
		if _, err := w.Write(line); err != nil {
			_ = out.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Close is a no-op placeholder: the spool keeps no persistent file
// handle open between operations.
func (s *spoolFile) Close() error { return nil }
