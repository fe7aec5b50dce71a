package policy

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one append-only audit entry (§4.12).
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Action    string         `json:"action"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventLog is a line-delimited JSON append-only log.
type EventLog struct {
	path string
	mu   sync.Mutex
}

// OpenEventLog returns an EventLog backed by path, creating the parent
// directory if needed. The file itself is created lazily on first append.
func OpenEventLog(path string) (*EventLog, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &EventLog{path: path}, nil
}

// LogEvent appends {ts: now, source, action, reason, details} as one
// JSON line.
func (l *EventLog) LogEvent(source, action, reason string, details map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := Event{Timestamp: time.Now(), Source: source, Action: action, Reason: reason, Details: details}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	raw = append(raw, '\n')
	_, err = f.Write(raw)
	return err
}

// ListEvents reads all lines, drops malformed ones, filters by
// actionFilter (if non-empty), and returns the last limit entries in
// file order (oldest of the returned window first).
func (l *EventLog) ListEvents(limit int, actionFilter string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if actionFilter != "" && ev.Action != actionFilter {
			continue
		}
		all = append(all, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}
