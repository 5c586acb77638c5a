// Package journal keeps a tamper-evident JSONL record of session
// transitions. Each entry carries the BLAKE3 hash of its predecessor.
package journal

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/breeze-rmm/session-panel/internal/logging"
)

var log = logging.L("journal")

const (
	EventMonitorStart     = "monitor_start"
	EventMonitorStop      = "monitor_stop"
	EventSessionPending   = "session_pending"
	EventSessionConfirmed = "session_confirmed"
	EventSessionResumed   = "session_resumed"
)

// genesis is the prevHash of the first entry of a new journal.
const genesis = "genesis"

const (
	maxSizeMB  = 20
	maxBackups = 3
)

// Entry is a single journal record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	User      string         `json:"user,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Journal appends hash-chained entries to a rotating file. A nil
// *Journal is a valid no-op recorder.
type Journal struct {
	mu       sync.Mutex
	out      *logging.RotatingWriter
	path     string
	prevHash string
	now      func() time.Time
	dropped  atomic.Int64
}

// Open appends to path, continuing the chain from its last entry.
func Open(path string) (*Journal, error) {
	prev, err := lastHash(path)
	if err != nil {
		return nil, err
	}
	out, err := logging.NewRotatingWriter(path, maxSizeMB, maxBackups)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	log.Info("journal opened", "path", path)
	return &Journal{out: out, path: path, prevHash: prev, now: time.Now}, nil
}

// Record appends one entry. Failures are logged and counted, and the
// chain only advances on a successful write.
func (j *Journal) Record(event, user string, details map[string]any) {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Timestamp: j.now().UTC().Format(time.RFC3339Nano),
		Event:     event,
		User:      user,
		Details:   details,
		PrevHash:  j.prevHash,
	}
	hash, err := Hash(entry)
	if err != nil {
		log.Error("journal hash failed", logging.KeyError, err.Error(), "event", event)
		j.dropped.Add(1)
		return
	}
	entry.EntryHash = hash

	data, err := json.Marshal(entry)
	if err != nil {
		log.Error("journal marshal failed", logging.KeyError, err.Error(), "event", event)
		j.dropped.Add(1)
		return
	}
	if _, err := j.out.Write(append(data, '\n')); err != nil {
		log.Error("journal write failed", logging.KeyError, err.Error(), "event", event)
		j.dropped.Add(1)
		return
	}
	j.prevHash = hash
}

// Dropped returns the number of entries that could not be written, or
// -1 for a nil journal.
func (j *Journal) Dropped() int64 {
	if j == nil {
		return -1
	}
	return j.dropped.Load()
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.out.Close()
}

// Hash computes an entry's chain hash. Fields are length-prefixed so
// that no two distinct entries share an encoding.
func Hash(e Entry) (string, error) {
	h := blake3.New()
	for _, field := range []string{e.Timestamp, e.Event, e.User, e.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(b))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks the chain of the entries in path. It returns the number
// of valid entries and an error describing the first broken link.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	prev := ""
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return count, fmt.Errorf("entry %d: %w", count+1, err)
		}
		if prev != "" && e.PrevHash != prev {
			return count, fmt.Errorf("entry %d: chain broken", count+1)
		}
		want, err := Hash(e)
		if err != nil {
			return count, fmt.Errorf("entry %d: %w", count+1, err)
		}
		if want != e.EntryHash {
			return count, fmt.Errorf("entry %d: hash mismatch", count+1)
		}
		prev = e.EntryHash
		count++
	}
	return count, sc.Err()
}

func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return genesis, nil
	}
	if err != nil {
		return "", fmt.Errorf("read journal: %w", err)
	}
	defer f.Close()

	var last []byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			last = append(last[:0], sc.Bytes()...)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read journal: %w", err)
	}
	if last == nil {
		return genesis, nil
	}

	var e Entry
	if err := json.Unmarshal(last, &e); err != nil || e.EntryHash == "" {
		log.Warn("journal tail unreadable, starting a new chain", "path", path)
		return genesis, nil
	}
	return e.EntryHash, nil
}
