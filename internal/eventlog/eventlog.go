// Package eventlog implements the append-only, sequence-numbered,
// schema-versioned JSONL streams that are the sole source of truth for
// audit and index rebuild. There are two logical logs, data-plane and
// control-plane, both with identical discipline: append under an exclusive
// file lock, strictly increasing sequence per log, and records never
// rewritten.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/erankavija/jit/internal/jiterr"
	"github.com/erankavija/jit/internal/lockfile"
	"github.com/erankavija/jit/internal/types"
)

// Event is one record in a log.
type Event struct {
	SchemaVersion int             `json:"schema_version"`
	Sequence      uint64          `json:"sequence"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         types.Actor     `json:"actor"`
	Type          Type            `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Log is an append-only JSONL event stream.
type Log struct {
	path        string
	lockTimeout time.Duration
}

// Open returns a handle on the log at path. The file is created lazily on
// first append.
func Open(path string, lockTimeout time.Duration) *Log {
	if lockTimeout <= 0 {
		lockTimeout = lockfile.DefaultTimeout
	}
	return &Log{path: path, lockTimeout: lockTimeout}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

func (l *Log) lockPath() string { return l.path + ".lock" }

// Append writes one event, assigning the next sequence number under the
// log's exclusive lock.
func (l *Log) Append(actor types.Actor, typ Type, payload any) (*Event, error) {
	events, err := l.AppendAll(actor, []Pending{{Type: typ, Payload: payload}})
	if err != nil {
		return nil, err
	}
	return &events[0], nil
}

// Pending is an event awaiting a sequence number.
type Pending struct {
	Type    Type
	Payload any
}

// AppendAll writes several events under a single lock hold, assigning
// consecutive sequence numbers.
func (l *Log) AppendAll(actor types.Actor, pending []Pending) ([]Event, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	var out []Event
	err := lockfile.WithExclusive(l.lockPath(), l.lockTimeout, func() error {
		next, err := l.nextSequence()
		if err != nil {
			return err
		}

		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return jiterr.Wrap(jiterr.KindIO, err, "open %s", l.path)
		}
		defer func() {
			_ = f.Close() //nolint:errcheck // sync already called, close best-effort
		}()

		now := time.Now().UTC()
		for _, p := range pending {
			ev := Event{
				SchemaVersion: types.EventSchemaVersion,
				Sequence:      next,
				Timestamp:     now,
				Actor:         actor,
				Type:          p.Type,
			}
			if p.Payload != nil {
				raw, err := json.Marshal(p.Payload)
				if err != nil {
					return fmt.Errorf("marshal payload for %s: %w", p.Type, err)
				}
				ev.Payload = raw
			}
			line, err := json.Marshal(&ev)
			if err != nil {
				return fmt.Errorf("marshal event %s: %w", p.Type, err)
			}
			if _, err := f.Write(append(line, '\n')); err != nil {
				return jiterr.Wrap(jiterr.KindIO, err, "append to %s", l.path)
			}
			out = append(out, ev)
			next++
		}
		return f.Sync()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// nextSequence scans the log for the highest sequence and returns one more.
// Sequences start at 1.
func (l *Log) nextSequence() (uint64, error) {
	last, err := l.lastSequence()
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (l *Log) lastSequence() (uint64, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, jiterr.Wrap(jiterr.KindIO, err, "open %s", l.path)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var last uint64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var probe struct {
			Sequence uint64 `json:"sequence"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &probe); err != nil {
			continue // torn tail line from a crashed append
		}
		if probe.Sequence > last {
			last = probe.Sequence
		}
	}
	return last, scanner.Err()
}

// ReadFrom returns every recognizable event with sequence >= from, in file
// order. Records whose schema_version is unrecognized are skipped; the file
// is never modified.
func (l *Log) ReadFrom(from uint64) ([]Event, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, jiterr.Wrap(jiterr.KindIO, err, "open %s", l.path)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.SchemaVersion != types.EventSchemaVersion {
			continue
		}
		if ev.Sequence >= from {
			events = append(events, ev)
		}
	}
	return events, scanner.Err()
}

// ReadAll returns the whole log.
func (l *Log) ReadAll() ([]Event, error) {
	return l.ReadFrom(0)
}

// Gap is a missing sequence range [From, To] in a log.
type Gap struct {
	From uint64
	To   uint64
}

// Gaps reports missing sequence ranges. The log is authoritative, so gaps
// are diagnosed and never repaired.
func (l *Log) Gaps() ([]Gap, error) {
	events, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var gaps []Gap
	var prev uint64
	for _, ev := range events {
		if prev != 0 && ev.Sequence > prev+1 {
			gaps = append(gaps, Gap{From: prev + 1, To: ev.Sequence - 1})
		}
		if ev.Sequence > prev {
			prev = ev.Sequence
		}
	}
	return gaps, nil
}
