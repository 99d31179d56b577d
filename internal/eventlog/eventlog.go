// Package eventlog implements the append-only newline-delimited JSON
// event log (spec §6): one line per event, serialized writes, and
// optional size-triggered rotation.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Type is one of the closed set of event kinds spec §6 names.
type Type string

const (
	TypeStartup        Type = "startup"
	TypeScanSummary     Type = "scan_summary"
	TypeCandidate       Type = "candidate"
	TypeCandidateError  Type = "candidate_error"
	TypeSkip            Type = "skip"
	TypeTriggerStart    Type = "trigger_start"
	TypeTriggerStats    Type = "trigger_stats"
	TypeTriggerArm      Type = "trigger_arm"
	TypeTriggerFire     Type = "trigger_fire"
	TypePreflight       Type = "preflight"
	TypeBuilt           Type = "built"
	TypeSimulate        Type = "simulate"
	TypeExecuted        Type = "executed"
	TypeJitoBundle      Type = "jito_bundle"
	TypeConfirmError    Type = "confirm_error"
	TypeRateLimit       Type = "rate_limit"
	TypeOpenOceanSkip   Type = "openocean_skip"
	TypeWarning         Type = "warning"
	TypeError           Type = "error"
	TypeExit            Type = "exit"
	TypeShutdown        Type = "shutdown"
)

// Event is one NDJSON line. Fields is merged into the top-level JSON
// object alongside ts/type so callers can attach arbitrary
// event-specific data without a type explosion.
type Event struct {
	Type   Type
	Fields map[string]any
}

// Log appends Events as newline-delimited JSON to a rotating file.
// Writes are serialized through mu so concurrent scans/pairs never
// interleave partial lines.
type Log struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	maxBytes    int64
	maxFiles    int
	rotateOn    bool
	writtenSize int64

	// mirror optionally receives a copy of every event (e.g. the
	// GORM/MySQL sink). It is called synchronously, under mu, after each
	// successful file write; it returns nothing, so it handles its own
	// failures.
	mirror func(Event)
}

// Config configures rotation. MaxBytes<=0 disables rotation (append
// indefinitely); MaxFiles bounds path.1..path.N.
type Config struct {
	Path     string
	MaxBytes int64
	MaxFiles int
	Mirror   func(Event)
}

// Open opens (creating if needed) the log file at cfg.Path.
func Open(cfg Config) (*Log, error) {
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("eventlog: stat %s: %w", cfg.Path, err)
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Log{
		path:        cfg.Path,
		file:        f,
		maxBytes:    cfg.MaxBytes,
		maxFiles:    maxFiles,
		rotateOn:    cfg.MaxBytes > 0,
		writtenSize: info.Size(),
		mirror:      cfg.Mirror,
	}, nil
}

// Write appends one event as a single JSON line, rotating first if
// the configured size threshold would be exceeded.
func (l *Log) Write(evt Event) error {
	fields := make(map[string]any, len(evt.Fields)+2)
	for k, v := range evt.Fields {
		fields[k] = v
	}
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["type"] = string(evt.Type)

	line, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotateOn && l.writtenSize+int64(len(line)) > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(line)
	if err != nil {
		return fmt.Errorf("eventlog: write: %w", err)
	}
	l.writtenSize += int64(n)

	if l.mirror != nil {
		l.mirror(evt)
	}
	return nil
}

// rotateLocked implements path -> path.1 -> path.2 -> ... up to
// maxFiles, oldest dropped (spec §6 "Log rotation").
func (l *Log) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("eventlog: close for rotation: %w", err)
	}

	oldest := fmt.Sprintf("%s.%d", l.path, l.maxFiles)
	_ = os.Remove(oldest)
	for i := l.maxFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", l.path, i)
		to := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("eventlog: rotate %s: %w", l.path, err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: reopen after rotation: %w", err)
	}
	l.file = f
	l.writtenSize = 0
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
