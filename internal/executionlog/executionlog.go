// Package executionlog implements the append-only PartialExecution
// record store (spec §6, §8): one line-delimited JSON object per
// backend task, written by the driver (C7) and later read back by the
// learner (C8) to fit load-profile coefficients. Grounded in the
// teacher's storage layer's file-handle discipline
// (internal/executor/catalog_manager.go, cursor_manager.go: one
// exclusive handle for writers, read-only iteration for readers) and
// using encoding/json rather than a third-party serializer because this
// is a private on-disk record format, not a wire or config concern (see
// DESIGN.md).
package executionlog

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/namyoh/rheem/internal/platform"
	"github.com/namyoh/rheem/internal/rheemerrors"
)

// Record is one logged PartialExecution, timestamped and tagged with
// the operator configuration key the learner will group it under.
type Record struct {
	Timestamp     int64                      `json:"timestamp_unix_ms"`
	OperatorKey   string                     `json:"operator_key"`
	Platform      string                     `json:"platform"`
	DurationMs    float64                    `json:"duration_ms"`
	InvolvedPlatforms []string               `json:"involved_platforms"`
	Operators     []platform.OperatorExecution `json:"operators"`
}

// Writer appends Records to one log file, holding an exclusive handle
// for the lifetime of the driver run (spec §6: "execution log is
// append-only").
type Writer struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenWriter opens (creating if absent) path for append-only writing.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, rheemerrors.LogIO("executionlog.OpenWriter", "opening "+path, err)
	}
	return &Writer{file: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one record as a single JSON line.
func (w *Writer) Append(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(r); err != nil {
		return rheemerrors.LogIO("executionlog.Append", "encoding record", err)
	}
	return nil
}

// Close flushes and releases the underlying file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return rheemerrors.LogIO("executionlog.Close", "closing log file", err)
	}
	return nil
}

// ReadAll reads every record from path in order, for the learner's
// ingestion pass (spec §4.8). The file is opened read-only and closed
// before returning.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, rheemerrors.LogIO("executionlog.ReadAll", "opening "+path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, rheemerrors.LogIO("executionlog.ReadAll", "parsing record", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, rheemerrors.LogIO("executionlog.ReadAll", "scanning "+path, err)
	}
	return records, nil
}

// NewRecord builds a Record from a backend's PartialExecution report,
// stamping the wall-clock time it was received.
func NewRecord(operatorKey, platformID string, pe platform.PartialExecution, nowUnixMs int64) Record {
	platforms := make([]string, len(pe.InvolvedPlatforms))
	for i, p := range pe.InvolvedPlatforms {
		platforms[i] = string(p)
	}
	return Record{
		Timestamp:         nowUnixMs,
		OperatorKey:       operatorKey,
		Platform:          platformID,
		DurationMs:        pe.DurationMs,
		InvolvedPlatforms: platforms,
		Operators:         pe.OperatorExecutions,
	}
}

// NowUnixMs is a thin wrapper so callers don't reach for time.Now()
// directly in code paths the workflow harness might replay; driver code
// (outside of this package's own tests) should call this rather than
// time.Now() to keep timestamp generation in one place.
func NowUnixMs() int64 { return time.Now().UnixMilli() }
