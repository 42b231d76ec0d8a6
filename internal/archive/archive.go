// Package archive keeps a compressed JSONL copy of every event a run commits,
// one file per run per hour.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/worldorder/internal/world"
)

// Record is one archived line.
type Record struct {
	RunID      string      `json:"run_id"`
	ArchivedAt time.Time   `json:"archived_at"`
	Event      world.Event `json:"event"`
}

type stream struct {
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// Writer archives events per run. It implements engine.Sink.
type Writer struct {
	baseDir string
	now     func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
}

// NewWriter archives under baseDir.
func NewWriter(baseDir string) *Writer {
	return &Writer{
		baseDir: baseDir,
		now:     func() time.Time { return time.Now().UTC() },
		streams: make(map[string]*stream),
	}
}

// Publish archives e. Failures are logged; archiving never blocks a tick.
func (w *Writer) Publish(runID string, e world.Event) {
	if err := w.Write(runID, e); err != nil {
		slog.Warn("archive write failed", "run", runID, "error", err)
	}
}

// Write appends one record for runID.
func (w *Writer) Write(runID string, e world.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	hour := now.Format("2006-01-02-15")
	st := w.streams[runID]
	if st == nil {
		st = &stream{}
		w.streams[runID] = st
	}
	if hour != st.curHour {
		if err := w.rotateLocked(runID, st, hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(Record{RunID: runID, ArchivedAt: now, Event: e})
	if err != nil {
		return err
	}
	if _, err := st.w.Write(b); err != nil {
		return err
	}
	if err := st.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := st.w.Flush(); err != nil {
		return err
	}
	return st.enc.Flush()
}

func (w *Writer) rotateLocked(runID string, st *stream, hour string) error {
	if err := st.close(); err != nil {
		return err
	}
	path := w.pathFor(runID, hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	st.f = f
	st.enc = enc
	st.w = bufio.NewWriterSize(enc, 64*1024)
	st.curHour = hour
	return nil
}

func (st *stream) close() error {
	var err error
	if st.w != nil {
		_ = st.w.Flush()
	}
	if st.enc != nil {
		err = st.enc.Close()
		st.enc = nil
	}
	if st.f != nil {
		_ = st.f.Close()
		st.f = nil
	}
	st.w = nil
	st.curHour = ""
	return err
}

func (w *Writer) pathFor(runID, hour string) string {
	return filepath.Join(w.baseDir, runID, fmt.Sprintf("events-%s.jsonl.zst", hour))
}

// CloseRun closes the open file of one run.
func (w *Writer) CloseRun(runID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.streams[runID]
	if !ok {
		return nil
	}
	delete(w.streams, runID)
	return st.close()
}

// Close closes every open file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var first error
	for id, st := range w.streams {
		if err := st.close(); err != nil && first == nil {
			first = err
		}
		delete(w.streams, id)
	}
	return first
}

// Read returns every archived record of runID in write order.
func Read(baseDir, runID string) ([]Record, error) {
	paths, err := filepath.Glob(filepath.Join(baseDir, runID, "events-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []Record
	for _, p := range paths {
		recs, err := readFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Record
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
