package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"citygrid.ai/internal/sim/city"
)

// JSONLZstdWriter appends JSON lines to hourly rotated zstd files.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	now func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

// Files lists the journal files written so far, oldest first.
func (w *JSONLZstdWriter) Files() ([]string, error) {
	return filepath.Glob(filepath.Join(w.baseDir, w.prefix+"-*.jsonl.zst"))
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventEntry is one journaled domain event.
type EventEntry struct {
	Seq     uint64          `json:"seq"`
	Time    string          `json:"time"`
	WorldID string          `json:"world_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEventEntry(worldID string, env city.Envelope) (EventEntry, error) {
	b, err := json.Marshal(env.Event)
	if err != nil {
		return EventEntry{}, err
	}
	return EventEntry{
		Seq:     env.Seq,
		Time:    env.At.Format(time.RFC3339Nano),
		WorldID: worldID,
		Type:    env.Event.EventType(),
		Payload: b,
	}, nil
}

// EventLogger journals every published domain event (compressed, hourly files).
type EventLogger struct {
	w       *JSONLZstdWriter
	worldID string
	log     *log.Logger
}

func NewEventLogger(worldDir, worldID string, logger *log.Logger) *EventLogger {
	return &EventLogger{
		w:       NewJSONLZstdWriter(filepath.Join(worldDir, "events"), "events"),
		worldID: worldID,
		log:     logger,
	}
}

func (l *EventLogger) WriteEvent(env city.Envelope) error {
	e, err := NewEventEntry(l.worldID, env)
	if err != nil {
		return err
	}
	return l.w.Write(e)
}

// Handle is a bus subscriber. Write errors are logged, never propagated.
func (l *EventLogger) Handle(env city.Envelope) {
	if err := l.WriteEvent(env); err != nil && l.log != nil {
		l.log.Printf("event journal: %v", err)
	}
}

func (l *EventLogger) Close() error { return l.w.Close() }

// ReadEvents decodes every entry of one journal file.
func ReadEvents(path string) ([]EventEntry, error) {
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

	var out []EventEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e EventEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
