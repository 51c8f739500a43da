package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/sjson"
)

// API-log record kinds, one JSONL line each.
const (
	RecordRequest         = "REQUEST"
	RecordResponseHeaders = "RESPONSE_HEADERS"
	RecordResponseChunk   = "RESPONSE_CHUNK"
	RecordResponseSummary = "RESPONSE_SUMMARY"
	RecordToolsExecution  = "TOOLS_EXECUTION"
	RecordSessionEnd      = "SESSION_END"
)

const (
	chunkSampleEvery = 20
	chunkHardCap     = 200
)

// redactedPaths are stripped from every api-log record before it hits disk.
var redactedPaths = []string{
	"api_key", "apiKey", "token", "authorization",
	"headers.Authorization", "headers.authorization",
}

// Session is the durable trail of one review session: the raw LLM traffic
// (sampled), the pipeline event timeline, and a human-readable markdown
// summary. All writers are best-effort; a failed write never fails the
// session.
type Session struct {
	TraceID string

	start time.Time

	mu       sync.Mutex
	api      *os.File
	pipeline *os.File
	human    *os.File

	chunkSeen    int
	chunkWritten int
	lastChunk    []byte
	lastWritten  bool
}

// NewSession opens the three per-session files under logDir. Directories are
// created as needed; any file that cannot be opened is logged and skipped.
func NewSession(logDir, name, traceID string) *Session {
	s := &Session{TraceID: traceID, start: time.Now()}
	ts := s.start.Format("20060102_150405")

	s.api = openLog(filepath.Join(logDir, "api_log"), ts+"_"+traceID+".jsonl")
	s.pipeline = openLog(filepath.Join(logDir, "pipeline"), fmt.Sprintf("%s_%s_%s.jsonl", ts, name, traceID))
	s.human = openLog(filepath.Join(logDir, "human_log"), ts+"_"+traceID+".md")
	return s
}

func openLog(dir, name string) *os.File {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("session log dir", "dir", dir, "error", err)
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("session log open", "file", name, "error", err)
		return nil
	}
	return f
}

// API writes one api-log record. Secrets are redacted first.
func (s *Session) API(kind string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeAPI(kind, redact(data))
}

// Chunk records one streaming response chunk, sampled: the first, every
// 20th, and (at FlushChunks) the last, capped at 200 lines per session.
func (s *Session) Chunk(data any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunkSeen++
	payload := redact(data)
	s.lastChunk = payload
	s.lastWritten = false

	if s.chunkWritten >= chunkHardCap {
		return
	}
	if s.chunkSeen == 1 || s.chunkSeen%chunkSampleEvery == 0 {
		s.writeAPI(RecordResponseChunk, payload)
		s.chunkWritten++
		s.lastWritten = true
	}
}

// FlushChunks writes the final chunk of a call if sampling skipped it, and
// resets the per-call chunk counter.
func (s *Session) FlushChunks() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastChunk != nil && !s.lastWritten && s.chunkWritten < chunkHardCap {
		s.writeAPI(RecordResponseChunk, s.lastChunk)
		s.chunkWritten++
	}
	s.chunkSeen = 0
	s.lastChunk = nil
	s.lastWritten = false
}

func (s *Session) writeAPI(kind string, payload json.RawMessage) {
	if s.api == nil {
		return
	}
	line := map[string]any{
		"ts":     time.Now().Format(time.RFC3339Nano),
		"record": kind,
		"trace":  s.TraceID,
		"data":   payload,
	}
	writeJSONL(s.api, line)
}

// Pipeline writes one pipeline-timeline line carrying uptime_ms since the
// session opened.
func (s *Session) Pipeline(event string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline == nil {
		return
	}
	line := map[string]any{
		"ts":        time.Now().Format(time.RFC3339Nano),
		"event":     event,
		"trace":     s.TraceID,
		"uptime_ms": time.Since(s.start).Milliseconds(),
	}
	for k, v := range fields {
		line[k] = v
	}
	writeJSONL(s.pipeline, line)
}

// Human appends markdown to the human-readable session log.
func (s *Session) Human(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.human == nil {
		return
	}
	fmt.Fprintf(s.human, format+"\n", args...)
}

// Close writes the SESSION_END record and closes all files.
func (s *Session) Close(summary any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeAPI(RecordSessionEnd, redact(summary))
	for _, f := range []*os.File{s.api, s.pipeline, s.human} {
		if f != nil {
			f.Close()
		}
	}
	s.api, s.pipeline, s.human = nil, nil, nil
}

func writeJSONL(f *os.File, line map[string]any) {
	data, err := json.Marshal(line)
	if err != nil {
		slog.Warn("session log marshal", "error", err)
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		slog.Warn("session log write", "error", err)
	}
}

// redact marshals data and strips secret-bearing fields.
func redact(data any) json.RawMessage {
	var doc string
	switch v := data.(type) {
	case json.RawMessage:
		doc = string(v)
	case []byte:
		doc = string(v)
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return json.RawMessage(`{"_error":"unmarshalable"}`)
		}
		doc = string(b)
	}
	for _, p := range redactedPaths {
		doc, _ = sjson.Delete(doc, p)
	}
	return json.RawMessage(doc)
}
