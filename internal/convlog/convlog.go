// Package convlog writes the append-only JSONL conversation trail: one
// record per line, one file per session. It is a diagnostic sink, not a
// resumable store — a write failure never disturbs the conversation.
package convlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/protocol"
)

// Entry type tags, mirrored in the "entry_type" object of each record.
const (
	EntryUserMessage      = "UserMessage"
	EntryAssistantMessage = "AssistantMessage"
	EntryToolInfo         = "ToolInfo"
	EntrySystemMessage    = "SystemMessage"
	EntryToolCall         = "ToolCall"
	EntryToolResult       = "ToolResult"
)

// toolInfoPrefix marks system turns that describe a tool execution rather
// than carrying a real system message.
const toolInfoPrefix = "[ToolInfo]"

// Entry is the tagged payload of one record.
type Entry struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type record struct {
	Timestamp time.Time `json:"timestamp"`
	EntryType Entry     `json:"entry_type"`
}

// Logger appends records to one session file. A zero-value or
// failed-to-construct Logger is a no-op.
type Logger struct {
	path   string
	logger *zap.Logger
}

// New creates a session log under dir, named after the session start time.
// Construction failure degrades to a no-op logger.
func New(dir string, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir == "" {
		dir = "conversation_logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("conversation log disabled", zap.Error(err))
		return &Logger{logger: logger}
	}
	name := fmt.Sprintf("conversation_%s.jsonl", time.Now().Format("20060102_150405"))
	return &Logger{path: filepath.Join(dir, name), logger: logger}
}

// Path returns the session file path, empty when the logger is a no-op.
func (l *Logger) Path() string { return l.path }

// Log appends one record. Failures are logged and swallowed.
func (l *Logger) Log(e Entry) {
	if l == nil || l.path == "" {
		return
	}
	data, err := json.Marshal(record{Timestamp: time.Now(), EntryType: e})
	if err != nil {
		l.logger.Warn("conversation log marshal failed", zap.Error(err))
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("conversation log open failed", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		l.logger.Warn("conversation log write failed", zap.Error(err))
	}
}

// LogTurn records one materialized transcript turn. System turns carrying the
// [ToolInfo] prefix log as ToolInfo; text chunks are never logged directly,
// only the turn they materialize into.
func (l *Logger) LogTurn(turn protocol.Turn) {
	switch turn.Role {
	case protocol.RoleUser:
		l.Log(Entry{Type: EntryUserMessage, Content: turn.Content})
	case protocol.RoleAssistant:
		l.Log(Entry{Type: EntryAssistantMessage, Content: turn.Content})
	case protocol.RoleSystem:
		if strings.HasPrefix(turn.Content, toolInfoPrefix) {
			l.Log(Entry{Type: EntryToolInfo, Content: turn.Content})
		} else {
			l.Log(Entry{Type: EntrySystemMessage, Content: turn.Content})
		}
	case protocol.RoleTool:
		l.Log(Entry{Type: EntryToolResult, ID: turn.ToolCallID, Content: turn.Content})
	}
}

// LogChunk records tool-call and tool-result chunks. Streamed text fragments
// are ignored.
func (l *Logger) LogChunk(chunk protocol.StreamChunk) {
	switch c := chunk.(type) {
	case protocol.ToolCallChunk:
		l.Log(Entry{Type: EntryToolCall, ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	case protocol.ToolResultChunk:
		l.Log(Entry{Type: EntryToolResult, ID: c.ID, Content: c.Content})
	}
}

// LogToolExecution records the local outcome of one tool call.
func (l *Logger) LogToolExecution(id, name, result string) {
	l.Log(Entry{Type: EntryToolResult, ID: id, Content: fmt.Sprintf("[%s] %s", name, result)})
}
