package convlog

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stulentsev/jean/internal/protocol"
)

func readRecords(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestLogTurnMapping(t *testing.T) {
	l := New(t.TempDir(), nil)
	require.NotEmpty(t, l.Path())

	l.LogTurn(protocol.Turn{Role: protocol.RoleUser, Content: "hi"})
	l.LogTurn(protocol.Turn{Role: protocol.RoleAssistant, Content: "hello"})
	l.LogTurn(protocol.Turn{Role: protocol.RoleSystem, Content: "Error: boom"})
	l.LogTurn(protocol.Turn{Role: protocol.RoleSystem, Content: "[ToolInfo] read_file: 12 bytes"})
	l.LogTurn(protocol.Turn{Role: protocol.RoleTool, ToolCallID: "t1", Content: "X"})

	records := readRecords(t, l.Path())
	require.Len(t, records, 5)

	assert.Equal(t, EntryUserMessage, records[0].EntryType.Type)
	assert.Equal(t, "hi", records[0].EntryType.Content)
	assert.Equal(t, EntryAssistantMessage, records[1].EntryType.Type)
	assert.Equal(t, EntrySystemMessage, records[2].EntryType.Type)
	assert.Equal(t, EntryToolInfo, records[3].EntryType.Type)
	assert.Equal(t, EntryToolResult, records[4].EntryType.Type)
	assert.Equal(t, "t1", records[4].EntryType.ID)

	for _, rec := range records {
		assert.WithinDuration(t, time.Now(), rec.Timestamp, time.Minute)
	}
}

func TestLogChunk(t *testing.T) {
	l := New(t.TempDir(), nil)

	l.LogChunk(protocol.TextChunk{Delta: "never logged"})
	l.LogChunk(protocol.ToolCallChunk{ID: "t1", Name: "read_file", Arguments: `{"filename":"a.txt"}`})
	l.LogChunk(protocol.ToolResultChunk{ID: "t1", Content: "X"})

	records := readRecords(t, l.Path())
	require.Len(t, records, 2)
	assert.Equal(t, EntryToolCall, records[0].EntryType.Type)
	assert.Equal(t, "read_file", records[0].EntryType.Name)
	assert.Equal(t, EntryToolResult, records[1].EntryType.Type)
}

func TestLogToolExecution(t *testing.T) {
	l := New(t.TempDir(), nil)
	l.LogToolExecution("t1", "search", "3 matches")

	records := readRecords(t, l.Path())
	require.Len(t, records, 1)
	assert.Equal(t, EntryToolResult, records[0].EntryType.Type)
	assert.Equal(t, "[search] 3 matches", records[0].EntryType.Content)
}

func TestNoopLoggerNeverPanics(t *testing.T) {
	var l *Logger
	l.Log(Entry{Type: EntryUserMessage, Content: "dropped"})

	broken := New("/dev/null/not-a-dir", nil)
	assert.Empty(t, broken.Path())
	broken.LogTurn(protocol.Turn{Role: protocol.RoleUser, Content: "dropped"})
}
