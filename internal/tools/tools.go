// Package tools implements the local tool capability the model may invoke:
// read_file and search. Executors run on the client, against the configured
// workspace. Failures are reported as result text by the caller — a tool
// error is conversational content, never a protocol fault.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode"

	"go.uber.org/zap"
)

const (
	NameReadFile = "read_file"
	NameSearch   = "search"

	maxFileSize = 10 * 1024 * 1024
	sniffLen    = 512
)

// Executor dispatches tool calls by name on an opaque JSON arguments blob.
type Executor struct {
	workspace string
	logger    *zap.Logger
}

// NewExecutor creates an executor rooted at workspace. Relative paths in tool
// arguments resolve against it.
func NewExecutor(workspace string, logger *zap.Logger) *Executor {
	if workspace == "" {
		workspace = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{workspace: workspace, logger: logger}
}

// Execute runs the named tool. The returned error is meant to be folded into
// the result text by the caller.
func (e *Executor) Execute(ctx context.Context, name, argumentsJSON string) (string, error) {
	e.logger.Info("executing tool", zap.String("tool", name))
	switch name {
	case NameReadFile:
		return e.readFile(argumentsJSON)
	case NameSearch:
		return e.search(ctx, argumentsJSON)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

type readFileArgs struct {
	Filename string `json:"filename"`
}

func (e *Executor) readFile(argumentsJSON string) (string, error) {
	var args readFileArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Filename == "" {
		return "", fmt.Errorf("filename is required")
	}

	path := args.Filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workspace, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", args.Filename, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", args.Filename)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("%s is too large (%d bytes, limit %d)", args.Filename, info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", args.Filename, err)
	}
	if isBinary(data) {
		return "", fmt.Errorf("%s appears to be a binary file", args.Filename)
	}
	return string(data), nil
}

// isBinary sniffs the first bytes for a NUL or a mostly non-printable mix.
func isBinary(data []byte) bool {
	n := len(data)
	if n == 0 {
		return false
	}
	if n > sniffLen {
		n = sniffLen
	}
	nonPrintable := 0
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
		r := rune(b)
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) && b < 0x80 {
			nonPrintable++
		}
	}
	return nonPrintable*10 > n*3
}
