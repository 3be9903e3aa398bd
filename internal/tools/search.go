package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	defaultContextLines = 2
	maxMatches          = 100
)

// ignoredDirs are directory names skipped by search and the workspace file
// listing. Hidden directories are skipped separately.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
}

func skipDir(name string) bool {
	if ignoredDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}

// WorkspaceFiles lists regular files under root, relative paths, honoring the
// same ignore conventions as search. At most limit entries are returned;
// limit <= 0 means no cap.
func WorkspaceFiles(root string, limit int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		if limit > 0 && len(files) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

type searchArgs struct {
	Pattern      string `json:"pattern"`
	FileFilter   string `json:"file_filter"`
	ContextLines *int   `json:"context_lines"`
}

// search walks the workspace, applies the regex per line in every file
// matching the glob filter, and renders grep-style match blocks: the matching
// line as "path:NN:", context lines as "path-NN-", blocks separated by "--".
func (e *Executor) search(ctx context.Context, argumentsJSON string) (string, error) {
	var args searchArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	contextLines := defaultContextLines
	if args.ContextLines != nil {
		if *args.ContextLines < 0 {
			return "", fmt.Errorf("context_lines must be >= 0")
		}
		contextLines = *args.ContextLines
	}

	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	filter, err := compileFilter(args.FileFilter)
	if err != nil {
		return "", err
	}

	var report strings.Builder
	matches := 0
	truncated := false

	err = filepath.WalkDir(e.workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != e.workspace && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(e.workspace, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !filter.match(rel) {
			return nil
		}

		n, fileErr := e.searchFile(path, rel, re, contextLines, maxMatches-matches, &report)
		if fileErr != nil {
			return nil // unreadable or oversized files are skipped
		}
		matches += n
		if matches >= maxMatches {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	if matches == 0 {
		return fmt.Sprintf("No matches found for pattern %q", args.Pattern), nil
	}
	if truncated {
		fmt.Fprintf(&report, "... truncated at %d matches\n", maxMatches)
	}
	return strings.TrimRight(report.String(), "\n"), nil
}

// searchFile scans one file and appends up to budget match blocks to report.
// Returns the number of matches rendered.
func (e *Executor) searchFile(path, rel string, re *regexp.Regexp, contextLines, budget int, report *strings.Builder) (int, error) {
	if budget <= 0 {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() > maxFileSize {
		return 0, fmt.Errorf("file skipped")
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	matched := 0
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		if matched > 0 || report.Len() > 0 {
			report.WriteString("--\n")
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		end := i + contextLines
		if end > len(lines)-1 {
			end = len(lines) - 1
		}
		for j := start; j <= end; j++ {
			if j == i {
				fmt.Fprintf(report, "%s:%d: %s\n", rel, j+1, lines[j])
			} else {
				fmt.Fprintf(report, "%s-%d- %s\n", rel, j+1, lines[j])
			}
		}
		matched++
		if matched >= budget {
			break
		}
	}
	return matched, nil
}

// fileFilter matches a glob against the base name, the full relative path, or
// — for "dir/**/*.ext" style patterns — any path suffix segment by segment.
type fileFilter struct {
	pattern string
}

func compileFilter(pattern string) (fileFilter, error) {
	if pattern == "" || pattern == "*" {
		return fileFilter{pattern: ""}, nil
	}
	// Validate the glob syntax once, against a probe string.
	probe := strings.ReplaceAll(pattern, "**", "*")
	if _, err := filepath.Match(probe, "probe"); err != nil {
		return fileFilter{}, fmt.Errorf("invalid file_filter: %w", err)
	}
	return fileFilter{pattern: pattern}, nil
}

func (f fileFilter) match(rel string) bool {
	if f.pattern == "" {
		return true
	}
	base := filepath.Base(rel)
	if ok, _ := filepath.Match(f.pattern, base); ok {
		return true
	}
	if ok, _ := filepath.Match(f.pattern, rel); ok {
		return true
	}
	// "src/**/*.go" — split on "**" and require prefix/suffix matches.
	if i := strings.Index(f.pattern, "**"); i >= 0 {
		prefix := strings.TrimSuffix(f.pattern[:i], "/")
		suffix := strings.TrimPrefix(f.pattern[i+2:], "/")
		if prefix != "" && !strings.HasPrefix(rel, prefix+"/") && rel != prefix {
			return false
		}
		if suffix == "" {
			return true
		}
		if ok, _ := filepath.Match(suffix, base); ok {
			return true
		}
	}
	return false
}
