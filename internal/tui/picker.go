package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const pickerLimit = 5

// picker is the @file overlay: while the input ends in an @word token it
// lists matching workspace files for attachment.
type picker struct {
	open     bool
	query    string
	matches  []string
	selected int
}

func (p *picker) close() {
	p.open = false
	p.query = ""
	p.matches = nil
	p.selected = 0
}

func (p *picker) moveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

func (p *picker) moveDown() {
	if p.selected < len(p.matches)-1 {
		p.selected++
	}
}

func (p picker) view() string {
	var b strings.Builder
	b.WriteString(styleMuted.Render(fmt.Sprintf("@%s — files:", p.query)))
	for i, f := range p.matches {
		b.WriteString("\n")
		if i == p.selected {
			b.WriteString(styleUser.Render("> " + f))
		} else {
			b.WriteString("  " + f)
		}
	}
	return b.String()
}

var atTokenRE = regexp.MustCompile(`@([\w\-./]*)$`)

// updatePicker opens or refreshes the overlay from the current input: a
// trailing @word token triggers a case-insensitive contains match over the
// workspace file list, capped at pickerLimit entries.
func (m *model) updatePicker() {
	match := atTokenRE.FindStringSubmatch(m.textarea.Value())
	if match == nil {
		m.picker.close()
		return
	}
	query := match[1]
	m.picker.open = true
	m.picker.query = query
	m.picker.matches = filterFiles(m.files, query, pickerLimit)
	if m.picker.selected >= len(m.picker.matches) {
		m.picker.selected = 0
	}
}

func filterFiles(files []string, query string, limit int) []string {
	lowered := strings.ToLower(query)
	var out []string
	for _, f := range files {
		if query == "" || strings.Contains(strings.ToLower(f), lowered) {
			out = append(out, f)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// acceptPick replaces the @word token with the selected file's @basename and
// remembers the full path for attachment at submit time.
func (m *model) acceptPick() {
	if !m.picker.open || len(m.picker.matches) == 0 {
		m.picker.close()
		return
	}
	picked := m.picker.matches[m.picker.selected]
	base := filepath.Base(picked)

	value := atTokenRE.ReplaceAllString(m.textarea.Value(), "@"+base+" ")
	m.textarea.SetValue(value)
	if m.picked == nil {
		m.picked = make(map[string]string)
	}
	m.picked[base] = picked
	m.picker.close()
}

var atRefRE = regexp.MustCompile(`@([\w\-.]+)`)

// attachFiles appends the contents of every @name-referenced file to the
// outbound turn. Unreadable files attach an error note instead; the model
// can react to it.
func (m *model) attachFiles(input string) string {
	if len(m.picked) == 0 {
		return input
	}
	var attachments []string
	for _, match := range atRefRE.FindAllStringSubmatch(input, -1) {
		rel, ok := m.picked[match[1]]
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.opts.Workspace, rel))
		if err != nil {
			attachments = append(attachments, fmt.Sprintf("--- %s ---\n(could not read: %v)", rel, err))
			continue
		}
		attachments = append(attachments, fmt.Sprintf("--- %s ---\n%s", rel, string(data)))
	}
	if len(attachments) == 0 {
		return input
	}
	return input + "\n\n" + strings.Join(attachments, "\n\n")
}
