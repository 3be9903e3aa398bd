package tui

import (
	"fmt"
	"strings"

	"github.com/stulentsev/jean/internal/client"
	"github.com/stulentsev/jean/internal/protocol"
)

func (m model) View() string {
	if !m.ready {
		return "Starting jean..."
	}

	var b strings.Builder
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.picker.open {
		b.WriteString(m.picker.view())
		b.WriteString("\n")
	}
	b.WriteString(m.textarea.View())
	return b.String()
}

func (m model) statusLine() string {
	var status string
	switch m.status.State {
	case client.StateConnected:
		status = styleConnected.Render("● Connected")
	case client.StateConnecting:
		status = styleConnecting.Render("● Connecting...")
	case client.StateError:
		status = styleDisconnected.Render("● Error: " + m.status.Reason)
	default:
		status = styleDisconnected.Render("● Disconnected")
	}

	tokens := styleMuted.Render(fmt.Sprintf("~%d tokens", m.transcriptTokens()))
	gap := m.width - displayWidth(status) - displayWidth(tokens)
	if gap < 1 {
		gap = 1
	}
	return status + strings.Repeat(" ", gap) + tokens
}

// renderTranscript lays out the display transcript plus the streaming turn:
// "●●●" while the accumulator is empty, the partial text with a trailing
// cursor once deltas arrive.
func (m model) renderTranscript() string {
	var b strings.Builder

	for _, turn := range m.conv.Turns() {
		m.renderTurn(&b, turn)
	}

	if pending, armed := m.conv.Pending(); armed && m.streamingActive() {
		b.WriteString(styleAssistant.Render("Assistant:"))
		b.WriteString("\n")
		if pending == "" {
			b.WriteString(m.spinner.View() + "●●●")
		} else {
			b.WriteString(pending + "▌")
		}
		b.WriteString("\n\n")
	}

	return b.String()
}

func (m model) renderTurn(b *strings.Builder, turn client.DisplayTurn) {
	switch turn.Role {
	case protocol.RoleUser:
		b.WriteString(styleUser.Render("You:"))
		b.WriteString("\n")
		b.WriteString(styleUser.Bold(false).Render(turn.Content))
	case protocol.RoleAssistant:
		b.WriteString(styleAssistant.Render("Assistant:"))
		b.WriteString("\n")
		if turn.UIOnly {
			b.WriteString(styleMuted.Render(turn.Content))
		} else {
			b.WriteString(m.renderMarkdown(turn.Content))
		}
	case protocol.RoleSystem:
		b.WriteString(styleSystem.Render("System:"))
		b.WriteString("\n")
		b.WriteString(styleSystem.Render(turn.Content))
	default:
		b.WriteString(styleMuted.Render(turn.Content))
	}
	b.WriteString("\n\n")
}

// renderMarkdown renders assistant text through glamour, falling back to the
// raw text when no renderer is available or rendering fails.
func (m model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

// transcriptTokens estimates the context size of the next request: the
// non-annotation turns plus the current input.
func (m model) transcriptTokens() int {
	var b strings.Builder
	for _, turn := range m.conv.Turns() {
		if turn.UIOnly {
			continue
		}
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString(m.textarea.Value())
	return estimateTokens(b.String())
}

// displayWidth is a plain rune count over the styled string with ANSI
// sequences stripped; good enough for the status line.
func displayWidth(s string) int {
	width := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			width++
		}
	}
	return width
}
