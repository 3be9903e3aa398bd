// Package tui is the terminal chat interface: a bubbletea program whose
// update loop is the single owner of the display transcript. Stream chunks,
// connection-status updates, and finished tool executions all enter as
// messages.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/client"
	"github.com/stulentsev/jean/internal/convlog"
	"github.com/stulentsev/jean/internal/protocol"
	"github.com/stulentsev/jean/internal/tools"
)

const inputHeight = 3

// Options wires the TUI to its collaborators.
type Options struct {
	Conn      *client.Conn
	Executor  *tools.Executor
	ConvLog   *convlog.Logger
	Logger    *zap.Logger
	Workspace string
	Markdown  bool
}

type chunkMsg struct {
	chunk protocol.StreamChunk
	ok    bool
}

type statusMsg struct {
	status client.StatusUpdate
	ok     bool
}

type toolDoneMsg struct {
	call   protocol.ToolCallChunk
	result string
}

type model struct {
	opts Options
	conv *client.Conversation

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer // nil falls back to raw text

	status client.StatusUpdate
	picker picker
	files  []string
	picked map[string]string // @basename -> workspace-relative path

	width  int
	height int
	ready  bool
}

// Run starts the TUI and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	files, err := tools.WorkspaceFiles(opts.Workspace, 5000)
	if err != nil {
		opts.Logger.Warn("workspace file listing failed", zap.Error(err))
	}

	m := newModel(opts, files)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

func newModel(opts Options, files []string) model {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Prompt = "> "
	ta.SetHeight(inputHeight - 2)
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		opts:     opts,
		conv:     client.NewConversation(),
		textarea: ta,
		spinner:  sp,
		status:   opts.Conn.Status(),
		files:    files,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		listenChunks(m.opts.Conn.Chunks()),
		listenStatus(m.opts.Conn.StatusUpdates()),
		textarea.Blink,
	)
}

// listenChunks re-arms after every received chunk so frames are applied one
// at a time, in arrival order, by the update loop.
func listenChunks(ch <-chan protocol.StreamChunk) tea.Cmd {
	return func() tea.Msg {
		chunk, ok := <-ch
		return chunkMsg{chunk: chunk, ok: ok}
	}
}

func listenStatus(ch <-chan client.StatusUpdate) tea.Cmd {
	return func() tea.Msg {
		status, ok := <-ch
		return statusMsg{status: status, ok: ok}
	}
}

// execTool runs one tool call off the update loop. The execution is
// fire-and-forget: quitting the program orphans it. An error becomes the
// result text, so the model can see and react to the failure.
func execTool(executor *tools.Executor, call protocol.ToolCallChunk) tea.Cmd {
	return func() tea.Msg {
		result, err := executor.Execute(context.Background(), call.Name, call.Arguments)
		if err != nil {
			result = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		}
		return toolDoneMsg{call: call, result: result}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case chunkMsg:
		return m.handleChunk(msg)

	case statusMsg:
		if !msg.ok {
			return m, nil
		}
		// Repeated identical statuses are not user-visible events.
		if msg.status != m.status {
			m.status = msg.status
		}
		return m, listenStatus(m.opts.Conn.StatusUpdates())

	case toolDoneMsg:
		return m.handleToolDone(msg)

	case spinner.TickMsg:
		if m.streamingActive() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			m.refreshViewport(true)
			return m, cmd
		}
		return m, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		return m, tea.Quit
	}

	if m.picker.open {
		switch msg.String() {
		case "up":
			m.picker.moveUp()
			return m, nil
		case "down":
			m.picker.moveDown()
			return m, nil
		case "enter":
			m.acceptPick()
			return m, nil
		case "esc":
			m.picker.close()
			return m, nil
		}
	}

	switch msg.String() {
	case "enter":
		return m.submit()
	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	m.updatePicker()
	return m, cmd
}

// submit sends the current input as a new user turn. The attached @file
// contents ride along inside the turn content; the raw input stays in the
// transcript as typed.
func (m model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}

	// Submitting mid-round is allowed: the relay adopts the new history and
	// abandons whatever was pending, so a wedged tool round cannot lock the
	// user out.
	content := m.attachFiles(input)
	req := m.conv.SubmitUser(content)
	m.opts.ConvLog.LogTurn(protocol.Turn{Role: protocol.RoleUser, Content: content})

	m.textarea.Reset()
	m.picker.close()

	if m.opts.Conn.Status().State != client.StateConnected {
		m.conv.FailSend("not connected")
		m.refreshViewport(true)
		return m, nil
	}
	m.opts.Conn.Send(req)
	m.refreshViewport(true)
	return m, m.spinner.Tick
}

func (m model) handleChunk(msg chunkMsg) (tea.Model, tea.Cmd) {
	if !msg.ok {
		// Connection manager shut down; the program is on its way out.
		return m, nil
	}

	cmds := []tea.Cmd{listenChunks(m.opts.Conn.Chunks())}
	before := len(m.conv.Turns())

	switch chunk := msg.chunk.(type) {
	case protocol.TextChunk:
		m.conv.ApplyText(chunk.Delta, chunk.Done)
	case protocol.ToolCallChunk:
		m.opts.ConvLog.LogChunk(chunk)
		m.conv.ApplyToolCall(chunk)
		m.logNewTurns(before)
		before = len(m.conv.Turns())
		cmds = append(cmds, execTool(m.opts.Executor, chunk))
	case protocol.ToolResultChunk:
		m.opts.ConvLog.LogChunk(chunk) // reserved direction, log and ignore
	}

	m.logNewTurns(before)
	m.refreshViewport(true)
	return m, tea.Batch(cmds...)
}

func (m model) handleToolDone(msg toolDoneMsg) (tea.Model, tea.Cmd) {
	before := len(m.conv.Turns())
	res, ok := m.conv.CompleteTool(msg.call, msg.result)
	m.opts.ConvLog.LogToolExecution(msg.call.ID, msg.call.Name, msg.result)
	if !ok {
		// The user resubmitted while this execution was running; the relay
		// has adopted a new history and must not see the stale result.
		return m, nil
	}
	m.logNewTurns(before)

	m.opts.Conn.Send(res)
	m.refreshViewport(true)
	return m, m.spinner.Tick
}

// logNewTurns records every non-annotation turn appended since the given
// length marker, plus ToolInfo annotations, to the conversation log.
func (m *model) logNewTurns(since int) {
	turns := m.conv.Turns()
	for _, t := range turns[since:] {
		if t.UIOnly && t.Role == protocol.RoleAssistant {
			continue // call annotations are logged as ToolCall chunks
		}
		if t.Role == protocol.RoleUser {
			continue // logged at submit
		}
		m.opts.ConvLog.LogTurn(t.Turn)
	}
}

func (m model) streamingActive() bool {
	switch m.conv.State() {
	case client.ConvAwaitingModel, client.ConvAwaitingToolExecution, client.ConvAwaitingModelAfterTool:
		return true
	default:
		return false
	}
}

func (m model) resize(msg tea.WindowSizeMsg) model {
	m.width = msg.Width
	m.height = msg.Height

	chatHeight := msg.Height - inputHeight - 1 // status line
	if chatHeight < 1 {
		chatHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(msg.Width, chatHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = chatHeight
	}
	m.textarea.SetWidth(msg.Width - 2)

	if m.opts.Markdown {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width),
		)
		if err != nil {
			m.opts.Logger.Warn("markdown renderer unavailable", zap.Error(err))
			m.renderer = nil
		} else {
			m.renderer = renderer
		}
	}

	m.refreshViewport(false)
	return m
}

func (m *model) refreshViewport(followTail bool) {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if followTail || atBottom {
		m.viewport.GotoBottom()
	}
}

var (
	styleUser      = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	styleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleSystem    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	styleConnected    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleConnecting   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleDisconnected = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)
