package client

import (
	"fmt"
	"strings"

	"github.com/stulentsev/jean/internal/protocol"
)

// ConvState is the client conversation state.
type ConvState int

const (
	ConvIdle ConvState = iota
	ConvAwaitingModel
	ConvAwaitingToolExecution
	ConvAwaitingModelAfterTool
)

// DisplayTurn is one entry of the display transcript. UIOnly turns are
// client-side annotations (tool progress, error notes) that are never echoed
// to the relay.
type DisplayTurn struct {
	protocol.Turn
	UIOnly bool
}

const (
	errorMarker    = "Error"
	toolInfoPrefix = "[ToolInfo]"

	resultSummaryLimit = 500
)

// Conversation is the client-side state machine. It is pure: operations
// mutate the display transcript and return the messages to transmit, and the
// caller (the TUI update loop, the single owner) performs the sends. Chunks
// must be applied in arrival order.
type Conversation struct {
	turns []DisplayTurn
	state ConvState

	pending   strings.Builder
	streaming bool

	// expectContinuation absorbs the done chunk that closes a round which
	// ended in tool calls; the real answer comes from the next round.
	expectContinuation bool
	pendingCalls       int

	// generation counts submissions. Tool calls are tagged with the
	// generation they arrived in, so an execution that finishes after the
	// user has resubmitted is recognized as stale and cannot disturb the
	// new round's accumulator or state.
	generation int
	callGen    map[string]int
}

// NewConversation returns an empty conversation in the idle state.
func NewConversation() *Conversation {
	return &Conversation{}
}

// State returns the current conversation state.
func (c *Conversation) State() ConvState { return c.state }

// Turns returns the display transcript. The slice is shared; callers only
// read it.
func (c *Conversation) Turns() []DisplayTurn { return c.turns }

// Pending returns the partially streamed assistant text and whether an
// accumulator is armed.
func (c *Conversation) Pending() (string, bool) {
	return c.pending.String(), c.streaming
}

// SubmitUser appends the user turn, arms a fresh accumulator, and returns the
// request to send: the display transcript with UI-only turns filtered out.
func (c *Conversation) SubmitUser(content string) protocol.ChatRequest {
	c.turns = append(c.turns, DisplayTurn{Turn: protocol.Turn{Role: protocol.RoleUser, Content: content}})
	c.pending.Reset()
	c.streaming = true
	c.expectContinuation = false
	c.pendingCalls = 0
	c.generation++
	c.state = ConvAwaitingModel

	messages := make([]protocol.Turn, 0, len(c.turns))
	for _, t := range c.turns {
		if t.UIOnly {
			continue
		}
		messages = append(messages, t.Turn)
	}
	return protocol.ChatRequest{Messages: messages}
}

// ApplyText folds one text chunk into the conversation.
//
// A non-terminal chunk extends the accumulator. A terminal chunk normally
// materializes it into an assistant turn (skipped when empty) and returns to
// idle — unless the continuation guard is up, in which case this done merely
// closes the pre-tool round and the accumulator stays armed for the real
// answer. A terminal chunk carrying the error marker is surfaced as a system
// turn and ends the round regardless.
func (c *Conversation) ApplyText(delta string, done bool) {
	if !done {
		if c.streaming {
			c.pending.WriteString(delta)
		}
		return
	}

	if strings.HasPrefix(delta, errorMarker) {
		c.materialize()
		c.turns = append(c.turns, DisplayTurn{
			Turn:   protocol.Turn{Role: protocol.RoleSystem, Content: delta},
			UIOnly: true,
		})
		c.expectContinuation = false
		c.pendingCalls = 0
		c.state = ConvIdle
		return
	}

	if c.expectContinuation {
		c.expectContinuation = false
		return
	}

	c.materialize()
	c.state = ConvIdle
}

// ApplyToolCall records an incoming tool-call chunk: a UI-only annotation is
// appended and the continuation guard goes up before the round's terminal
// done can arrive. The caller executes the tool asynchronously and reports
// back through CompleteTool.
func (c *Conversation) ApplyToolCall(tc protocol.ToolCallChunk) {
	c.turns = append(c.turns, DisplayTurn{
		Turn: protocol.Turn{
			Role:    protocol.RoleAssistant,
			Content: fmt.Sprintf("Calling tool %s(%s)", tc.Name, tc.Arguments),
		},
		UIOnly: true,
	})
	c.expectContinuation = true
	c.pendingCalls++
	if c.callGen == nil {
		c.callGen = make(map[string]int)
	}
	c.callGen[tc.ID] = c.generation
	c.state = ConvAwaitingToolExecution
}

// CompleteTool records a finished local execution and returns the ToolResult
// to send. The accumulator restarts so the eventual real answer does not
// concatenate with anything streamed before the tool round. A completion
// belonging to a round the user has since abandoned reports ok=false: it
// appends nothing, leaves the current round untouched, and its result must
// not be sent.
func (c *Conversation) CompleteTool(tc protocol.ToolCallChunk, result string) (protocol.ToolResult, bool) {
	gen, known := c.callGen[tc.ID]
	delete(c.callGen, tc.ID)
	if !known || gen != c.generation {
		return protocol.ToolResult{}, false
	}

	c.turns = append(c.turns, DisplayTurn{
		Turn: protocol.Turn{
			Role:    protocol.RoleSystem,
			Content: fmt.Sprintf("%s %s: %s", toolInfoPrefix, tc.Name, summarize(result)),
		},
		UIOnly: true,
	})
	c.pending.Reset()
	c.streaming = true
	if c.pendingCalls > 0 {
		c.pendingCalls--
	}
	if c.pendingCalls == 0 {
		c.state = ConvAwaitingModelAfterTool
	}
	return protocol.ToolResult{ID: tc.ID, Content: result}, true
}

// FailSend records a failed transmission as a UI-only system note and returns
// the conversation to idle; no response will arrive for the aborted round.
func (c *Conversation) FailSend(reason string) {
	c.turns = append(c.turns, DisplayTurn{
		Turn:   protocol.Turn{Role: protocol.RoleSystem, Content: "Failed to send message: " + reason},
		UIOnly: true,
	})
	c.streaming = false
	c.pending.Reset()
	c.expectContinuation = false
	c.pendingCalls = 0
	c.state = ConvIdle
}

func (c *Conversation) materialize() {
	if content := c.pending.String(); content != "" {
		c.turns = append(c.turns, DisplayTurn{
			Turn: protocol.Turn{Role: protocol.RoleAssistant, Content: content},
		})
	}
	c.pending.Reset()
	c.streaming = false
}

func summarize(s string) string {
	if len(s) <= resultSummaryLimit {
		return s
	}
	return s[:resultSummaryLimit] + "..."
}
