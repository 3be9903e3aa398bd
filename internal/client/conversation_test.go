package client

import (
	"strings"
	"testing"

	"github.com/stulentsev/jean/internal/protocol"
)

func TestSubmitUserBuildsRequest(t *testing.T) {
	conv := NewConversation()

	req := conv.SubmitUser("hi")
	if len(req.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(req.Messages))
	}
	if req.Messages[0].Role != protocol.RoleUser || req.Messages[0].Content != "hi" {
		t.Errorf("unexpected turn %+v", req.Messages[0])
	}
	if conv.State() != ConvAwaitingModel {
		t.Errorf("state = %v, want AwaitingModel", conv.State())
	}
	if _, streaming := conv.Pending(); !streaming {
		t.Error("accumulator should be armed after submit")
	}
}

func TestDeltaConcatenation(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("hi")

	conv.ApplyText("Hel", false)
	conv.ApplyText("lo", false)
	conv.ApplyText("", true)

	turns := conv.Turns()
	last := turns[len(turns)-1]
	if last.Role != protocol.RoleAssistant || last.Content != "Hello" {
		t.Errorf("materialized turn = %+v, want assistant %q", last, "Hello")
	}
	if conv.State() != ConvIdle {
		t.Errorf("state = %v, want Idle", conv.State())
	}
}

func TestEmptyRoundMaterializesNothing(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("hi")
	before := len(conv.Turns())

	conv.ApplyText("", true)

	if got := len(conv.Turns()); got != before {
		t.Errorf("turns = %d, want %d (empty accumulator must not materialize)", got, before)
	}
	if conv.State() != ConvIdle {
		t.Errorf("state = %v, want Idle", conv.State())
	}
}

func TestErrorDeltaBecomesSystemTurn(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("hi")
	conv.ApplyText("partial", false)
	conv.ApplyText("Error: upstream exploded", true)

	turns := conv.Turns()
	last := turns[len(turns)-1]
	if last.Role != protocol.RoleSystem || !strings.HasPrefix(last.Content, "Error") {
		t.Errorf("want trailing system error turn, got %+v", last)
	}
	if !last.UIOnly {
		t.Error("error note must be UI-only")
	}
	// The partial text streamed before the failure is still materialized.
	prev := turns[len(turns)-2]
	if prev.Role != protocol.RoleAssistant || prev.Content != "partial" {
		t.Errorf("want materialized partial before error note, got %+v", prev)
	}
	if conv.State() != ConvIdle {
		t.Errorf("state = %v, want Idle", conv.State())
	}
}

func TestGuardAbsorbsPreToolDone(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("read a.txt")

	call := protocol.ToolCallChunk{ID: "t1", Name: "read_file", Arguments: `{"filename":"a.txt"}`}
	conv.ApplyToolCall(call)
	if conv.State() != ConvAwaitingToolExecution {
		t.Fatalf("state = %v, want AwaitingToolExecution", conv.State())
	}

	// The terminal done of the pre-tool round must not materialize a turn.
	before := len(conv.Turns())
	conv.ApplyText("", true)
	if got := len(conv.Turns()); got != before {
		t.Errorf("guarded done materialized a turn")
	}

	res, ok := conv.CompleteTool(call, "X")
	if !ok {
		t.Fatal("completion for the current round must be accepted")
	}
	if res.ID != "t1" || res.Content != "X" {
		t.Errorf("tool result = %+v", res)
	}
	if conv.State() != ConvAwaitingModelAfterTool {
		t.Errorf("state = %v, want AwaitingModelAfterTool", conv.State())
	}

	// The real answer streams in a fresh accumulator.
	conv.ApplyText("the file ", false)
	conv.ApplyText("says X", false)
	conv.ApplyText("", true)

	turns := conv.Turns()
	last := turns[len(turns)-1]
	if last.Content != "the file says X" {
		t.Errorf("final answer = %q", last.Content)
	}
	if conv.State() != ConvIdle {
		t.Errorf("state = %v, want Idle", conv.State())
	}
}

func TestToolAnnotationOrdering(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("read a.txt")

	call := protocol.ToolCallChunk{ID: "1", Name: "read_file", Arguments: `{"filename":"a.txt"}`}
	conv.ApplyToolCall(call)
	conv.ApplyText("", true)
	conv.CompleteTool(call, "X")
	conv.ApplyText("done", false)
	conv.ApplyText("", true)

	turns := conv.Turns()
	if len(turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(turns))
	}
	if turns[0].Role != protocol.RoleUser {
		t.Errorf("turn 0 = %+v, want user", turns[0])
	}
	if turns[1].Role != protocol.RoleAssistant || !turns[1].UIOnly {
		t.Errorf("turn 1 = %+v, want UI-only assistant call annotation", turns[1])
	}
	if turns[2].Role != protocol.RoleSystem || !turns[2].UIOnly || !strings.HasPrefix(turns[2].Content, "[ToolInfo]") {
		t.Errorf("turn 2 = %+v, want UI-only [ToolInfo] annotation", turns[2])
	}
	if turns[3].Role != protocol.RoleAssistant || turns[3].UIOnly || turns[3].Content != "done" {
		t.Errorf("turn 3 = %+v, want real assistant answer", turns[3])
	}
}

func TestAnnotationsFilteredFromRequests(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("read a.txt")

	call := protocol.ToolCallChunk{ID: "1", Name: "read_file", Arguments: "{}"}
	conv.ApplyToolCall(call)
	conv.ApplyText("", true)
	conv.CompleteTool(call, "X")
	conv.ApplyText("answer", false)
	conv.ApplyText("", true)

	req := conv.SubmitUser("thanks")
	for _, m := range req.Messages {
		if strings.HasPrefix(m.Content, "Calling tool") || strings.HasPrefix(m.Content, "[ToolInfo]") {
			t.Errorf("annotation leaked into request: %+v", m)
		}
	}
	// user, assistant answer, user.
	if len(req.Messages) != 3 {
		t.Errorf("messages = %d, want 3", len(req.Messages))
	}
}

func TestParallelToolCallsAwaitAllExecutions(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("compare files")

	c1 := protocol.ToolCallChunk{ID: "1", Name: "read_file", Arguments: "{}"}
	c2 := protocol.ToolCallChunk{ID: "2", Name: "read_file", Arguments: "{}"}
	conv.ApplyToolCall(c1)
	conv.ApplyToolCall(c2)
	conv.ApplyText("", true)

	conv.CompleteTool(c1, "A")
	if conv.State() != ConvAwaitingToolExecution {
		t.Errorf("state = %v, want AwaitingToolExecution while one call remains", conv.State())
	}
	conv.CompleteTool(c2, "B")
	if conv.State() != ConvAwaitingModelAfterTool {
		t.Errorf("state = %v, want AwaitingModelAfterTool", conv.State())
	}
}

func TestLateToolResultDoesNotClobberNewRound(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("read a.txt")

	call := protocol.ToolCallChunk{ID: "t1", Name: "read_file", Arguments: `{"filename":"a.txt"}`}
	conv.ApplyToolCall(call)
	conv.ApplyText("", true)

	// The user gives up on the slow tool round and submits again. The answer
	// for the new round starts streaming while the execution is still running.
	conv.SubmitUser("never mind")
	conv.ApplyText("Hel", false)

	before := len(conv.Turns())
	res, ok := conv.CompleteTool(call, "late result")
	if ok {
		t.Fatalf("completion from an abandoned round was accepted: %+v", res)
	}
	if got := len(conv.Turns()); got != before {
		t.Errorf("stale completion appended %d annotation turn(s)", got-before)
	}

	conv.ApplyText("lo", false)
	conv.ApplyText("", true)

	turns := conv.Turns()
	last := turns[len(turns)-1]
	if last.Role != protocol.RoleAssistant || last.Content != "Hello" {
		t.Errorf("final answer = %q, want %q (stale completion must not reset the accumulator)", last.Content, "Hello")
	}
	if conv.State() != ConvIdle {
		t.Errorf("state = %v, want Idle", conv.State())
	}
}

func TestFailSend(t *testing.T) {
	conv := NewConversation()
	conv.SubmitUser("hi")
	conv.FailSend("connection refused")

	turns := conv.Turns()
	last := turns[len(turns)-1]
	if last.Role != protocol.RoleSystem || !last.UIOnly {
		t.Errorf("want UI-only system note, got %+v", last)
	}
	if conv.State() != ConvIdle {
		t.Errorf("state = %v, want Idle", conv.State())
	}
	if _, streaming := conv.Pending(); streaming {
		t.Error("accumulator must be disarmed after a failed send")
	}
}
