package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/archive"
	"github.com/stulentsev/jean/internal/metrics"
	"github.com/stulentsev/jean/internal/protocol"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateStreaming
	stateAwaitingToolResults
)

// session is the per-connection actor. One goroutine (the read loop) owns
// the transcript and all state transitions; a round streams inline, so a new
// inbound frame is not read until the previous round reached a terminal
// event. The ping loop is the only other writer and shares writeMu.
type session struct {
	conn       *websocket.Conn
	remoteAddr string
	llm        Completer
	store      *archive.Store
	logger     *zap.Logger

	writeMu sync.Mutex

	state      sessionState
	transcript []protocol.Turn
	pending    map[string]bool // outstanding tool-call ids for the current round

	archiveID    string
	firstRequest bool
}

func newSession(conn *websocket.Conn, remoteAddr string, completer Completer, store *archive.Store, logger *zap.Logger) *session {
	return &session{
		conn:         conn,
		remoteAddr:   remoteAddr,
		llm:          completer,
		store:        store,
		logger:       logger.With(zap.String("remote", remoteAddr)),
		state:        stateIdle,
		firstRequest: true,
	}
}

func (sess *session) run(ctx context.Context) {
	defer sess.conn.Close()

	if sess.store != nil {
		id, err := sess.store.BeginSession(ctx, sess.remoteAddr)
		if err != nil {
			sess.logger.Warn("archive begin failed", zap.Error(err))
		} else {
			sess.archiveID = id
		}
		defer func() {
			if sess.archiveID == "" {
				return
			}
			if err := sess.store.EndSession(context.Background(), sess.archiveID); err != nil {
				sess.logger.Warn("archive end failed", zap.Error(err))
			}
		}()
	}

	go sess.pingLoop(ctx)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				sess.logger.Warn("read failed", zap.Error(err))
			}
			return
		}
		sess.handleFrame(ctx, data)
		if ctx.Err() != nil {
			return
		}
	}
}

// handleFrame dispatches one inbound frame. A malformed frame is answered
// with a synthetic error chunk and the connection stays open.
func (sess *session) handleFrame(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		metrics.FramesRejected.Inc()
		sess.logger.Warn("rejecting malformed frame", zap.Error(err))
		sess.sendChunk(protocol.TextChunk{Delta: "Invalid request format: " + err.Error(), Done: true})
		return
	}

	switch m := msg.(type) {
	case protocol.ChatRequest:
		sess.handleChatRequest(ctx, m)
	case protocol.ToolResult:
		sess.handleToolResult(ctx, m)
	}
}

// handleChatRequest adopts the incoming history verbatim as the new
// authoritative transcript prefix and streams a fresh round. A request that
// arrives while tool results are still outstanding abandons that round.
//
// The archive tap records the full adopted history once per session, then
// only the triggering turn of each later request: the rest of a resent
// history is context the archive has already seen.
func (sess *session) handleChatRequest(ctx context.Context, req protocol.ChatRequest) {
	sess.transcript = append(sess.transcript[:0], req.Messages...)
	sess.pending = nil

	if sess.firstRequest {
		sess.firstRequest = false
		for _, turn := range req.Messages {
			sess.archiveTurn(ctx, turn)
		}
	} else if n := len(req.Messages); n > 0 {
		sess.archiveTurn(ctx, req.Messages[n-1])
	}

	sess.streamRound(ctx, "Error: ")
}

// handleToolResult folds the result into the transcript. Once every
// outstanding call from the round is answered, the round continues with a
// re-invocation; a result with an unknown id is folded and logged but never
// trips the session.
func (sess *session) handleToolResult(ctx context.Context, res protocol.ToolResult) {
	metrics.ToolResultsTotal.Inc()

	if sess.state != stateAwaitingToolResults {
		sess.logger.Warn("tool result outside a tool round", zap.String("id", res.ID))
	} else if !sess.pending[res.ID] {
		sess.logger.Warn("tool result for unknown call", zap.String("id", res.ID))
	}

	turn := protocol.Turn{
		Role:       protocol.RoleTool,
		ToolCallID: res.ID,
		Content:    res.Content,
	}
	sess.transcript = append(sess.transcript, turn)
	sess.archiveTurn(ctx, turn)
	delete(sess.pending, res.ID)

	if sess.state == stateAwaitingToolResults && len(sess.pending) == 0 {
		sess.streamRound(ctx, "Error continuing conversation: ")
	}
}

// streamRound invokes the completion capability with the full transcript and
// forwards every event verbatim while accumulating the round's outcome. At
// the terminal done chunk the outcome is folded: tool calls win over text,
// never both. errPrefix distinguishes an initial invocation failure from a
// failure while continuing after tool results.
func (sess *session) streamRound(ctx context.Context, errPrefix string) {
	sess.state = stateStreaming
	start := time.Now()

	var buf strings.Builder
	var calls []protocol.ToolCall

	for ev := range sess.llm.StreamCompletion(ctx, sess.transcript) {
		if ev.Err != nil {
			sess.logger.Error("completion failed", zap.Error(ev.Err))
			metrics.RoundsTotal.WithLabelValues("error").Inc()
			sess.sendChunk(protocol.TextChunk{Delta: errPrefix + ev.Err.Error(), Done: true})
			sess.state = stateIdle
			return
		}

		switch chunk := ev.Chunk.(type) {
		case protocol.TextChunk:
			sess.sendChunk(chunk)
			buf.WriteString(chunk.Delta)
			if chunk.Done {
				sess.foldRound(ctx, buf.String(), calls)
				metrics.CompletionDuration.Observe(time.Since(start).Seconds())
				return
			}
		case protocol.ToolCallChunk:
			sess.sendChunk(chunk)
			calls = append(calls, protocol.ToolCall{ID: chunk.ID, Name: chunk.Name, Arguments: chunk.Arguments})
		case protocol.ToolResultChunk:
			sess.sendChunk(chunk)
		}
	}

	// Stream closed without a terminal chunk (context cancelled).
	sess.state = stateIdle
}

// foldRound finalizes one round into the transcript.
func (sess *session) foldRound(ctx context.Context, text string, calls []protocol.ToolCall) {
	switch {
	case len(calls) > 0:
		turn := protocol.Turn{Role: protocol.RoleAssistant, ToolCalls: calls}
		sess.transcript = append(sess.transcript, turn)
		sess.archiveTurn(ctx, turn)
		sess.pending = make(map[string]bool, len(calls))
		for _, tc := range calls {
			sess.pending[tc.ID] = true
		}
		sess.state = stateAwaitingToolResults
		metrics.RoundsTotal.WithLabelValues("tool_calls").Inc()
	case text != "":
		turn := protocol.Turn{Role: protocol.RoleAssistant, Content: text}
		sess.transcript = append(sess.transcript, turn)
		sess.archiveTurn(ctx, turn)
		sess.state = stateIdle
		metrics.RoundsTotal.WithLabelValues("text").Inc()
	default:
		sess.state = stateIdle
		metrics.RoundsTotal.WithLabelValues("empty").Inc()
	}
}

// sendChunk encodes and writes one frame. A serialization or write failure
// is logged and the message dropped; it never crashes the session.
func (sess *session) sendChunk(chunk protocol.StreamChunk) {
	data, err := protocol.EncodeStreamChunk(chunk)
	if err != nil {
		sess.logger.Error("encode chunk failed", zap.Error(err))
		return
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		sess.logger.Warn("write failed", zap.Error(err))
		return
	}
	metrics.ChunksForwarded.WithLabelValues(chunkType(chunk)).Inc()
}

func chunkType(chunk protocol.StreamChunk) string {
	switch chunk.(type) {
	case protocol.TextChunk:
		return protocol.TypeText
	case protocol.ToolCallChunk:
		return protocol.TypeToolCall
	case protocol.ToolResultChunk:
		return protocol.TypeToolResult
	default:
		return "unknown"
	}
}

func (sess *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.writeMu.Lock()
			sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := sess.conn.WriteMessage(websocket.PingMessage, nil)
			sess.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// archiveTurn taps one appended turn into the archive. Failures are logged
// and swallowed; the archive never alters control flow.
func (sess *session) archiveTurn(ctx context.Context, turn protocol.Turn) {
	if sess.store == nil || sess.archiveID == "" {
		return
	}
	if err := sess.store.AppendTurn(ctx, sess.archiveID, turn); err != nil {
		sess.logger.Warn("archive append failed", zap.Error(err))
	}
}
