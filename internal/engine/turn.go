package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quillchat/quill/internal/artifacts"
	"github.com/quillchat/quill/internal/capabilities"
	"github.com/quillchat/quill/internal/observability"
	"github.com/quillchat/quill/internal/tools"
	"github.com/quillchat/quill/pkg/models"
)

// Resolver picks the adapter serving a provider and model pair.
type Resolver interface {
	Resolve(provider, model string) (ProviderAdapter, error)
}

// TurnRequest launches one turn on a conversation.
type TurnRequest struct {
	ConversationID string

	Provider string
	Model    string
	System   string

	// History is the committed transcript including the user message that
	// starts this turn.
	History []models.ChatMessage

	// Artifacts is the conversation's committed artifact list.
	Artifacts []models.Artifact

	EnableReasoning       bool
	ReasoningBudgetTokens int

	// Precomputed maps web search queries to results resolved before the
	// turn started.
	Precomputed map[string][]capabilities.SearchResult
}

// Engine runs turns. One engine serves many conversations; each conversation
// has at most one turn in flight, a newer turn superseding the previous one.
type Engine struct {
	adapters Resolver
	registry *tools.Registry
	executor *tools.Executor
	opts     Options

	metrics *observability.Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	active map[string]*activeTurn
}

type activeTurn struct {
	cancel context.CancelCauseFunc
}

// New builds an engine.
func New(adapters Resolver, registry *tools.Registry, executor *tools.Executor, opts Options) *Engine {
	return &Engine{
		adapters: adapters,
		registry: registry,
		executor: executor,
		opts:     sanitizeOptions(opts),
		tracer:   otel.Tracer("quill/engine"),
		active:   make(map[string]*activeTurn),
	}
}

// SetMetrics attaches a metrics sink. Safe to skip; a nil sink records
// nothing.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// Run launches a turn and returns its event stream. The channel is closed
// after the EventEnd frame. A turn already in flight on the same
// conversation is cancelled first.
func (e *Engine) Run(ctx context.Context, req TurnRequest) (<-chan *TurnEvent, error) {
	if req.ConversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if len(req.History) == 0 {
		return nil, errors.New("history is empty")
	}
	adapter, err := e.adapters.Resolve(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancelCause(ctx)
	if e.opts.MaxWallTime > 0 {
		var stopTimer context.CancelFunc
		turnCtx, stopTimer = context.WithTimeout(turnCtx, e.opts.MaxWallTime)
		inner := cancel
		cancel = func(cause error) {
			inner(cause)
			stopTimer()
		}
	}

	turn := &activeTurn{cancel: cancel}
	e.begin(req.ConversationID, turn)

	events := make(chan *TurnEvent, e.opts.EventBuffer)
	go e.run(turnCtx, adapter, req, turn, events)
	return events, nil
}

// Regenerate reruns the assistant's reply: everything after the last user
// message is dropped from the history before launching the turn.
func (e *Engine) Regenerate(ctx context.Context, req TurnRequest) (<-chan *TurnEvent, error) {
	idx := lastUserIndex(req.History)
	if idx < 0 {
		return nil, errors.New("no user message to regenerate from")
	}
	req.History = req.History[:idx+1]
	return e.Run(ctx, req)
}

// EditAndRun rewrites one user message and relaunches from there: the edited
// message gets the new content and everything after it is dropped.
func (e *Engine) EditAndRun(ctx context.Context, req TurnRequest, messageID, newContent string) (<-chan *TurnEvent, error) {
	idx := -1
	for i := range req.History {
		if req.History[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("message %q not found", messageID)
	}
	if req.History[idx].Role != models.RoleUser {
		return nil, fmt.Errorf("message %q is not a user message", messageID)
	}
	history := append([]models.ChatMessage(nil), req.History[:idx+1]...)
	history[idx].Content = newContent
	req.History = history
	return e.Run(ctx, req)
}

// Abort cancels the conversation's in-flight turn, if any. The turn commits
// its partial output and ends with StateAborted.
func (e *Engine) Abort(conversationID string) bool {
	e.mu.Lock()
	turn, ok := e.active[conversationID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	turn.cancel(context.Canceled)
	return true
}

func (e *Engine) begin(conversationID string, turn *activeTurn) {
	e.mu.Lock()
	prev, ok := e.active[conversationID]
	e.active[conversationID] = turn
	e.mu.Unlock()
	if ok {
		// The superseded turn sees ErrSuperseded as its cancellation cause
		// and still commits what it streamed.
		prev.cancel(ErrSuperseded)
	}
}

func (e *Engine) end(conversationID string, turn *activeTurn) {
	e.mu.Lock()
	if e.active[conversationID] == turn {
		delete(e.active, conversationID)
	}
	e.mu.Unlock()
	turn.cancel(context.Canceled)
}

func (e *Engine) run(ctx context.Context, adapter ProviderAdapter, req TurnRequest, turn *activeTurn, events chan<- *TurnEvent) {
	defer close(events)
	defer e.end(req.ConversationID, turn)

	start := time.Now()
	logger := e.opts.Logger.With(
		"conversation_id", req.ConversationID,
		"provider", adapter.Name(),
		"model", req.Model)

	ctx, span := e.tracer.Start(ctx, "engine.turn", trace.WithAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("llm.provider", adapter.Name()),
		attribute.String("llm.model", req.Model)))
	defer span.End()

	emit := func(ev *TurnEvent) { events <- ev }

	store := artifacts.NewStore(req.Artifacts)
	acc := newAccumulator(store, emit)
	transcript := append([]models.ChatMessage(nil), req.History...)
	counts := make(map[string]int)

	var usage models.Usage
	var terminalErr error
	state := StateInit
	rounds := 0

	e.metrics.TurnStarted(adapter.Name(), req.Model)

	for {
		state = StateStreaming
		rounds++

		sreq := &StreamRequest{
			Model:                 req.Model,
			System:                req.System,
			Messages:              transcript,
			Tools:                 e.registry.ForRound(counts),
			MaxTokens:             e.opts.MaxTokens,
			EnableReasoning:       req.EnableReasoning,
			ReasoningBudgetTokens: req.ReasoningBudgetTokens,
		}

		pending, sig, err := e.streamRound(ctx, adapter, sreq, acc, &usage, emit)
		if err != nil {
			terminalErr = err
			break
		}

		if len(pending) == 0 {
			state = StateDone
			break
		}

		state = StateToolPending
		if rounds >= e.opts.MaxRounds {
			// The model is still asking for tools at the ceiling. Refuse
			// the calls, tell it in-band, and end the turn normally.
			logger.Info("round ceiling reached", "rounds", rounds, "refused_calls", len(pending))
			for _, tc := range pending {
				tc.Settle(&models.ToolExecutionResult{Content: DepthLimitNotice, IsError: true})
				emit(&TurnEvent{Kind: EventToolUpdate, ToolCall: tc})
			}
			acc.AddNotice(DepthLimitNotice)
			state = StateDone
			break
		}

		state = StateExecuting
		for _, tc := range pending {
			counts[tc.BareName]++
		}
		env := &tools.Env{
			ConversationID: req.ConversationID,
			Artifacts:      store,
			Precomputed:    req.Precomputed,
			Status: func(s string) {
				emit(&TurnEvent{Kind: EventStatus, Status: s})
			},
		}

		toolStart := time.Now()
		if len(pending) == 1 {
			e.executor.Execute(ctx, pending[0], env)
		} else {
			// The batch joins fully before the next round; partial results
			// never reach the model.
			e.executor.ExecuteAll(ctx, pending, env)
		}
		for _, tc := range pending {
			if sig != "" && tc.Result != nil {
				tc.Result.ReplaySignature = sig
			}
			emit(&TurnEvent{Kind: EventToolUpdate, ToolCall: tc})
			e.metrics.ToolSettled(tc.BareName, string(tc.Status), time.Since(toolStart).Seconds())
		}

		transcript = append(transcript, roundRecord(acc.EndRound()))
	}

	final := StateDone
	switch {
	case terminalErr == nil:
	case errors.Is(terminalErr, context.Canceled),
		errors.Is(terminalErr, context.DeadlineExceeded),
		errors.Is(terminalErr, ErrSuperseded):
		final = StateAborted
	default:
		final = StateError
	}

	acc.Finish()
	if final == StateError {
		turnErr := &TurnError{State: state, Round: rounds, Cause: terminalErr}
		span.RecordError(turnErr)
		logger.Error("turn failed", "state", state, "round", rounds, "error", terminalErr)
		acc.AddNotice(fmt.Sprintf("%s The response could not be completed: %v", errorMarker, terminalErr))
		emit(&TurnEvent{Kind: EventError, Err: turnErr})
	}

	msg := acc.Message()
	arts := store.Snapshot()

	// Commits run even when the turn context is gone; cancellation loses
	// nothing that already streamed.
	commitCtx := context.WithoutCancel(ctx)
	if e.opts.Committer != nil {
		if err := e.opts.Committer.PersistConversation(commitCtx, req.ConversationID, msg); err != nil {
			logger.Error("persist conversation failed", "error", err)
		}
		if err := e.opts.Committer.PersistArtifacts(commitCtx, req.ConversationID, arts); err != nil {
			logger.Error("persist artifacts failed", "error", err)
		}
	}

	e.metrics.TurnEnded(string(final), rounds, time.Since(start).Seconds())
	e.metrics.Tokens(usage.InputTokens, usage.OutputTokens)
	logger.Info("turn ended", "state", final, "rounds", rounds, "duration", time.Since(start))

	emit(&TurnEvent{Kind: EventEnd, Result: &TurnResult{
		State:     final,
		Message:   msg,
		Artifacts: arts,
		Usage:     usage,
		Rounds:    rounds,
	}})
}

// streamRound consumes one provider round into the accumulator and returns
// the pending tool calls, if the round ended in any.
func (e *Engine) streamRound(ctx context.Context, adapter ProviderAdapter, sreq *StreamRequest, acc *accumulator, usage *models.Usage, emit func(*TurnEvent)) ([]*models.ToolCall, string, error) {
	chunks, err := adapter.Stream(ctx, sreq)
	if err != nil {
		return nil, "", err
	}

	var pending []*models.ToolCall
	var sig string

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return nil, "", chunk.Err

		case chunk.ContentDelta != "":
			acc.AddContent(chunk.ContentDelta)

		case chunk.ReasoningDelta != "":
			acc.AddReasoning(chunk.ReasoningDelta)

		case chunk.ToolCall != nil:
			pending = append(pending[:0], chunk.ToolCall)
			sig = chunk.ReplaySignature
			acc.AddToolCall(chunk.ToolCall)
			emit(&TurnEvent{Kind: EventToolCall, ToolCall: chunk.ToolCall})

		case len(chunk.ToolCalls) > 0:
			pending = chunk.ToolCalls
			sig = chunk.ReplaySignature
			for _, tc := range chunk.ToolCalls {
				acc.AddToolCall(tc)
			}
			emit(&TurnEvent{Kind: EventToolCallBatch, ToolCalls: chunk.ToolCalls})

		case chunk.Usage != nil:
			usage.Add(*chunk.Usage)
			emit(&TurnEvent{Kind: EventUsage, Usage: chunk.Usage})
		}
	}

	if ctx.Err() != nil {
		return nil, "", context.Cause(ctx)
	}
	return pending, sig, nil
}

// roundRecord freezes one round's blocks into the transcript message whose
// replay carries the round's text, tool calls, and results to the vendor.
func roundRecord(blocks []models.ContentBlock) models.ChatMessage {
	var text string
	for _, b := range blocks {
		if b.Kind == models.BlockText {
			if text != "" {
				text += "\n\n"
			}
			text += b.Text
		}
	}
	return models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   text,
		Blocks:    append([]models.ContentBlock(nil), blocks...),
		CreatedAt: time.Now(),
	}
}

func lastUserIndex(history []models.ChatMessage) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}
