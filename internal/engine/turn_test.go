package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quillchat/quill/internal/backoff"
	"github.com/quillchat/quill/internal/capabilities"
	"github.com/quillchat/quill/internal/tools"
	"github.com/quillchat/quill/pkg/models"
)

// scriptedAdapter replays one chunk script per round and records every
// request it receives.
type scriptedAdapter struct {
	mu       sync.Mutex
	rounds   [][]*StreamChunk
	requests []*StreamRequest
	calls    atomic.Int32
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Stream(ctx context.Context, req *StreamRequest) (<-chan *StreamChunk, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	n := int(a.calls.Add(1)) - 1
	var script []*StreamChunk
	if n < len(a.rounds) {
		script = a.rounds[n]
	}

	ch := make(chan *StreamChunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (a *scriptedAdapter) request(t *testing.T, i int) *StreamRequest {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.requests) {
		t.Fatalf("only %d requests recorded", len(a.requests))
	}
	return a.requests[i]
}

type fixedResolver struct{ adapter ProviderAdapter }

func (r fixedResolver) Resolve(provider, model string) (ProviderAdapter, error) {
	return r.adapter, nil
}

type fakeCommitter struct {
	mu            sync.Mutex
	conversations int
	lastMessage   models.ChatMessage
	lastArtifacts []models.Artifact
}

func (c *fakeCommitter) PersistConversation(ctx context.Context, conversationID string, msg models.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations++
	c.lastMessage = msg
	return nil
}

func (c *fakeCommitter) PersistArtifacts(ctx context.Context, conversationID string, arts []models.Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastArtifacts = arts
	return nil
}

type countingSearcher struct{ calls atomic.Int32 }

func (s *countingSearcher) Search(ctx context.Context, query string, count int) ([]capabilities.SearchResult, error) {
	s.calls.Add(1)
	return []capabilities.SearchResult{{Title: "Hit", URL: "https://x", Snippet: "snippet"}}, nil
}

func newTestEngine(t *testing.T, adapter ProviderAdapter, committer Committer, opts Options) (*Engine, *countingSearcher) {
	t.Helper()
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		t.Fatal(err)
	}
	searcher := &countingSearcher{}
	cfg := tools.DefaultExecutorConfig()
	cfg.SearchBackoff = backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1}
	executor := tools.NewExecutor(registry, capabilities.Set{Search: searcher}, cfg, nil)
	opts.Committer = committer
	return New(fixedResolver{adapter}, registry, executor, opts), searcher
}

func userTurn(content string) []models.ChatMessage {
	return []models.ChatMessage{{ID: "u1", Role: models.RoleUser, Content: content, CreatedAt: time.Now()}}
}

func collect(t *testing.T, ch <-chan *TurnEvent) []*TurnEvent {
	t.Helper()
	var events []*TurnEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("event stream did not close")
		}
	}
}

func endResult(t *testing.T, events []*TurnEvent) *TurnResult {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Kind != EventEnd || last.Result == nil {
		t.Fatalf("last event = %+v, want end marker", last)
	}
	return last.Result
}

func toolCallChunk(id, query string) *StreamChunk {
	return &StreamChunk{ToolCall: &models.ToolCall{
		ID:       id,
		Name:     "web_search",
		BareName: "web_search",
		Input:    []byte(`{"query":"` + query + `"}`),
		Status:   models.ToolCallPending,
	}}
}

func TestRunPlainTextTurn(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{{
		{ContentDelta: "Hello, "},
		{ContentDelta: "world."},
		{Usage: &models.Usage{InputTokens: 10, OutputTokens: 5}},
	}}}
	committer := &fakeCommitter{}
	e, _ := newTestEngine(t, adapter, committer, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "scripted", Model: "m", History: userTurn("hi"),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := endResult(t, collect(t, events))

	if res.State != StateDone || res.Rounds != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Message.Content != "Hello, world." {
		t.Fatalf("content = %q", res.Message.Content)
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 5 {
		t.Fatalf("usage = %+v", res.Usage)
	}
	if committer.conversations != 1 {
		t.Fatalf("committed %d times", committer.conversations)
	}
}

func TestRunSingleToolCallRecursion(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{
		{{ContentDelta: "Let me check. "}, toolCallChunk("t1", "tides")},
		{{ContentDelta: "The tide is high."}},
	}}
	committer := &fakeCommitter{}
	e, searcher := newTestEngine(t, adapter, committer, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("tides?"),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := endResult(t, collect(t, events))

	if res.State != StateDone || res.Rounds != 2 {
		t.Fatalf("result state=%s rounds=%d", res.State, res.Rounds)
	}
	if searcher.calls.Load() != 1 {
		t.Fatalf("backend called %d times", searcher.calls.Load())
	}

	// The second request must replay the first round as an assistant record
	// carrying the settled call.
	second := adapter.request(t, 1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != models.RoleAssistant {
		t.Fatalf("last message role = %s", last.Role)
	}
	var replayed *models.ToolCall
	for _, b := range last.Blocks {
		if b.Kind == models.BlockToolCall {
			replayed = b.ToolCall
		}
	}
	if replayed == nil || replayed.Name != "web_search" || !replayed.Status.Terminal() {
		t.Fatalf("replayed call = %+v", replayed)
	}
	if replayed.Result == nil || replayed.Result.Content == "" {
		t.Fatalf("replayed result = %+v", replayed.Result)
	}
}

func TestRunBatchJoinsBeforeNextRound(t *testing.T) {
	batch := &StreamChunk{ToolCalls: []*models.ToolCall{
		{ID: "t1", Name: "web_search", BareName: "web_search", Input: []byte(`{"query":"a"}`), Status: models.ToolCallPending},
		{ID: "t2", Name: "web_search", BareName: "web_search", Input: []byte(`{"query":"b"}`), Status: models.ToolCallPending},
		{ID: "t3", Name: "web_search", BareName: "web_search", Input: []byte(`{"query":"c"}`), Status: models.ToolCallPending},
	}}
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{
		{batch},
		{{ContentDelta: "done"}},
	}}
	e, searcher := newTestEngine(t, adapter, &fakeCommitter{}, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("go"),
	})
	if err != nil {
		t.Fatal(err)
	}
	all := collect(t, events)
	res := endResult(t, all)

	if res.State != StateDone || res.Rounds != 2 {
		t.Fatalf("result = %+v", res)
	}
	if searcher.calls.Load() != 3 {
		t.Fatalf("backend called %d times", searcher.calls.Load())
	}

	// One batch announcement, and every call settled before round two.
	var batchEvents int
	for _, ev := range all {
		if ev.Kind == EventToolCallBatch {
			batchEvents++
			if len(ev.ToolCalls) != 3 {
				t.Fatalf("batch size = %d", len(ev.ToolCalls))
			}
		}
	}
	if batchEvents != 1 {
		t.Fatalf("batch announced %d times", batchEvents)
	}
	second := adapter.request(t, 1)
	last := second.Messages[len(second.Messages)-1]
	for _, b := range last.Blocks {
		if b.Kind == models.BlockToolCall && !b.ToolCall.Status.Terminal() {
			t.Fatalf("unsettled call replayed: %+v", b.ToolCall)
		}
	}
}

func TestRunDepthCeiling(t *testing.T) {
	// The model never stops asking for tools.
	var rounds [][]*StreamChunk
	for i := 0; i < 20; i++ {
		rounds = append(rounds, []*StreamChunk{toolCallChunk("t", "again")})
	}
	adapter := &scriptedAdapter{rounds: rounds}
	committer := &fakeCommitter{}
	e, _ := newTestEngine(t, adapter, committer, Options{MaxRounds: 3})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("loop"),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := endResult(t, collect(t, events))

	if res.State != StateDone {
		t.Fatalf("state = %s, want done", res.State)
	}
	if res.Rounds != 3 {
		t.Fatalf("rounds = %d", res.Rounds)
	}
	if got := adapter.calls.Load(); got != 3 {
		t.Fatalf("adapter called %d times", got)
	}
	if !strings.Contains(res.Message.Content, DepthLimitNotice) {
		t.Fatalf("content = %q", res.Message.Content)
	}
	// The refused calls are settled, not left dangling.
	for _, b := range res.Message.Blocks {
		if b.Kind == models.BlockToolCall && !b.ToolCall.Status.Terminal() {
			t.Fatalf("dangling call %+v", b.ToolCall)
		}
	}
}

func TestRunPerToolCeilingFiltersDeclarations(t *testing.T) {
	var rounds [][]*StreamChunk
	for i := 0; i < 4; i++ {
		rounds = append(rounds, []*StreamChunk{toolCallChunk("t", "q")})
	}
	rounds = append(rounds, []*StreamChunk{{ContentDelta: "done"}})
	adapter := &scriptedAdapter{rounds: rounds}
	e, _ := newTestEngine(t, adapter, &fakeCommitter{}, Options{MaxRounds: 10})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("q"),
	})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	offered := func(req *StreamRequest) bool {
		for _, d := range req.Tools {
			if d.Identity.Name == "web_search" {
				return true
			}
		}
		return false
	}
	if !offered(adapter.request(t, 0)) {
		t.Fatal("web_search missing from first round")
	}
	// After three executions the declaration is withheld.
	if offered(adapter.request(t, 3)) {
		t.Fatal("web_search still offered past its ceiling")
	}
}

func TestRunProviderErrorCommitsPartial(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{{
		{ContentDelta: "partial answer"},
		{Err: errors.New("stream hiccup")},
	}}}
	committer := &fakeCommitter{}
	e, _ := newTestEngine(t, adapter, committer, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("hi"),
	})
	if err != nil {
		t.Fatal(err)
	}
	all := collect(t, events)
	res := endResult(t, all)

	if res.State != StateError {
		t.Fatalf("state = %s", res.State)
	}
	if !strings.Contains(res.Message.Content, "partial answer") {
		t.Fatalf("partial content lost: %q", res.Message.Content)
	}
	if !strings.Contains(res.Message.Content, errorMarker) {
		t.Fatalf("no error marker: %q", res.Message.Content)
	}
	var sawError bool
	for _, ev := range all {
		if ev.Kind == EventError {
			sawError = true
			var te *TurnError
			if !errors.As(ev.Err, &te) {
				t.Fatalf("error event carries %T", ev.Err)
			}
		}
	}
	if !sawError {
		t.Fatal("no error event before end marker")
	}
	if committer.conversations != 1 {
		t.Fatalf("committed %d times", committer.conversations)
	}
}

func TestRunAbortCommitsPartial(t *testing.T) {
	started := make(chan struct{})
	adapter := &waitingAdapter{started: started}
	committer := &fakeCommitter{}
	e, _ := newTestEngine(t, adapter, committer, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("hi"),
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan []*TurnEvent, 1)
	go func() { done <- collect(t, events) }()

	<-started
	if !e.Abort("c1") {
		t.Fatal("no active turn to abort")
	}

	res := endResult(t, <-done)
	if res.State != StateAborted {
		t.Fatalf("state = %s", res.State)
	}
	if !strings.Contains(res.Message.Content, "partial") {
		t.Fatalf("partial content lost: %q", res.Message.Content)
	}
	if committer.conversations != 1 {
		t.Fatalf("committed %d times", committer.conversations)
	}
}

func TestRunSupersedesInFlightTurn(t *testing.T) {
	started := make(chan struct{})
	adapter := &waitingAdapter{started: started, thenText: "second answer"}
	e, _ := newTestEngine(t, adapter, &fakeCommitter{}, Options{})

	first, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("one"),
	})
	if err != nil {
		t.Fatal(err)
	}
	firstDone := make(chan []*TurnEvent, 1)
	go func() { firstDone <- collect(t, first) }()
	<-started

	second, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("two"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if res := endResult(t, <-firstDone); res.State != StateAborted {
		t.Fatalf("first turn state = %s, want aborted", res.State)
	}
	if res := endResult(t, collect(t, second)); res.State != StateDone || res.Message.Content != "second answer" {
		t.Fatalf("second turn = %+v", res)
	}

	// The superseded round's context carries the sentinel as its cause, so
	// adapters and tools can tell supersession from a plain abort.
	if cause := context.Cause(adapter.blocked()); !errors.Is(cause, ErrSuperseded) {
		t.Fatalf("cancellation cause = %v, want ErrSuperseded", cause)
	}
}

func TestAbortCauseIsPlainCancellation(t *testing.T) {
	started := make(chan struct{})
	adapter := &waitingAdapter{started: started}
	e, _ := newTestEngine(t, adapter, &fakeCommitter{}, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("hi"),
	})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan []*TurnEvent, 1)
	go func() { done <- collect(t, events) }()

	<-started
	e.Abort("c1")
	if res := endResult(t, <-done); res.State != StateAborted {
		t.Fatalf("state = %s", res.State)
	}
	if cause := context.Cause(adapter.blocked()); errors.Is(cause, ErrSuperseded) {
		t.Fatalf("abort cause = %v", cause)
	}
}

func TestRunReasoningBlocks(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{{
		{ReasoningDelta: "weighing options"},
		{ContentDelta: "The answer is 4."},
	}}}
	e, _ := newTestEngine(t, adapter, &fakeCommitter{}, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("2+2?"),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := endResult(t, collect(t, events))

	blocks := res.Message.Blocks
	if len(blocks) != 2 || blocks[0].Kind != models.BlockReasoning || blocks[1].Kind != models.BlockText {
		t.Fatalf("blocks = %+v", blocks)
	}
	if res.Message.Content != "The answer is 4." {
		t.Fatalf("content includes reasoning: %q", res.Message.Content)
	}
}

func TestRunExtractsArtifactsAndPersistsThem(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{{
		{ContentDelta: "Here you go: <artifact identifier=\"script\" "},
		{ContentDelta: "type=\"code\" title=\"Script\" language=\"python\">print(1)"},
		{ContentDelta: "</artifact> Enjoy."},
	}}}
	committer := &fakeCommitter{}
	e, _ := newTestEngine(t, adapter, committer, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("write a script"),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := endResult(t, collect(t, events))

	if len(res.Artifacts) != 1 || res.Artifacts[0].ID != "script" {
		t.Fatalf("artifacts = %+v", res.Artifacts)
	}
	if res.Artifacts[0].Content != "print(1)" {
		t.Fatalf("content = %q", res.Artifacts[0].Content)
	}
	if strings.Contains(res.Message.Content, "print(1)") {
		t.Fatalf("artifact leaked into chat text: %q", res.Message.Content)
	}
	if len(committer.lastArtifacts) != 1 {
		t.Fatalf("persisted artifacts = %+v", committer.lastArtifacts)
	}
}

func TestRegenerateDropsTrailingAssistant(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{{{ContentDelta: "take two"}}}}
	e, _ := newTestEngine(t, adapter, &fakeCommitter{}, Options{})

	history := []models.ChatMessage{
		{ID: "u1", Role: models.RoleUser, Content: "question"},
		{ID: "a1", Role: models.RoleAssistant, Content: "bad answer"},
	}
	events, err := e.Regenerate(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: history,
	})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	req := adapter.request(t, 0)
	if len(req.Messages) != 1 || req.Messages[0].ID != "u1" {
		t.Fatalf("messages = %+v", req.Messages)
	}
}

func TestEditAndRunRewritesHistory(t *testing.T) {
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{{{ContentDelta: "edited answer"}}}}
	e, _ := newTestEngine(t, adapter, &fakeCommitter{}, Options{})

	history := []models.ChatMessage{
		{ID: "u1", Role: models.RoleUser, Content: "original"},
		{ID: "a1", Role: models.RoleAssistant, Content: "answer"},
		{ID: "u2", Role: models.RoleUser, Content: "follow-up"},
	}
	events, err := e.EditAndRun(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: history,
	}, "u1", "rewritten")
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	req := adapter.request(t, 0)
	if len(req.Messages) != 1 || req.Messages[0].Content != "rewritten" {
		t.Fatalf("messages = %+v", req.Messages)
	}

	if _, err := e.EditAndRun(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: history,
	}, "a1", "x"); err == nil {
		t.Fatal("editing an assistant message must fail")
	}
}

func TestRunArtifactToolAcrossRounds(t *testing.T) {
	create := &StreamChunk{ToolCall: &models.ToolCall{
		ID: "t1", Name: "create_artifact", BareName: "create_artifact",
		Input:  []byte(`{"id":"notes","type":"document","title":"Notes","content":"v1"}`),
		Status: models.ToolCallPending,
	}}
	update := &StreamChunk{ToolCall: &models.ToolCall{
		ID: "t2", Name: "update_artifact", BareName: "update_artifact",
		Input:  []byte(`{"id":"notes","content":"v2"}`),
		Status: models.ToolCallPending,
	}}
	adapter := &scriptedAdapter{rounds: [][]*StreamChunk{
		{create},
		{update},
		{{ContentDelta: "Saved."}},
	}}
	e, _ := newTestEngine(t, adapter, &fakeCommitter{}, Options{})

	events, err := e.Run(context.Background(), TurnRequest{
		ConversationID: "c1", Provider: "p", Model: "m", History: userTurn("take notes"),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := endResult(t, collect(t, events))

	if res.State != StateDone || len(res.Artifacts) != 1 {
		t.Fatalf("result = %+v", res)
	}
	a := res.Artifacts[0]
	if a.Content != "v2" || len(a.Versions) != 1 || a.Versions[0].Content != "v1" {
		t.Fatalf("artifact = %+v", a)
	}
}

// waitingAdapter streams one delta, signals, then blocks until cancellation.
// Subsequent calls stream thenText and finish, for supersede tests.
type waitingAdapter struct {
	started  chan struct{}
	thenText string
	calls    atomic.Int32

	mu         sync.Mutex
	blockedCtx context.Context
}

func (a *waitingAdapter) Name() string { return "waiting" }

func (a *waitingAdapter) Stream(ctx context.Context, req *StreamRequest) (<-chan *StreamChunk, error) {
	ch := make(chan *StreamChunk, 2)
	if a.calls.Add(1) > 1 {
		go func() {
			defer close(ch)
			ch <- &StreamChunk{ContentDelta: a.thenText}
		}()
		return ch, nil
	}
	a.mu.Lock()
	a.blockedCtx = ctx
	a.mu.Unlock()
	go func() {
		defer close(ch)
		ch <- &StreamChunk{ContentDelta: "partial"}
		close(a.started)
		<-ctx.Done()
		ch <- &StreamChunk{Err: context.Cause(ctx)}
	}()
	return ch, nil
}

func (a *waitingAdapter) blocked() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blockedCtx
}
