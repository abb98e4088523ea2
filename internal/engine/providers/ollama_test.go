package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quillchat/quill/internal/engine"
	"github.com/quillchat/quill/pkg/models"
)

func ollamaServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
	}))
}

func drain(t *testing.T, ch <-chan *engine.StreamChunk) []*engine.StreamChunk {
	t.Helper()
	var chunks []*engine.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestOllamaStreamText(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","content":"Hello"}}`,
		`{"message":{"role":"assistant","content":" there"}}`,
		`{"done":true,"prompt_eval_count":12,"eval_count":7}`,
	})
	defer srv.Close()

	a := NewOllamaAdapter(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	ch, err := a.Stream(context.Background(), &engine.StreamRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	chunks := drain(t, ch)
	var text strings.Builder
	var usage *models.Usage
	for _, c := range chunks {
		text.WriteString(c.ContentDelta)
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	if text.String() != "Hello there" {
		t.Fatalf("text = %q", text.String())
	}
	if usage == nil || usage.InputTokens != 12 || usage.OutputTokens != 7 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestOllamaStreamSingleToolCall(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"web_search","arguments":{"query":"tides"}}}]}}`,
		`{"done":true}`,
	})
	defer srv.Close()

	a := NewOllamaAdapter(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	ch, err := a.Stream(context.Background(), &engine.StreamRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "tides?"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var single *models.ToolCall
	for _, c := range drain(t, ch) {
		if c.ToolCall != nil {
			single = c.ToolCall
		}
		if len(c.ToolCalls) > 0 {
			t.Fatal("lone call emitted as batch")
		}
	}
	if single == nil || single.Name != "web_search" || single.BareName != "web_search" {
		t.Fatalf("call = %+v", single)
	}
	if single.ID == "" {
		t.Fatal("no synthetic id minted")
	}
	var args map[string]string
	if err := json.Unmarshal(single.Input, &args); err != nil || args["query"] != "tides" {
		t.Fatalf("input = %s", single.Input)
	}
}

func TestOllamaStreamBatchedToolCalls(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","tool_calls":[` +
			`{"id":"a","function":{"name":"web_search","arguments":{"query":"x"}}},` +
			`{"id":"b","function":{"name":"mcp__linear__search","arguments":{"query":"y"}}}]}}`,
		`{"done":true}`,
	})
	defer srv.Close()

	a := NewOllamaAdapter(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	ch, err := a.Stream(context.Background(), &engine.StreamRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var batch []*models.ToolCall
	for _, c := range drain(t, ch) {
		if c.ToolCall != nil {
			t.Fatal("batch emitted as lone calls")
		}
		if len(c.ToolCalls) > 0 {
			batch = c.ToolCalls
		}
	}
	if len(batch) != 2 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch[1].Name != "mcp__linear__search" || batch[1].BareName != "search" {
		t.Fatalf("prefixed call = %+v", batch[1])
	}
}

func TestOllamaStreamSkipsMalformedLines(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","content":"Hello "}}`,
		`{not json`,
		`{"message":{"role":"assistant","content":"world"}}`,
		`{"done":true}`,
	})
	defer srv.Close()

	a := NewOllamaAdapter(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	ch, err := a.Stream(context.Background(), &engine.StreamRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	for _, c := range drain(t, ch) {
		if c.Err != nil {
			t.Fatalf("unexpected error chunk: %v", c.Err)
		}
		text.WriteString(c.ContentDelta)
	}
	if text.String() != "Hello world" {
		t.Fatalf("text = %q", text.String())
	}
}

func TestOllamaStreamAllMalformedFails(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{not json`,
		`also not json`,
	})
	defer srv.Close()

	a := NewOllamaAdapter(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	ch, err := a.Stream(context.Background(), &engine.StreamRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	chunks := drain(t, ch)
	if len(chunks) == 0 || chunks[len(chunks)-1].Err == nil {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestOllamaStreamError(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","content":"part"}}`,
		`{"error":"model exploded"}`,
	})
	defer srv.Close()

	a := NewOllamaAdapter(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	ch, err := a.Stream(context.Background(), &engine.StreamRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	chunks := drain(t, ch)
	last := chunks[len(chunks)-1]
	if last.Err == nil || !strings.Contains(last.Err.Error(), "model exploded") {
		t.Fatalf("last chunk = %+v", last)
	}
}

func TestOllamaStatusErrorRejectsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewOllamaAdapter(OllamaConfig{BaseURL: srv.URL, DefaultModel: "missing"})
	_, err := a.Stream(context.Background(), &engine.StreamRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	ae, ok := AsAdapterError(err)
	if !ok || ae.Status != http.StatusNotFound || ae.Reason != ReasonModelMissing {
		t.Fatalf("err = %v", err)
	}
}

func TestOllamaConvertMessagesReplaysRound(t *testing.T) {
	a := NewOllamaAdapter(OllamaConfig{DefaultModel: "llama3"})

	call := &models.ToolCall{
		ID:       "c1",
		Name:     "web_search",
		BareName: "web_search",
		Input:    json.RawMessage(`{"query":"x"}`),
		Status:   models.ToolCallCompleted,
		Result:   &models.ToolExecutionResult{Content: "1. Hit"},
	}
	messages := []models.ChatMessage{
		{Role: models.RoleUser, Content: "question"},
		{
			Role:    models.RoleAssistant,
			Content: "checking",
			Blocks: []models.ContentBlock{
				{Kind: models.BlockText, Text: "checking"},
				{Kind: models.BlockToolCall, ToolCall: call},
			},
		},
	}

	out := a.convertMessages(messages, "be brief")
	if len(out) != 4 {
		t.Fatalf("messages = %+v", out)
	}
	if out[0].Role != "system" || out[1].Role != "user" {
		t.Fatalf("prefix roles = %s %s", out[0].Role, out[1].Role)
	}
	if out[2].Role != "assistant" || len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "web_search" {
		t.Fatalf("assistant = %+v", out[2])
	}
	if out[3].Role != "tool" || out[3].Content != "1. Hit" || out[3].ToolName != "web_search" {
		t.Fatalf("tool result = %+v", out[3])
	}
}
