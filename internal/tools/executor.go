package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quillchat/quill/internal/artifacts"
	"github.com/quillchat/quill/internal/backoff"
	"github.com/quillchat/quill/internal/capabilities"
	"github.com/quillchat/quill/pkg/models"
)

// ExecutorConfig configures concurrency, retries, and timeouts.
type ExecutorConfig struct {
	// MaxConcurrency limits parallel executions across the process.
	// Default: 5.
	MaxConcurrency int

	// SearchAttempts is the total attempt budget for search-class tools.
	// Default: 3.
	SearchAttempts int

	// SearchBackoff paces retries between search attempts.
	SearchBackoff backoff.Policy

	// Timeout bounds a single search-class attempt. Default: 30s.
	Timeout time.Duration

	// ExternalTimeout is the absolute bound on an external tool call.
	// External calls get exactly one attempt. Default: 60s.
	ExternalTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:  5,
		SearchAttempts:  3,
		SearchBackoff:   backoff.SearchPolicy(),
		Timeout:         30 * time.Second,
		ExternalTimeout: 60 * time.Second,
	}
}

// Env is the turn-scoped context a tool call executes in.
type Env struct {
	// ConversationID is excluded from memory search and addresses document
	// search.
	ConversationID string

	// Artifacts is the turn's artifact working set.
	Artifacts *artifacts.Store

	// Status receives short human-readable progress strings. An empty
	// string clears the line once the call settles. May be nil.
	Status func(string)

	// Precomputed maps web search queries to results resolved before the
	// turn started; matching queries skip the backend entirely.
	Precomputed map[string][]capabilities.SearchResult
}

func (env *Env) status(msg string) {
	if env != nil && env.Status != nil {
		env.Status(msg)
	}
}

// Executor settles tool calls against their backends. Failures of any kind
// become error results handed back to the model; the executor itself never
// fails the turn.
type Executor struct {
	registry *Registry
	caps     capabilities.Set
	cfg      ExecutorConfig
	logger   *slog.Logger

	sem chan struct{}

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewExecutor builds an executor. A nil logger falls back to slog.Default().
func NewExecutor(registry *Registry, caps capabilities.Set, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.SearchAttempts <= 0 {
		cfg.SearchAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 60 * time.Second
	}
	if cfg.SearchBackoff == (backoff.Policy{}) {
		cfg.SearchBackoff = backoff.SearchPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		caps:     caps,
		cfg:      cfg,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// ExecuteAll settles a batch of calls concurrently and returns only after
// every one of them has settled.
func (e *Executor) ExecuteAll(ctx context.Context, calls []*models.ToolCall, env *Env) {
	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(tc *models.ToolCall) {
			defer wg.Done()
			e.Execute(ctx, tc, env)
		}(call)
	}
	wg.Wait()
}

// Execute settles one call in place. On return the call is terminal and the
// status line is cleared.
func (e *Executor) Execute(ctx context.Context, call *models.ToolCall, env *Env) {
	start := time.Now()
	call.Status = models.ToolCallRunning
	call.StartedAt = start
	defer env.status("")

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		call.Settle(errorResult(fmt.Sprintf("Tool execution cancelled: %v", ctx.Err())))
		return
	}

	decl, ok := e.registry.Get(call.Name)
	if !ok {
		call.Settle(errorResult(fmt.Sprintf("Unknown tool: %s", call.Name)))
		return
	}

	if err := e.validateInput(decl, call.Input); err != nil {
		call.Settle(errorResult(fmt.Sprintf("Invalid parameters for %s: %v", call.Name, err)))
		return
	}

	res := e.dispatch(ctx, decl, call, env)
	call.Settle(res)

	e.logger.Debug("tool call settled",
		"tool", call.Name,
		"status", call.Status,
		"duration", time.Since(start))
}

// dispatch runs the call under its class's retry and timeout regime. A
// recovered panic settles the call as an error result.
func (e *Executor) dispatch(ctx context.Context, decl *Declaration, call *models.ToolCall, env *Env) (res *models.ToolExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool call panicked",
				"tool", call.Name,
				"panic", r,
				"stack", string(debug.Stack()))
			res = errorResult(fmt.Sprintf("Tool %s failed unexpectedly.", call.Name))
		}
	}()

	switch decl.Class {
	case ClassArtifact:
		return e.runArtifact(decl, call, env)
	case ClassSearch:
		return e.runSearch(ctx, decl, call, env)
	case ClassExternal:
		return e.runExternal(ctx, decl, call, env)
	default:
		return errorResult(fmt.Sprintf("Tool %s has no execution class.", call.Name))
	}
}

func (e *Executor) runArtifact(decl *Declaration, call *models.ToolCall, env *Env) *models.ToolExecutionResult {
	if env == nil || env.Artifacts == nil {
		return errorResult("Artifacts are not available in this context.")
	}
	var (
		res *models.ToolExecutionResult
		err error
	)
	switch decl.Identity.Name {
	case "create_artifact":
		env.status("Creating artifact")
		res, err = executeCreateArtifact(env.Artifacts, call.Input)
	case "update_artifact":
		env.status("Updating artifact")
		res, err = executeUpdateArtifact(env.Artifacts, call.Input)
	case "read_artifact":
		res, err = executeReadArtifact(env.Artifacts, call.Input)
	default:
		err = fmt.Errorf("unhandled artifact tool %s", decl.Identity.Name)
	}
	if err != nil {
		return errorResult(fmt.Sprintf("Artifact operation failed: %v", err))
	}
	return res
}

// runSearch runs one search-class call with retry on transient backend
// failures. Client errors from the backend abort the retry loop; they will
// not get better on a second try.
func (e *Executor) runSearch(ctx context.Context, decl *Declaration, call *models.ToolCall, env *Env) *models.ToolExecutionResult {
	res, err := backoff.Retry(ctx, e.cfg.SearchBackoff, e.cfg.SearchAttempts,
		func(attempt int) (*models.ToolExecutionResult, error) {
			if attempt > 1 {
				env.status(fmt.Sprintf("Retrying %s (attempt %d)", decl.Identity.Name, attempt))
			}
			attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()

			out, err := e.searchOnce(attemptCtx, decl, call, env)
			if err != nil {
				if capabilities.ClientError(err) {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return out, nil
		})
	if err != nil {
		e.logger.Warn("search tool failed", "tool", call.Name, "error", err)
		return errorResult(fmt.Sprintf("%s failed: %v", decl.Identity.Name, err))
	}
	return res
}

func (e *Executor) searchOnce(ctx context.Context, decl *Declaration, call *models.ToolCall, env *Env) (*models.ToolExecutionResult, error) {
	switch decl.Identity.Name {
	case "web_search":
		var p WebSearchParams
		if err := json.Unmarshal(call.Input, &p); err != nil {
			return nil, backoff.Permanent(err)
		}
		env.status(fmt.Sprintf("Searching the web for %q", p.Query))
		if env != nil {
			if results, ok := env.Precomputed[p.Query]; ok {
				return &models.ToolExecutionResult{Content: capabilities.FormatSearchResults(p.Query, results)}, nil
			}
		}
		if e.caps.Search == nil {
			return nil, backoff.Permanent(fmt.Errorf("web search is not configured"))
		}
		results, err := e.caps.Search.Search(ctx, p.Query, p.ResultCount)
		if err != nil {
			return nil, err
		}
		return &models.ToolExecutionResult{Content: capabilities.FormatSearchResults(p.Query, results)}, nil

	case "drive_search":
		var p DriveSearchParams
		if err := json.Unmarshal(call.Input, &p); err != nil {
			return nil, backoff.Permanent(err)
		}
		env.status(fmt.Sprintf("Searching your drive for %q", p.Query))
		if e.caps.Drive == nil {
			return nil, backoff.Permanent(fmt.Errorf("drive search is not configured"))
		}
		docs, err := e.caps.Drive.SearchDrive(ctx, p.Query, p.ResultCount)
		if err != nil {
			return nil, err
		}
		return &models.ToolExecutionResult{Content: capabilities.FormatDriveResults(p.Query, docs)}, nil

	case "memory_search":
		var p MemorySearchParams
		if err := json.Unmarshal(call.Input, &p); err != nil {
			return nil, backoff.Permanent(err)
		}
		env.status("Searching past conversations")
		if e.caps.Memory == nil {
			return nil, backoff.Permanent(fmt.Errorf("memory search is not configured"))
		}
		var exclude string
		if env != nil {
			exclude = env.ConversationID
		}
		hits, err := e.caps.Memory.SearchMemory(ctx, p.Query, exclude)
		if err != nil {
			return nil, err
		}
		return &models.ToolExecutionResult{Content: capabilities.FormatMemoryHits(p.Query, hits)}, nil

	case "document_search":
		var p DocumentSearchParams
		if err := json.Unmarshal(call.Input, &p); err != nil {
			return nil, backoff.Permanent(err)
		}
		env.status("Searching attached documents")
		if e.caps.Documents == nil {
			return nil, backoff.Permanent(fmt.Errorf("document search is not configured"))
		}
		var conversationID string
		if env != nil {
			conversationID = env.ConversationID
		}
		results, err := e.caps.Documents.SearchDocuments(ctx, conversationID, p.Query)
		if err != nil {
			return nil, err
		}
		return &models.ToolExecutionResult{Content: capabilities.FormatSearchResults(p.Query, results)}, nil

	default:
		return nil, backoff.Permanent(fmt.Errorf("unhandled search tool %s", decl.Identity.Name))
	}
}

// runExternal forwards one call to its server with an absolute timeout and
// no retry; external tools may have side effects, so replaying them is the
// server's decision, not ours.
func (e *Executor) runExternal(ctx context.Context, decl *Declaration, call *models.ToolCall, env *Env) *models.ToolExecutionResult {
	if e.caps.External == nil {
		return errorResult("External tools are not configured.")
	}
	env.status(fmt.Sprintf("Running %s", decl.Identity.Name))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ExternalTimeout)
	defer cancel()

	content, isErr, err := e.caps.External.CallExternal(callCtx,
		string(decl.Identity.Source), decl.Identity.ServerID, decl.Identity.Name, call.Input)
	if err != nil {
		e.logger.Warn("external tool failed", "tool", call.Name, "error", err)
		return errorResult(fmt.Sprintf("%s failed: %v", decl.Identity.Name, err))
	}
	return &models.ToolExecutionResult{Content: content, IsError: isErr}
}

// validateInput checks the call input against the declaration's schema.
// Compiled schemas are cached per provider-visible name.
func (e *Executor) validateInput(decl *Declaration, input json.RawMessage) error {
	sch, err := e.compiledSchema(decl)
	if err != nil {
		// A malformed declaration schema must not block the tool.
		e.logger.Warn("tool schema does not compile", "tool", decl.Prefixed(), "error", err)
		return nil
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	return sch.Validate(v)
}

func (e *Executor) compiledSchema(decl *Declaration) (*jsonschema.Schema, error) {
	name := decl.Prefixed()
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()
	if sch, ok := e.schemas[name]; ok {
		return sch, nil
	}
	sch, err := jsonschema.CompileString(name+".json", string(decl.Schema))
	if err != nil {
		return nil, err
	}
	e.schemas[name] = sch
	return sch, nil
}

func errorResult(msg string) *models.ToolExecutionResult {
	return &models.ToolExecutionResult{Content: msg, IsError: true}
}
