package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillchat/quill/internal/artifacts"
	"github.com/quillchat/quill/internal/extractor"
	"github.com/quillchat/quill/pkg/models"
)

// accumulator turns the flat delta stream into the ordered block list of
// the assistant message under construction.
//
// Invariants it maintains:
//   - blocks appear in strict arrival order and are never reordered;
//   - at most one span (text or reasoning) is open at a time, so reasoning
//     and text never interleave within a block;
//   - raw content deltas pass through the artifact extractor, and only the
//     surviving display text lands in text blocks.
type accumulator struct {
	store *artifacts.Store
	emit  func(*TurnEvent)

	ext    extractor.State
	blocks []models.ContentBlock

	openKind models.BlockKind
	open     strings.Builder

	// roundStart marks where the current round's blocks begin, so the turn
	// loop can snapshot one round into a transcript record.
	roundStart int
}

func newAccumulator(store *artifacts.Store, emit func(*TurnEvent)) *accumulator {
	if emit == nil {
		emit = func(*TurnEvent) {}
	}
	return &accumulator{store: store, emit: emit}
}

// AddContent feeds one raw content delta through the extractor and into the
// open text span.
func (a *accumulator) AddContent(delta string) {
	res := a.ext.Consume(delta)
	if res.DisplayText != "" {
		a.openSpan(models.BlockText)
		a.open.WriteString(res.DisplayText)
		a.emit(&TurnEvent{Kind: EventContentDelta, Delta: res.DisplayText})
	}
	if res.Artifact != nil {
		a.completeArtifact(res.Artifact)
	}
}

// AddReasoning appends one reasoning delta, closing any open text span
// first.
func (a *accumulator) AddReasoning(delta string) {
	if delta == "" {
		return
	}
	a.openSpan(models.BlockReasoning)
	a.open.WriteString(delta)
	a.emit(&TurnEvent{Kind: EventReasoningDelta, Delta: delta})
}

// AddToolCall records one pending call as a block at the current position.
// Announcement events are the turn loop's job; single and batch announce
// differently.
func (a *accumulator) AddToolCall(tc *models.ToolCall) {
	a.closeSpan()
	a.blocks = append(a.blocks, models.ContentBlock{Kind: models.BlockToolCall, ToolCall: tc})
}

// AddNotice appends a synthetic text block, bypassing the extractor.
func (a *accumulator) AddNotice(text string) {
	a.closeSpan()
	a.blocks = append(a.blocks, models.ContentBlock{Kind: models.BlockText, Text: text})
	a.emit(&TurnEvent{Kind: EventContentDelta, Delta: text})
}

// Finish flushes the extractor and closes the open span. Call once, when
// the turn ends for any reason.
func (a *accumulator) Finish() {
	res := a.ext.Flush()
	if res.DisplayText != "" {
		a.openSpan(models.BlockText)
		a.open.WriteString(res.DisplayText)
		a.emit(&TurnEvent{Kind: EventContentDelta, Delta: res.DisplayText})
	}
	if res.Artifact != nil {
		a.completeArtifact(res.Artifact)
	}
	a.closeSpan()
}

// EndRound closes the open span and returns the blocks accumulated since
// the previous round boundary.
func (a *accumulator) EndRound() []models.ContentBlock {
	a.closeSpan()
	round := a.blocks[a.roundStart:]
	a.roundStart = len(a.blocks)
	return round
}

// Message assembles the assistant message from all accumulated blocks.
func (a *accumulator) Message() models.ChatMessage {
	var texts []string
	for _, b := range a.blocks {
		if b.Kind == models.BlockText && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   strings.Join(texts, "\n\n"),
		Blocks:    append([]models.ContentBlock(nil), a.blocks...),
		CreatedAt: time.Now(),
	}
}

// openSpan ensures a span of the given kind is open, closing a span of the
// other kind first. Text and reasoning are mutually exclusive.
func (a *accumulator) openSpan(kind models.BlockKind) {
	if a.openKind == kind {
		return
	}
	a.closeSpan()
	a.openKind = kind
}

func (a *accumulator) closeSpan() {
	if a.openKind == "" {
		return
	}
	if a.open.Len() > 0 {
		a.blocks = append(a.blocks, models.ContentBlock{Kind: a.openKind, Text: a.open.String()})
	}
	a.openKind = ""
	a.open.Reset()
}

func (a *accumulator) completeArtifact(parsed *models.Artifact) {
	a.closeSpan()
	if parsed.Title == "" {
		parsed.Title = "Untitled"
	}
	stored, err := a.store.Create(parsed)
	if err != nil {
		// Malformed inline artifacts degrade to visible text rather than
		// vanishing.
		a.blocks = append(a.blocks, models.ContentBlock{Kind: models.BlockText, Text: parsed.Content})
		a.emit(&TurnEvent{Kind: EventContentDelta, Delta: parsed.Content})
		return
	}
	a.blocks = append(a.blocks, models.ContentBlock{Kind: models.BlockArtifact, ArtifactID: stored.ID})
	a.emit(&TurnEvent{Kind: EventArtifact, Artifact: stored})
}
