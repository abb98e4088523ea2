// Package extractor separates artifact documents from ordinary prose inside
// the raw assistant token stream.
//
// Artifacts arrive embedded in the text as
//
//	<artifact identifier="plot" type="code" title="Plot" language="python">
//	...content...
//	</artifact>
//
// and the delimiters, attributes, and content can split across arbitrarily
// many stream chunks. The parser is incremental: feed it chunks as they
// arrive and it returns the prose that is safe to display plus any artifact
// completed by that chunk. Display text, once returned, is never retracted,
// so the parser withholds any trailing bytes that could still turn out to be
// the start of a delimiter.
package extractor

import (
	"strings"
	"time"

	"github.com/quillchat/quill/pkg/models"
)

const (
	openPrefix = "<artifact"
	closeTag   = "</artifact>"
)

// State carries the parser across chunk boundaries. The zero value is ready
// to use. State is owned by a single turn and is not safe for concurrent use.
type State struct {
	// buf holds bytes that cannot be classified yet: a possible partial
	// opening tag while outside an artifact, or a possible partial closing
	// tag while inside one.
	buf string

	inArtifact bool
	attrs      map[string]string
	content    strings.Builder
}

// Result is the outcome of consuming one chunk.
type Result struct {
	// DisplayText is prose safe to show immediately.
	DisplayText string

	// Artifact is non-nil exactly once per artifact, on the chunk that
	// contained its closing delimiter.
	Artifact *models.Artifact
}

// Consume feeds one text chunk through the parser.
func (s *State) Consume(chunk string) Result {
	var display strings.Builder
	var completed *models.Artifact

	work := s.buf + chunk
	s.buf = ""

	for work != "" {
		if s.inArtifact {
			var done *models.Artifact
			work, done = s.consumeArtifact(work)
			if done != nil {
				completed = done
			}
			continue
		}

		i := strings.IndexByte(work, '<')
		if i < 0 {
			display.WriteString(work)
			work = ""
			break
		}

		display.WriteString(work[:i])
		work = work[i:]

		// work starts with '<'. Decide whether it opens an artifact tag.
		if len(work) < len(openPrefix) {
			if strings.HasPrefix(openPrefix, work) {
				s.buf = work
				work = ""
				break
			}
			// Cannot be a tag; release the '<' and rescan the rest.
			display.WriteByte('<')
			work = work[1:]
			continue
		}

		if !strings.HasPrefix(work, openPrefix) {
			display.WriteByte('<')
			work = work[1:]
			continue
		}

		// "<artifactx" is prose, not a tag.
		if len(work) > len(openPrefix) {
			next := work[len(openPrefix)]
			if next != ' ' && next != '\t' && next != '\n' && next != '>' {
				display.WriteByte('<')
				work = work[1:]
				continue
			}
		}

		end := strings.IndexByte(work, '>')
		if end < 0 {
			// Opening tag still streaming in.
			s.buf = work
			work = ""
			break
		}

		s.inArtifact = true
		s.attrs = parseAttrs(work[len(openPrefix):end])
		s.content.Reset()
		work = work[end+1:]
	}

	return Result{DisplayText: display.String(), Artifact: completed}
}

// consumeArtifact accumulates content until the closing tag, returning the
// unprocessed remainder and the completed artifact, if any.
func (s *State) consumeArtifact(work string) (string, *models.Artifact) {
	j := strings.Index(work, closeTag)
	if j >= 0 {
		s.content.WriteString(work[:j])
		artifact := s.materialize()
		s.inArtifact = false
		s.attrs = nil
		s.content.Reset()
		return work[j+len(closeTag):], artifact
	}

	// Hold back any suffix that could begin the closing tag.
	hold := len(work)
	if k := strings.LastIndexByte(work, '<'); k >= 0 && strings.HasPrefix(closeTag, work[k:]) {
		hold = k
	}
	s.content.WriteString(work[:hold])
	s.buf = work[hold:]
	return "", nil
}

// Flush drains the parser at end of stream. Ambiguous held-back prose is
// released as display text; an unterminated artifact is materialized with
// whatever content arrived, so cancellation never discards data.
func (s *State) Flush() Result {
	if s.inArtifact {
		s.content.WriteString(s.buf)
		s.buf = ""
		artifact := s.materialize()
		s.inArtifact = false
		s.attrs = nil
		s.content.Reset()
		return Result{Artifact: artifact}
	}
	display := s.buf
	s.buf = ""
	return Result{DisplayText: display}
}

func (s *State) materialize() *models.Artifact {
	now := time.Now()
	a := &models.Artifact{
		ID:    s.attrs["identifier"],
		Type:  models.ArtifactType(s.attrs["type"]),
		Title: s.attrs["title"],
		// Newlines hugging the delimiters belong to the markup, not the
		// content. Trimming here keeps the result independent of where
		// chunk boundaries fell.
		Content:   trimDelimiterNewlines(s.content.String()),
		Language:  s.attrs["language"],
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !models.ValidArtifactType(a.Type) {
		if a.Language != "" {
			a.Type = models.ArtifactCode
		} else {
			a.Type = models.ArtifactDocument
		}
	}
	return a
}

func trimDelimiterNewlines(content string) string {
	content = strings.TrimPrefix(content, "\n")
	return strings.TrimSuffix(content, "\n")
}

// parseAttrs extracts key="value" pairs from the opening tag body. Malformed
// pairs are skipped rather than failing the artifact.
func parseAttrs(raw string) map[string]string {
	attrs := make(map[string]string)
	for raw != "" {
		raw = strings.TrimLeft(raw, " \t\n")
		eq := strings.IndexByte(raw, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(raw[:eq])
		rest := raw[eq+1:]
		if len(rest) < 2 || rest[0] != '"' {
			break
		}
		endQuote := strings.IndexByte(rest[1:], '"')
		if endQuote < 0 {
			break
		}
		if key != "" {
			attrs[key] = rest[1 : 1+endQuote]
		}
		raw = rest[endQuote+2:]
	}
	return attrs
}
