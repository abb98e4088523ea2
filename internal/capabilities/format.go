package capabilities

import (
	"fmt"
	"strings"
)

// FormatSearchResults renders hits as the numbered, model-ready block the
// search tools return. One entry per result, nothing else.
func FormatSearchResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

// FormatDriveResults renders drive hits in the same numbered shape.
func FormatDriveResults(query string, docs []DriveDoc) string {
	if len(docs) == 0 {
		return fmt.Sprintf("No documents found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Drive documents matching %q:\n", query)
	for i, d := range docs {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, d.Title, d.URL)
		if d.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", d.Snippet)
		}
	}
	return b.String()
}

// FormatMemoryHits renders prior-conversation hits.
func FormatMemoryHits(query string, hits []MemoryHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No past conversations matched %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Past conversations matching %q:\n", query)
	for i, h := range hits {
		fmt.Fprintf(&b, "\n%d. %s (conversation %s)\n   %s\n", i+1, h.Title, h.ConversationID, h.Snippet)
	}
	return b.String()
}
