// Package oracle talks to the external text-classification service used by
// batch auto-categorization. The oracle is consumed as an opaque
// prompt-in/text-out call; everything wire-level beyond the prompt and the
// bracket-delimited extraction lives behind the Classifier interface.
package oracle

import (
	"context"
	"fmt"
	"strings"
)

// Classifier is a stateless request/response text service.
type Classifier interface {
	// Send submits one prompt and returns the raw text reply.
	Send(ctx context.Context, prompt string) (string, error)
	// Close releases client resources.
	Close() error
}

// Suggestion is one item/category pair returned by the oracle.
type Suggestion struct {
	Item     string `json:"item"`
	Category string `json:"category"`
}

// BuildPrompt renders the single batch prompt for the given item names.
// Callers pass names already deduplicated and sorted so the prompt is
// deterministic for a given registry state.
func BuildPrompt(names []string) string {
	var b strings.Builder
	b.WriteString("You are a grocery and retail spending assistant. ")
	b.WriteString("Assign a short spending category to every item below.\n\n")
	b.WriteString("Items:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\nAnswer with a JSON array of objects of the form ")
	b.WriteString(`{"item": "<item name exactly as given>", "category": "<category>"}`)
	b.WriteString(" covering every item, and nothing else. No prose, no markdown.")
	return b.String()
}
