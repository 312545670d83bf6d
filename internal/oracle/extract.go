package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"scontrino/internal/core"
)

// ExtractArray pulls the JSON array out of a possibly prose-wrapped oracle
// reply. The oracle may prepend or append text (or markdown fences), so the
// array is located by the first '[' and the last ']'. Failure to locate or
// decode the array is ErrBadOracleReply with the raw text attached for
// diagnostics; nothing is ever guessed past a parse failure.
func ExtractArray(text string) ([]Suggestion, error) {
	start := strings.Index(text, "[")
	if start == -1 {
		return nil, fmt.Errorf("%w: no JSON array found in %q", core.ErrBadOracleReply, text)
	}
	end := strings.LastIndex(text, "]")
	if end == -1 || end < start {
		return nil, fmt.Errorf("%w: unterminated JSON array in %q", core.ErrBadOracleReply, text)
	}

	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(text[start:end+1]), &suggestions); err != nil {
		return nil, fmt.Errorf("%w: decode array from %q: %v", core.ErrBadOracleReply, text, err)
	}

	out := suggestions[:0]
	for _, s := range suggestions {
		s.Item = strings.TrimSpace(s.Item)
		s.Category = strings.TrimSpace(s.Category)
		if s.Item == "" || s.Category == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
