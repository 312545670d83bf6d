package oracle

import (
	"errors"
	"strings"
	"testing"

	"scontrino/internal/core"
)

func TestExtractArrayPlain(t *testing.T) {
	got, err := ExtractArray(`[{"item":"Milk","category":"Dairy"},{"item":"Bread","category":"Bakery"}]`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 2 || got[0].Item != "Milk" || got[0].Category != "Dairy" {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}

func TestExtractArrayProseWrapped(t *testing.T) {
	reply := "Sure! Here are the categories you asked for:\n\n" +
		"```json\n[{\"item\": \"Milk\", \"category\": \"Dairy\"}]\n```\n\nLet me know if you need more."
	got, err := ExtractArray(reply)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 || got[0].Category != "Dairy" {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}

func TestExtractArrayCaseInsensitiveKeys(t *testing.T) {
	got, err := ExtractArray(`[{"Item":"Milk","CATEGORY":"Dairy"}]`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 || got[0].Item != "Milk" || got[0].Category != "Dairy" {
		t.Fatalf("key matching must be case-insensitive: %+v", got)
	}
}

func TestExtractArraySkipsBlankPairs(t *testing.T) {
	got, err := ExtractArray(`[{"item":"","category":"Dairy"},{"item":"Milk","category":" Dairy "}]`)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 || got[0].Category != "Dairy" {
		t.Fatalf("blank pairs must be dropped and fields trimmed: %+v", got)
	}
}

func TestExtractArrayBadReplies(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no array", "I could not categorize anything, sorry."},
		{"unterminated", "here you go: [{\"item\":\"Milk\""},
		{"bracket order", "] nothing useful ["},
		{"not an array of objects", `[1, 2, 3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExtractArray(tc.text)
			if !errors.Is(err, core.ErrBadOracleReply) {
				t.Fatalf("expected ErrBadOracleReply, got %v", err)
			}
			// The raw text travels with the error for diagnostics.
			if !strings.Contains(err.Error(), tc.text[:5]) {
				t.Fatalf("error should carry the raw text: %v", err)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt([]string{"Bread", "Milk"})
	for _, want := range []string{"- Bread", "- Milk", "JSON array", `"item"`, `"category"`} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	// Same names, same prompt.
	if prompt != BuildPrompt([]string{"Bread", "Milk"}) {
		t.Fatal("prompt must be deterministic")
	}
}
