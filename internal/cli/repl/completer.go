package repl

import (
	"sort"
	"strings"
)

// Completer resolves typed words against a fixed vocabulary.
type Completer struct {
	words []string
}

// NewCompleter creates a Completer over words.
func NewCompleter(words ...string) *Completer {
	w := append([]string(nil), words...)
	sort.Strings(w)
	return &Completer{words: w}
}

// Complete returns every word starting with prefix, sorted.
func (c *Completer) Complete(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var suggestions []string
	for _, w := range c.words {
		if strings.HasPrefix(w, prefix) {
			suggestions = append(suggestions, w)
		}
	}
	return suggestions
}

// Resolve returns the word identified by input: an exact match, or the
// only word input is a prefix of. Otherwise it returns the candidates.
func (c *Completer) Resolve(input string) (string, []string) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return "", nil
	}
	matches := c.Complete(input)
	for _, m := range matches {
		if m == input {
			return m, nil
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	return "", matches
}
