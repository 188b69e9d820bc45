package repl

import (
	"reflect"
	"testing"
)

func TestCompleter_Complete(t *testing.T) {
	c := NewCompleter("withdraw", "deposit", "emergency", "exit", "view")

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{"single match", "w", []string{"withdraw"}},
		{"shared prefix", "e", []string{"emergency", "exit"}},
		{"case insensitive", "DEP", []string{"deposit"}},
		{"empty prefix", "", []string{"deposit", "emergency", "exit", "view", "withdraw"}},
		{"no match", "zzz", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Complete(tt.prefix)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Complete(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestCompleter_Resolve(t *testing.T) {
	c := NewCompleter("exit", "emergency", "view", "v")

	tests := []struct {
		input      string
		want       string
		candidates []string
	}{
		{"exit", "exit", nil},
		{"  Ex ", "exit", nil},
		{"em", "emergency", nil},
		{"e", "", []string{"emergency", "exit"}},
		{"v", "v", nil},
		{"vi", "view", nil},
		{"", "", nil},
		{"nope", "", nil},
	}

	for _, tt := range tests {
		got, candidates := c.Resolve(tt.input)
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.want)
		}
		if !reflect.DeepEqual(candidates, tt.candidates) {
			t.Errorf("Resolve(%q) candidates = %v, want %v", tt.input, candidates, tt.candidates)
		}
	}
}
