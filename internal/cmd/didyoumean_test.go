package cmd

import "testing"

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"call", "call", 0},
		{"cal", "call", 1},
		{"clal", "call", 2},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []string{"call", "batch", "endpoints", "ls", "session", "mock", "validate", "version"}
	tests := []struct {
		input string
		want  string
	}{
		{"cal", "call"},
		{"CALL", "call"},
		{"bacth", "batch"},
		{"sesion", "session"},
		{"endpoint", "endpoints"},
		{"xyzzyplugh", ""},
	}
	for _, tt := range tests {
		if got := suggestCommand(tt.input, commands); got != tt.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	names := []string{"--output", "-o", "--query", "-q", "--dry-run", "--endpoints", "-e"}
	tests := []struct {
		input string
		want  string
	}{
		{"--ouput", "--output"},
		{"--dryrun", "--dry-run"},
		{"--qurey", "--query"},
		{"--", ""},
		{"--completely-unrelated", ""},
	}
	for _, tt := range tests {
		if got := suggestFlag(tt.input, names); got != tt.want {
			t.Errorf("suggestFlag(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
