package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("item")
	if !strings.HasPrefix(id, "item_") {
		t.Errorf("expected item_ prefix, got %s", id)
	}
	if len(id) != len("item_")+32 {
		t.Errorf("unexpected id length: %s", id)
	}
	if NewID("item") == id {
		t.Error("expected distinct ids")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"  Spaced  Out  ", "spaced-out"},
		{"Already-slugged", "already-slugged"},
		{"Symbols!@# removed", "symbols-removed"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
