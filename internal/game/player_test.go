package game

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain", "Alice", "Alice"},
		{"Trimmed", "  Bob  ", "Bob"},
		{"Clamped", "aaaaaaaaaaaaaaaaaaaa", "aaaaaaaaaaaaaaa"},
		{"ExactLimit", "123456789012345", "123456789012345"},
		{"ClampedByRunes", strings.Repeat("ü", 20), strings.Repeat("ü", 15)},
		{"ExactRuneLimit", strings.Repeat("タ", 15), strings.Repeat("タ", 15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeName(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("SanitizeName(%q) produced invalid UTF-8", tt.input)
			}
		})
	}

	t.Run("EmptyGetsFallback", func(t *testing.T) {
		got := SanitizeName("   ")
		if !strings.HasPrefix(got, "Player-") {
			t.Errorf("expected generated fallback, got %q", got)
		}
	})
}

func TestNewSpectator(t *testing.T) {
	p := NewSpectator("s1", "Watcher")
	if !p.IsSpectator || !p.IsReady || !p.IsConnected {
		t.Errorf("unexpected spectator flags: %+v", p)
	}
	if p.Name != "Watcher (Spectator)" {
		t.Errorf("expected suffixed name, got %q", p.Name)
	}
	if p.Color != spectatorColor {
		t.Errorf("expected spectator color, got %q", p.Color)
	}
}

func TestPlayerSnapshotDeepCopiesFinishTime(t *testing.T) {
	ft := int64(123)
	p := &Player{ID: "a", FinishTime: &ft}
	cp := p.snapshot()
	*cp.FinishTime = 999
	if *p.FinishTime != 123 {
		t.Error("snapshot must not alias the finish time")
	}
}
