package logging

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		env, level string
		ok         bool
	}{
		{"dev", "", true},
		{"prod", "warn", true},
		{"prod", "debug", true},
		{"prod", "loud", false},
	}
	for _, tt := range tests {
		l, err := New(tt.env, tt.level)
		if (err == nil) != tt.ok {
			t.Fatalf("New(%q, %q) ok=%v err=%v", tt.env, tt.level, tt.ok, err)
		}
		if tt.ok && l == nil {
			t.Fatalf("New(%q, %q) returned nil logger", tt.env, tt.level)
		}
	}
}

func TestLevelApplied(t *testing.T) {
	l, err := New("prod", "error")
	if err != nil {
		t.Fatal(err)
	}
	if l.Desugar().Core().Enabled(-1) {
		t.Fatalf("debug should be disabled at error level")
	}
}
