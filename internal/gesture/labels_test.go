package gesture

import (
	"errors"
	"testing"
)

func TestDefaultLabelSets(t *testing.T) {
	ls := DefaultLabelSets()

	static, dynamic := ls.Len()
	if static != 21 {
		t.Errorf("static labels = %d, want 21", static)
	}
	if dynamic != 5 {
		t.Errorf("dynamic labels = %d, want 5", dynamic)
	}

	tests := []struct {
		label string
		want  Type
	}{
		{"A", TypeStatic},
		{"Y", TypeStatic},
		{"J", TypeDynamic},
		{"Z", TypeDynamic},
		{"Ñ", TypeUnknown},
		{"a", TypeUnknown},
		{"", TypeUnknown},
	}
	for _, tt := range tests {
		if got := ls.TypeOf(tt.label); got != tt.want {
			t.Errorf("TypeOf(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestNewLabelSets_RejectsOverlap(t *testing.T) {
	_, err := NewLabelSets([]string{"A", "B"}, []string{"B", "J"})
	if !errors.Is(err, ErrOverlappingLabels) {
		t.Fatalf("NewLabelSets() error = %v, want ErrOverlappingLabels", err)
	}
}

func TestNewLabelSets_MultiCharacterLabels(t *testing.T) {
	ls, err := NewLabelSets([]string{"hello", "thanks"}, []string{"wave"})
	if err != nil {
		t.Fatalf("NewLabelSets() error = %v", err)
	}
	if ls.TypeOf("wave") != TypeDynamic {
		t.Error("expected wave to be dynamic")
	}
	if ls.TypeOf("h") != TypeUnknown {
		t.Error("expected single letters not to match word labels")
	}
}
