// Package gesture turns per-frame classifications into stable gesture events.
package gesture

import (
	"errors"
	"fmt"
)

// Type represents the type of gesture (static or dynamic).
type Type string

const (
	// TypeStatic is a held hand pose. It is accepted only while the hand is still.
	TypeStatic Type = "static"
	// TypeDynamic is a gesture traced by motion. It is accepted only after sustained movement.
	TypeDynamic Type = "dynamic"
	// TypeUnknown is returned for labels in neither set.
	TypeUnknown Type = ""
)

// Default label alphabets, one letter per label.
const (
	DefaultStaticLabels  = "ABCDEFGHILMNOPRSTUVWY"
	DefaultDynamicLabels = "JKQXZ"
)

// ErrOverlappingLabels is returned when a label appears in both sets.
var ErrOverlappingLabels = errors.New("label is both static and dynamic")

// LabelSets partitions classifier labels into static and dynamic gestures.
// It is immutable once built.
type LabelSets struct {
	static  map[string]struct{}
	dynamic map[string]struct{}
}

// NewLabelSets builds label sets from explicit label lists. The sets must be disjoint.
func NewLabelSets(static, dynamic []string) (LabelSets, error) {
	ls := LabelSets{
		static:  make(map[string]struct{}, len(static)),
		dynamic: make(map[string]struct{}, len(dynamic)),
	}
	for _, l := range static {
		ls.static[l] = struct{}{}
	}
	for _, l := range dynamic {
		if _, ok := ls.static[l]; ok {
			return LabelSets{}, fmt.Errorf("%w: %q", ErrOverlappingLabels, l)
		}
		ls.dynamic[l] = struct{}{}
	}
	return ls, nil
}

// LabelSetsFromLetters builds label sets where every rune of each string is a label.
func LabelSetsFromLetters(static, dynamic string) (LabelSets, error) {
	return NewLabelSets(splitLetters(static), splitLetters(dynamic))
}

// DefaultLabelSets returns the fingerspelling alphabet split used by the bundled models.
func DefaultLabelSets() LabelSets {
	ls, err := LabelSetsFromLetters(DefaultStaticLabels, DefaultDynamicLabels)
	if err != nil {
		panic(err)
	}
	return ls
}

// TypeOf reports which set label belongs to.
func (ls LabelSets) TypeOf(label string) Type {
	if _, ok := ls.static[label]; ok {
		return TypeStatic
	}
	if _, ok := ls.dynamic[label]; ok {
		return TypeDynamic
	}
	return TypeUnknown
}

// Len returns the number of static and dynamic labels.
func (ls LabelSets) Len() (static, dynamic int) {
	return len(ls.static), len(ls.dynamic)
}

func splitLetters(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
