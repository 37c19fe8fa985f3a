package classifier

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LabelMap maps class indices to gesture labels.
type LabelMap map[int]string

// ParseLabelMap decodes a label file of the form {"A": 0, "B": 1, ...}.
func ParseLabelMap(data []byte) (LabelMap, error) {
	if err := validateDocument(labelsSchema, "labels", data); err != nil {
		return nil, err
	}

	var byLabel map[string]int
	if err := json.Unmarshal(data, &byLabel); err != nil {
		return nil, fmt.Errorf("%w: labels: %v", ErrInvalidArtifact, err)
	}

	lm := make(LabelMap, len(byLabel))
	for label, idx := range byLabel {
		if prev, ok := lm[idx]; ok {
			return nil, fmt.Errorf("%w: labels %q and %q share index %d", ErrInvalidArtifact, prev, label, idx)
		}
		lm[idx] = label
	}
	return lm, nil
}

// Labels returns the labels ordered by index.
func (lm LabelMap) Labels() []string {
	idx := make([]int, 0, len(lm))
	for i := range lm {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]string, len(idx))
	for i, k := range idx {
		out[i] = lm[k]
	}
	return out
}
