package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SubjectKind is a legal-subject type that may sign a citizen task.
type SubjectKind string

const (
	SubjectIndividual   SubjectKind = "INDIVIDUAL"
	SubjectEntrepreneur SubjectKind = "ENTREPRENEUR"
	SubjectLegal        SubjectKind = "LEGAL"
)

// ParseSubjectKind accepts the enumeration names case-insensitively.
func ParseSubjectKind(s string) (SubjectKind, error) {
	switch k := SubjectKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case SubjectIndividual, SubjectEntrepreneur, SubjectLegal:
		return k, nil
	default:
		return "", fmt.Errorf("unknown subject kind %q", s)
	}
}

func (k *SubjectKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseSubjectKind(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// AllowedSubjects returns the distinct kinds of pack in order, or INDIVIDUAL
// alone when pack is empty.
func AllowedSubjects(pack []SubjectKind) []SubjectKind {
	if len(pack) == 0 {
		return []SubjectKind{SubjectIndividual}
	}
	seen := make(map[SubjectKind]bool, len(pack))
	out := make([]SubjectKind, 0, len(pack))
	for _, k := range pack {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
