package ops

import (
	"encoding/json"
	"fmt"
)

// Resolution says what to do with an existing entry that occupies the target
// name.
type Resolution string

const (
	Unset   Resolution = ""
	Skip    Resolution = "skip"
	Replace Resolution = "replace"
	Rename  Resolution = "rename"
)

func (r Resolution) valid() bool {
	switch r {
	case Unset, Skip, Replace, Rename:
		return true
	}
	return false
}

// Policy is the [same, diff] conflict policy. Same applies when the existing
// entry has the type of the entry being created, Diff otherwise.
type Policy [2]Resolution

// ParsePolicy parses the wire form, e.g. ["skip", null].
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	err := json.Unmarshal(data, &p)
	return p, err
}

func (p Policy) Same() Resolution { return p[0] }
func (p Policy) Diff() Resolution { return p[1] }

func (p Policy) String() string {
	b, _ := p.MarshalJSON()
	return string(b)
}

func (p Policy) MarshalJSON() ([]byte, error) {
	out := make([]*string, 2)
	for i, r := range p {
		if r != Unset {
			s := string(r)
			out[i] = &s
		}
	}
	return json.Marshal(out)
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var raw []*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("policy must be an array: %w", err)
	}
	if len(raw) > 2 {
		return fmt.Errorf("policy has %d elements, want at most 2", len(raw))
	}
	var out Policy
	for i, s := range raw {
		if s == nil {
			continue
		}
		r := Resolution(*s)
		if r == Unset || !r.valid() {
			return fmt.Errorf("invalid policy element %q", *s)
		}
		out[i] = r
	}
	*p = out
	return nil
}

// Resolved reports which policy element was applied: [0] for same, [1] for
// diff.
type Resolved [2]bool
