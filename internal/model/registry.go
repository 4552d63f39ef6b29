package model

import (
	"maps"
	"slices"
	"strings"
)

// Registry maps a service id to the command tokens posting to it,
// the executable being the first token.
type Registry map[string][]string

// Lookup returns the command tokens of a service, ok is false for unknown
// services and for services registered with an empty command.
func (r Registry) Lookup(id string) ([]string, bool) {
	tokens, ok := r[id]
	if !ok || len(tokens) == 0 || tokens[0] == "" {
		return nil, false
	}
	return tokens, true
}

// Clone returns a deep copy of the registry.
func (r Registry) Clone() Registry {
	if r == nil {
		return nil
	}
	out := make(Registry, len(r))
	for id, tokens := range r {
		out[id] = slices.Clone(tokens)
	}
	return out
}

// IDs returns the registered service ids in sorted order.
func (r Registry) IDs() []string {
	return slices.Sorted(maps.Keys(r))
}

// Services is an ordered set of service ids.
type Services []string

// ParseServices splits a comma separated list of ids. Blank items are
// dropped and the first occurrence of a duplicate wins.
func ParseServices(list string) Services {
	var out Services
	for item := range strings.SplitSeq(list, ",") {
		id := strings.TrimSpace(item)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Validate returns an UnknownServiceError for the first id the registry
// does not know.
func (s Services) Validate(reg Registry) error {
	for _, id := range s {
		if _, ok := reg.Lookup(id); !ok {
			return &UnknownServiceError{Service: id, Known: reg.IDs()}
		}
	}
	return nil
}

func (s Services) String() string {
	return strings.Join(s, ", ")
}
