// Package scope decides which display outputs an instance is responsible for.
package scope

import (
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
)

// AllOutputs is the lease token claimed by an instance configured for every output
const AllOutputs = "*"

// Set is a sorted, de-duplicated set of output identifiers.
// The empty set means "all outputs, whatever they are at any time".
type Set struct {
	ids []string
}

// New builds a Set, dropping blanks and duplicates
func New(ids ...string) Set {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return Set{ids: slices.Compact(out)}
}

// All reports whether the set is the distinguished "all outputs" set
func (s Set) All() bool {
	return len(s.ids) == 0
}

// IDs returns the sorted output identifiers
func (s Set) IDs() []string {
	return slices.Clone(s.ids)
}

// Len returns the number of explicit outputs
func (s Set) Len() int {
	return len(s.ids)
}

// Matches reports whether output belongs to the set
func (s Set) Matches(output string) bool {
	if s.All() {
		return true
	}
	_, found := slices.BinarySearch(s.ids, output)
	return found
}

// Matches reports whether candidate belongs to configured
func Matches(candidate string, configured Set) bool {
	return configured.Matches(candidate)
}

// Equal reports element-for-element equality
func (s Set) Equal(other Set) bool {
	return slices.Equal(s.ids, other.ids)
}

// Tokens returns the lease tokens this set claims
func (s Set) Tokens() []string {
	if s.All() {
		return []string{AllOutputs}
	}
	return s.IDs()
}

// Key returns a short filesystem-safe key identifying the set
func (s Set) Key() string {
	if s.All() {
		return "all"
	}
	h := fnv.New64a()
	h.Write([]byte(strings.Join(s.ids, "\x00")))
	return fmt.Sprintf("%016x", h.Sum64())
}

func (s Set) String() string {
	if s.All() {
		return "all"
	}
	return strings.Join(s.ids, ",")
}
