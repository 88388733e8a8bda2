package profile

import (
	"fmt"
	"sort"
)

// Built-in board variants.
const (
	// Single is one 7-LED strip on a single data pin.
	Single = "single"
	// Octo is an eight-output board with irregular strip lengths.
	Octo = "octo"
)

var builtins = map[string]struct {
	lengths []int
	padded  bool
}{
	Single: {lengths: []int{7}, padded: false},
	Octo:   {lengths: []int{60, 72, 45, 90, 120, 30, 88, 64}, padded: true},
}

// Lookup returns a fresh copy of a built-in profile.
func Lookup(name string) (*Profile, error) {
	b, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (known: %v)", name, Names())
	}
	return New(name, b.lengths, b.padded)
}

// Names lists the built-in profiles.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
