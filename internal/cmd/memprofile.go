package cmd

import (
	"fmt"
	"os"
	"runtime/pprof"
)

// memprofile writes heap and alloc profiles to the current directory. It is
// hidden from help.
var memprofile bool

func maybeWriteMemProfile() {
	if !memprofile {
		return
	}
	for name, file := range map[string]string{
		"heap":   "lectern_heap.profile",
		"allocs": "lectern_allocs.profile",
	} {
		if err := writeProfile(name, file); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
	}
}

func writeProfile(name, file string) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	defer func() { _ = f.Close() }()
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return fmt.Errorf("write %s profile: %w", name, err)
	}
	return nil
}
