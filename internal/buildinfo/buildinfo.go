// Package buildinfo holds version details stamped at link time, e.g.
//
//	go build -ldflags "-X vrpsplit/internal/buildinfo.Version=v1.4.0 -X vrpsplit/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// String formats the build details for -version output.
func String() string {
	s := "vrpsplit " + Version
	if Commit != "" {
		s += fmt.Sprintf(" (%s)", Commit)
	}
	if BuiltAt != "" {
		s += " built " + BuiltAt
	}
	return s
}
