// Package version holds the modcompat release version.
package version

import "fmt"

// Semantic version components.
const (
	Major = 0
	Minor = 3
	Patch = 0
	// Label is the optional pre-release label.
	Label = ""
)

// String returns the full version string.
func String() string {
	v := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch)
	if Label != "" {
		v += "-" + Label
	}
	return v
}

// Full returns the version prefixed with the program name.
func Full() string {
	return fmt.Sprintf("modcompat %s", String())
}
