package config

// Version is the canonical version of stratopt.
// Release builds override it with -ldflags "-X .../internal/config.Version=...".
var Version = "0.1.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}
