package version

// version is injected at build time via -ldflags.
var version = "development"

// PerchVersion returns the version of the running binary.
func PerchVersion() string {
	return version
}
