package buildconfig

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const name = "integrity"

// Version returns the build version
func Version() string {
	return version
}

// Commit returns the git commit hash
func Commit() string {
	return commit
}

// Producer identifies this build on persisted graph snapshots.
func Producer() string {
	return name + "/" + version + "+" + commit
}

// VersionInfo returns full version information
func VersionInfo() map[string]string {
	return map[string]string{
		"name":    name,
		"version": version,
		"commit":  commit,
	}
}
