package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default stepflow data directory name (relative to home).
	DefaultDataDir = ".stepflow"
	// DBFile is the SQLite store filename.
	DBFile = "stepflow.db"
	// RecordsDir is the subdirectory of the file store.
	RecordsDir = "records"
	// PolicyFile is the safety policy loaded when it exists and no other policy is set.
	PolicyFile = "policy.yaml"

	// EnvPrefix is the prefix of the environment variables that set flag defaults.
	EnvPrefix = "STEPFLOW"
)

// DBPath returns the default SQLite store path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// RecordsPath returns the default file store directory.
func RecordsPath(dataDir string) string {
	return filepath.Join(dataDir, RecordsDir)
}

// PolicyPath returns the default safety policy path.
func PolicyPath(dataDir string) string {
	return filepath.Join(dataDir, PolicyFile)
}
