// Package mmapfile provides a minimal read-only memory-mapping primitive
// shared by internal/store (seal-time transpose source) and internal/field
// (query-time field reads), per spec.md 4.B/4.C. POSIX builds map via
// golang.org/x/sys/unix; other platforms fall back to a full read.
package mmapfile

// Map memory-maps path read-only and returns its bytes together with a
// closer that must run before the file is truncated, appended to, or
// renamed — mapped views must be closed before any structural mutation
// (spec.md 3, "Ownership & lifecycle").
func Map(path string) ([]byte, func() error, error) {
	return mapFile(path)
}
