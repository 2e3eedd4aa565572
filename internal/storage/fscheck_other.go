//go:build !darwin && !linux

package storage

// detectFilesystemType cannot tell mounts apart here. An empty name is
// treated as local, so the ledger still opens.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
