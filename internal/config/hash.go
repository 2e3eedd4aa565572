package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// DigestBytes returns the prefixed BLAKE3 digest of data.
func DigestBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// DigestFile returns the prefixed BLAKE3 digest of a file.
func DigestFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return DigestBytes(data), nil
}

// VerifyDigest checks a file against an expected prefixed digest.
func VerifyDigest(path, expected string) error {
	actual, err := DigestFile(path)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", path, expected, actual)
	}
	return nil
}
