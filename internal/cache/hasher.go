// Package cache persists gremlin outcomes across runs, keyed by the
// content of the mutated source and of the tests covering it.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile hashes a file's content without loading it whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildKey derives the cache key for one gremlin. The key starts with the
// gremlin id, so every key for a file shares that file's literal prefix
// and InvalidateFile can delete by prefix. The digest folds the source
// hash and the covering tests' (name, hash) pairs sorted by name, with a
// count prefix so the empty test set never collides with a non-empty one.
// Pure function: same inputs, same key, regardless of map iteration order.
func BuildKey(gremlinID, sourceHash string, testHashes map[string]string) string {
	names := make([]string, 0, len(testHashes))
	for name := range testHashes {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	fmt.Fprintf(h, "src\x00%s\x00tests\x00%d\x00", sourceHash, len(names))
	for _, name := range names {
		fmt.Fprintf(h, "%s\x00%s\x00", name, testHashes[name])
	}

	return gremlinID + "@" + hex.EncodeToString(h.Sum(nil))
}
