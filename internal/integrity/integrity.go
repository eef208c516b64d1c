// Package integrity provides tamper-evident hashing for run bundles and
// configuration snapshots. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"
	"strings"

	"github.com/ashita-ai/shirabe/internal/model"
)

// hashPrefix versions every digest so the encoding can change without
// invalidating manifests written by older builds.
const hashPrefix = "v2:"

// writeField encodes one field as a 4-byte big-endian length followed by its
// bytes. Length prefixes avoid delimiter collisions in free text.
func writeField(h hash.Hash, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b))) //nolint:gosec // bundle files are far below 4 GiB
	h.Write(lenBuf[:])
	h.Write(b)
}

// FileHash returns the versioned SHA-256 digest of a bundle file. The file
// name is part of the digest so that swapping two files is detected.
func FileHash(name string, content []byte) string {
	h := sha256.New()
	writeField(h, []byte(name))
	writeField(h, content)
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyFileHash checks a stored digest against the file's current content.
func VerifyFileHash(stored, name string, content []byte) bool {
	if !strings.HasPrefix(stored, hashPrefix) {
		return false
	}
	return stored == FileHash(name, content)
}

// ConfigDigest fingerprints a run configuration. Two configs share a digest
// iff every field is equal, so the digest can be compared across processes
// to prove a remediation is deterministic.
func ConfigDigest(cfg model.RunConfig) string {
	h := sha256.New()
	for _, f := range []string{
		cfg.Query,
		cfg.FetchAdapter,
		strconv.Itoa(cfg.TopK),
		strconv.FormatFloat(cfg.MMRLambda, 'f', -1, 64),
		cfg.PromptMode,
		strconv.Itoa(cfg.MaxGenerationTokens),
		cfg.BudgetPriority,
		cfg.ModelRoute,
		strconv.FormatInt(cfg.ToolCallCeiling, 10),
	} {
		writeField(h, []byte(f))
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per RFC 6962),
// ensuring internal node hashes can never collide with leaf content hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves must be sorted by the caller for determinism.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}

// BundleRoot returns the Merkle root over per-file digests, ordered by file
// name.
func BundleRoot(digests map[string]string) string {
	names := make([]string, 0, len(digests))
	for name := range digests {
		names = append(names, name)
	}
	sort.Strings(names)
	leaves := make([]string, len(names))
	for i, name := range names {
		leaves[i] = digests[name]
	}
	return BuildMerkleRoot(leaves)
}
