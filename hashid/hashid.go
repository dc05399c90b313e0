// Package hashid derives content addresses and cache-validator tags for
// the blob store: SHA-256 blob ids and FNV-1a ETags.
package hashid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash/fnv"
	"strings"
)

const blobPrefix = "blob-"

var ErrInvalidBlobID = errors.New("hashid: malformed blob id")

// BlobID returns the canonical content address for payload: "blob-" followed
// by 64 lowercase hex characters of SHA-256(payload). Identical payloads
// always yield identical ids, which is the dedup invariant the blob store
// relies on.
func BlobID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return blobPrefix + hex.EncodeToString(sum[:])
}

// ValidateBlobID checks the "blob-" prefix and 64-hex-char length without
// recomputing the hash.
func ValidateBlobID(id string) error {
	if !strings.HasPrefix(id, blobPrefix) {
		return ErrInvalidBlobID
	}
	hexPart := id[len(blobPrefix):]
	if len(hexPart) != 64 {
		return ErrInvalidBlobID
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return ErrInvalidBlobID
	}
	return nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of payload.
func SHA256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SHA256 returns the raw 32-byte SHA-256 digest of payload.
func SHA256(payload []byte) [32]byte {
	return sha256.Sum256(payload)
}

// ETag returns a weak, cheap content validator for HTTP-style caching: the
// 64-bit FNV-1a hash of payload, rendered as 16 lowercase hex characters.
func ETag(payload []byte) string {
	h := fnv.New64a()
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
