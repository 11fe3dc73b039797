// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fingerprint computes document content fingerprints and compares
// them against the provenance footer recorded inside card files.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Label precedes the fingerprint in a card file's provenance footer.
const Label = "source_sha256:"

// minDigestLen rejects truncated or garbage tokens after the label.
const minDigestLen = 32

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// File streams the file at path through SHA-256 and returns the hex digest.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Extract returns the fingerprint recorded in a card file: the token that
// follows the last occurrence of Label. ok is false when there is no label
// or the token is too short to be a digest.
func Extract(cardText string) (digest string, ok bool) {
	idx := strings.LastIndex(cardText, Label)
	if idx < 0 {
		return "", false
	}
	fields := strings.Fields(cardText[idx+len(Label):])
	if len(fields) == 0 {
		return "", false
	}
	digest = fields[0]
	if len(digest) < minDigestLen {
		return "", false
	}
	return digest, true
}

// IsStale reports whether a card file no longer matches the current document
// fingerprint. A card without a parsable fingerprint is stale.
func IsStale(cardText, current string) bool {
	recorded, ok := Extract(cardText)
	return !ok || recorded != current
}
