// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of order intents and audit payloads.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashPrefix is the encoding prefix for every SHA-256 digest in the system.
const HashPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with encoding/json (so struct tags apply), then
// transformed: map keys sorted lexicographically by UTF-16 code units, no
// HTML escaping, ES6 number formatting.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// RawJSON canonicalizes an already-serialized JSON document. Unlike JCS it
// never round-trips through Go values, so number formatting in the input is
// preserved exactly as RFC 8785 prescribes.
func RawJSON(raw []byte) ([]byte, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CanonicalHash returns the prefixed SHA-256 digest of the canonical JSON
// representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns the hex string.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Digest computes the SHA-256 hash of raw bytes in the system-wide
// "sha256:<hex>" encoding.
func Digest(data []byte) string {
	return HashPrefix + HashBytes(data)
}
