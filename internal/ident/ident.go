// Package ident computes the stable identities used across the vector
// index, document store, and caches: MD5 fingerprints of file bytes,
// content hashes over post identity, and whitespace-normalized
// deduplication keys.
package ident

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// FileHash returns the MD5 hex digest of raw file bytes. Byte-identical
// artifacts at distinct URLs produce the same hash, which drives the
// single-flight guarantee for external extraction calls.
func FileHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ContentHash fingerprints a post by title and body. A post is
// re-ingested only when this value changes.
func ContentHash(title, body string) string {
	h := md5.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeSpace collapses all whitespace runs to single spaces and
// trims the ends. Chunk deduplication compares texts in this form so
// formatting differences don't defeat it.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
