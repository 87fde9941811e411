// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and content addressing for decision-brain material.
//
// Every identifier and integrity hash in cortex derives from the canonical
// form, so two processes observing the same logical value always agree on its
// digest regardless of field order or encoder quirks.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// IDDigestLen is the number of digest hex characters carried in a
// deterministic identifier.
const IDDigestLen = 24

// Marshal returns the RFC 8785 canonical JSON encoding of v.
//
// v is first marshaled with encoding/json so struct tags apply, then the
// intermediate document is transformed to canonical form: keys sorted,
// no HTML escaping, ES6 number formatting.
func Marshal(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}

// Digest returns the lowercase hex SHA-256 digest of the canonical form of v.
func Digest(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DeterministicID derives a stable identifier of the form
// "<prefix>:<digest[:24]>" from arbitrary material. Same prefix and material
// always produce the same identifier.
func DeterministicID(prefix string, material interface{}) (string, error) {
	d, err := Digest(material)
	if err != nil {
		return "", err
	}
	return prefix + ":" + d[:IDDigestLen], nil
}

var hexDigestRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidHexDigest reports whether s is a 64 character lowercase hex digest.
// Artifact hashes carry exactly this shape on the wire.
func ValidHexDigest(s string) bool {
	return hexDigestRe.MatchString(s)
}

// FoldKey returns the NFC normalized, whitespace-trimmed form of a metric or
// series key. Applied at ingest only; hashed payloads are never rewritten.
func FoldKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Hasher computes digests and deterministic identifiers from canonical form.
// Components take a Hasher instead of calling package functions directly, so
// an alternative digest scheme can be injected without touching callers.
type Hasher interface {
	Digest(v interface{}) (string, error)
	ID(prefix string, material interface{}) (string, error)
}

// SHA256 is the production Hasher: canonical form digested with SHA-256.
// The zero value is ready to use.
type SHA256 struct{}

// Digest implements Hasher.
func (SHA256) Digest(v interface{}) (string, error) { return Digest(v) }

// ID implements Hasher.
func (SHA256) ID(prefix string, material interface{}) (string, error) {
	return DeterministicID(prefix, material)
}
