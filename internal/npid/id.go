// Package npid issues and validates NewsPassID identifiers.
//
// An identifier is "<namespace>-<uuid v4>", e.g.
// "gmg-5e2bd6e8-6f1a-4b0e-8d8f-9c1a2b3c4d5e". The namespace is the
// publisher's alphanumeric token; the suffix is a random v4 UUID. The id is
// a correlation key, not a security token, so the random source does not
// need CSPRNG guarantees.
package npid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// idPattern is the canonical id shape, applied identically by the client
// generator and the server validator: alphanumeric namespace, then the five
// hex groups of a UUID with the v4 version and variant nibbles pinned.
var idPattern = regexp.MustCompile(
	`(?i)^[a-z0-9]+-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// NewID generates a fresh identifier under the given namespace.
func NewID(namespace string) string {
	return namespace + "-" + uuid.NewString()
}

// ValidateID reports whether id matches the canonical namespace-uuid shape.
func ValidateID(id string) bool {
	return idPattern.MatchString(id)
}

// NamespaceFromID returns the namespace prefix of an id. An id with no
// separator is returned unchanged.
func NamespaceFromID(id string) string {
	if i := strings.Index(id, "-"); i >= 0 {
		return id[:i]
	}
	return id
}
