// Package identity canonicalizes and hashes identity objects. It is the
// single definition of which fields participate in identity and of the
// canonical JSON form every hash in the system is computed over.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

var requiredKeys = []string{"type", "target", "timing"}

var requiredTimingKeys = []string{"days", "start_time", "end_time"}

// forbiddenKeys may not appear anywhere inside an identity object.
// Date-resolution output, execution flags, and provenance are banned
// from identity so the hash survives resolution and upgrades.
var forbiddenKeys = map[string]bool{
	"start_date":   true,
	"end_date":     true,
	"date_pattern": true,
	"stop_type":    true,
	"repeat":       true,
	"enabled":      true,
	"status":       true,
	"uid":          true,
	"hash":         true,
	"id":           true,
	// camelCase aliases
	"startDate":   true,
	"endDate":     true,
	"datePattern": true,
	"stopType":    true,
}

var allowedTypes = map[string]bool{
	"playlist": true,
	"sequence": true,
	"command":  true,
}

// Canonicalize validates an identity map and returns its canonical form
// (deep-sorted keys, scalars normalized). Any forbidden field anywhere
// in the object is fatal.
func Canonicalize(id map[string]any) (map[string]any, error) {
	for _, k := range requiredKeys {
		if _, ok := id[k]; !ok {
			return nil, syncerr.Invariant("identity missing required key", map[string]any{"field": k})
		}
	}
	typ, _ := id["type"].(string)
	if !allowedTypes[typ] {
		return nil, syncerr.Invariant("identity has unknown type", map[string]any{"field": "type", "stored": typ})
	}
	target, _ := id["target"].(string)
	if strings.TrimSpace(target) == "" {
		return nil, syncerr.Invariant("identity has empty target", map[string]any{"field": "target"})
	}
	timing, ok := id["timing"].(map[string]any)
	if !ok {
		return nil, syncerr.Invariant("identity timing is not an object", map[string]any{"field": "timing"})
	}
	for _, k := range requiredTimingKeys {
		if _, ok := timing[k]; !ok {
			return nil, syncerr.Invariant("identity timing missing required key", map[string]any{"field": "timing." + k})
		}
	}
	if err := checkForbidden(id, ""); err != nil {
		return nil, err
	}
	out, err := canonicalValue(id)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func checkForbidden(v any, path string) error {
	switch t := v.(type) {
	case map[string]any:
		for k, sub := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if forbiddenKeys[k] {
				return syncerr.Invariant("identity contains forbidden field", map[string]any{"field": p})
			}
			if err := checkForbidden(sub, p); err != nil {
				return err
			}
		}
	case []any:
		for _, sub := range t {
			if err := checkForbidden(sub, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// Hash returns the 64-char hex SHA-256 of the canonical JSON encoding.
func Hash(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashIdentity canonicalizes then hashes in one step.
func HashIdentity(id map[string]any) (string, error) {
	canon, err := Canonicalize(id)
	if err != nil {
		return "", err
	}
	return Hash(canon)
}

// HashStrings hashes an ordered list of strings joined by newlines.
// Used to aggregate sub-event state hashes into an event state hash.
func HashStrings(items []string) string {
	sum := sha256.Sum256([]byte(strings.Join(items, "\n")))
	return hex.EncodeToString(sum[:])
}
