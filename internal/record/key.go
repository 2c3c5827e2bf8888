package record

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key is an ordered tuple identifying one record within a store.
// Scalar-keyed stores use a one-element tuple; compound stores use two.
// Keys must be normalized identically on every call so that a scalar
// "Mango_Tiger" and a tuple ["Mango_Tiger"] address the same record.
type Key []string

// NewKey builds a key from parts without validation. Use Normalize
// before handing it to an adapter.
func NewKey(parts ...string) Key {
	return Key(parts)
}

// String renders the key for logs and error messages.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// NormalizeKey validates a key against a store's declared shape and
// returns the canonical tuple. Auto-keyed stores reject explicit keys;
// their ids are assigned by the backend.
func NormalizeKey(spec Spec, key Key) (Key, error) {
	if spec.AutoKey() {
		return nil, fmt.Errorf("store %q assigns its own keys", spec.Name)
	}
	if len(key) != len(spec.KeyFields) {
		return nil, fmt.Errorf("store %q wants a %d-part key, got %d (%s)",
			spec.Name, len(spec.KeyFields), len(key), key)
	}
	out := make(Key, len(key))
	for i, part := range key {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("store %q key part %q is empty", spec.Name, spec.KeyFields[i])
		}
		out[i] = part
	}
	// First key part is the username on every user-partitioned store.
	if spec.UserField != "" && spec.KeyFields[0] == spec.UserField {
		out[0] = NormalizeUsername(out[0])
	}
	return out, nil
}

// ReconcileKey folds the key parts into the record's own fields so that
// stored values are self-describing and index queries stay consistent
// with the key under which the record was written.
func ReconcileKey(spec Spec, key Key, fields map[string]any) {
	for i, name := range spec.KeyFields {
		fields[name] = key[i]
	}
}

// NormalizeUsername trims whitespace and applies NFC normalization so
// that visually identical usernames map to one storage partition
// regardless of how the input was composed.
func NormalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}

// ValidUsername rejects the legacy sentinel strings that an older
// frontend could persist when no user was signed in.
func ValidUsername(username string) bool {
	switch username {
	case "", "null", "undefined":
		return false
	}
	return true
}
