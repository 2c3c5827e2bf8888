package kvstore

import (
	"strings"

	"github.com/apstatquiz/quizstore/internal/record"
)

// Legacy flat key layout. These names are fixed by data already written
// by older app versions; new code must keep reading and writing them so
// both versions stay interoperable.

// Meta settings map to specific legacy flat-key names. Meta keys not in
// the table get a "meta_" prefix so they cannot collide with the legacy
// namespace.
var metaKeyTable = map[string]string{
	record.MetaUsername:        "consensusUsername",
	record.MetaRecentUsernames: "recentUsernames",
	record.MetaSchemaVersion:   "quizSchemaVersion",
	record.MetaClientID:        "quizClientId",
	record.MetaBackupPrefs:     "backupPreferences",
}

const metaPrefix = "meta_"

// flatMetaKey resolves a logical meta key to its flat key name.
func flatMetaKey(key string) string {
	if legacy, ok := metaKeyTable[key]; ok {
		return legacy
	}
	return metaPrefix + key
}

// logicalMetaKey is the reverse mapping, for key listings.
func logicalMetaKey(flat string) (string, bool) {
	for logical, legacy := range metaKeyTable {
		if legacy == flat {
			return logical, true
		}
	}
	if strings.HasPrefix(flat, metaPrefix) {
		return strings.TrimPrefix(flat, metaPrefix), true
	}
	return "", false
}

// Per-user stores live in one flat key per (store, username) pair. The
// sprite hue keeps its dedicated legacy name; everything else is
// "<store>_<username>".
const (
	spriteKeyPrefix = "spriteHue_"
	outboxKey       = "outbox"
	classDataKey    = "classData"
)

// userBlobKey names the flat key holding the JSON blob for one
// (store, username) pair.
func userBlobKey(store, username string) string {
	if store == record.StoreSprites {
		return spriteKeyPrefix + username
	}
	return store + "_" + username
}

// splitUserBlobKey inverts userBlobKey for prefix scans. Returns the
// username and true when flat belongs to the given store.
func splitUserBlobKey(store, flat string) (string, bool) {
	prefix := store + "_"
	if store == record.StoreSprites {
		prefix = spriteKeyPrefix
	}
	if !strings.HasPrefix(flat, prefix) {
		return "", false
	}
	return strings.TrimPrefix(flat, prefix), true
}
