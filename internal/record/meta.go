package record

// Logical meta-store keys. The flat backend maps these to legacy flat
// key names; the structured store uses them as-is.
const (
	MetaUsername        = "username"
	MetaRecentUsernames = "recentUsernames"
	MetaSchemaVersion   = "schemaVersion"
	MetaClientID        = "clientId"
	MetaBackupPrefs     = "backupPreferences"

	// MetaMigrationDone gates the one-time legacy import. Written once
	// on first successful migration (or first cold start with nothing
	// to migrate) and never deleted during normal operation.
	MetaMigrationDone = "migrationComplete"
)
