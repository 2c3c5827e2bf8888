// Package backup produces and consumes the JSON backup document used
// for multi-device recovery: per-user slices of every exported store
// plus a checksum. Import validates the document against an embedded
// CUE schema and reconciles it through the merge rules instead of
// overwriting blindly.
package backup

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/apstatquiz/quizstore/internal/merge"
)

//go:embed schema.cue
var documentSchema string

// FormatVersion is the current backup document version.
const FormatVersion = 1

// Document is the backup file payload.
type Document struct {
	Version    int                       `json:"version"`
	ExportedAt int64                     `json:"exportedAt"`
	ClientID   string                    `json:"clientId,omitempty"`
	Users      map[string]merge.UserData `json:"users"`
	Checksum   string                    `json:"checksum"`
}

// ChecksumOf computes the sha256 hex digest of the users section.
// json.Marshal sorts map keys, so the digest is deterministic for a
// given data set.
func ChecksumOf(users map[string]merge.UserData) (string, error) {
	raw, err := json.Marshal(users)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Decode parses and validates a backup document: CUE schema first, then
// the checksum.
func Decode(raw []byte) (*Document, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	sum, err := ChecksumOf(doc.Users)
	if err != nil {
		return nil, err
	}
	if doc.Checksum != sum {
		return nil, fmt.Errorf("backup checksum mismatch: document says %s, content is %s", doc.Checksum, sum)
	}
	return &doc, nil
}

// Encode serializes a document, filling in the checksum.
func Encode(doc *Document) ([]byte, error) {
	sum, err := ChecksumOf(doc.Users)
	if err != nil {
		return nil, err
	}
	doc.Checksum = sum
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return raw, nil
}

// validateSchema checks the raw document against #Document.
func validateSchema(raw []byte) error {
	cuectx := cuecontext.New()
	schema := cuectx.CompileString(documentSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("backup schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Document"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("backup schema: %w", err)
	}
	value := cuectx.CompileBytes(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("backup document is not valid JSON for validation: %w", err)
	}
	unified := def.Unify(value)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return fmt.Errorf("backup document rejected by schema: %w", err)
	}
	return nil
}
