package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TableRegistry maps an owner identity to their provisioned remote table
// names. One registry entry exists per owner, cached as a JSON file in the
// local data directory. A cached entry must pass a liveness probe before
// reuse: the ledger is append/DDL based and entries go stale when the schema
// version is bumped.
type TableRegistry struct {
	Owner         string    `json:"owner"`
	SessionsTable string    `json:"sessions_table"`
	CardsTable    string    `json:"cards_table"`
	DrillsTable   string    `json:"drills_table"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the registry entry for completeness.
func (r *TableRegistry) Validate() error {
	if r.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if r.SessionsTable == "" || r.CardsTable == "" || r.DrillsTable == "" {
		return fmt.Errorf("all three table names are required")
	}
	if r.SchemaVersion < 1 {
		return fmt.Errorf("schema_version must be positive (got %d)", r.SchemaVersion)
	}
	return nil
}

// RegistryFilename returns the canonical registry filename for an owner:
// registry-{sanitized owner}.json
func RegistryFilename(owner string) string {
	return fmt.Sprintf("registry-%s.json", SanitizeOwner(owner))
}

// SanitizeOwner lowercases an owner identity and strips characters that are
// not valid in table names or filenames. A leading "0x" is dropped.
func SanitizeOwner(owner string) string {
	s := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(owner, "0x"), "0X"))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ReadRegistryFile reads and parses a cached registry entry.
// Returns os.ErrNotExist (wrapped) when no entry has been cached yet.
func ReadRegistryFile(dir, owner string) (*TableRegistry, error) {
	path := filepath.Join(dir, RegistryFilename(owner))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file %s: %w", path, err)
	}

	var reg TableRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}

	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry file %s: %w", path, err)
	}

	return &reg, nil
}

// WriteRegistryFile persists a registry entry as pretty-printed JSON.
func WriteRegistryFile(dir string, reg *TableRegistry) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid registry: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry for %s: %w", reg.Owner, err)
	}

	path := filepath.Join(dir, RegistryFilename(reg.Owner))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file %s: %w", path, err)
	}

	return nil
}

// RemoveRegistryFile deletes a cached registry entry. Removing a missing
// entry is not an error.
func RemoveRegistryFile(dir, owner string) error {
	path := filepath.Join(dir, RegistryFilename(owner))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove registry file %s: %w", path, err)
	}
	return nil
}
