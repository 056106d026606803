// Package migrate upgrades the on-disk config file from older schema
// versions. Each [Migration] edits the decoded TOML document in place;
// the [Registry] decodes, applies every pending step in version order and
// re-encodes.
package migrate

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BurntSushi/toml"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Document is a decoded TOML file: tables are map[string]any.
type Document = map[string]any

// Migration upgrades a document to Version.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a short human-readable label for log output.
	Description string
	// Upgrade edits doc in place.
	Upgrade func(doc Document) error
}

// Registry holds the current version and migrations for one file kind.
type Registry struct {
	// CurrentVersion is the version written by this build.
	CurrentVersion int
	// Migrations are the registered upgrade steps.
	Migrations []Migration
}

// Register adds m. It panics on a duplicate version so conflicting
// registrations fail at init time.
func (r *Registry) Register(m Migration) {
	for _, existing := range r.Migrations {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrate: duplicate migration version %d (description: %q)", m.Version, m.Description))
		}
	}
	r.Migrations = append(r.Migrations, m)
}

// NeedsMigration reports whether a file at fileVersion is behind.
func (r *Registry) NeedsMigration(fileVersion int) bool {
	return fileVersion < r.CurrentVersion
}

// ///////////////////////////////////////////////
// Run
// ///////////////////////////////////////////////

// Run decodes data, applies every migration newer than fromVersion, stamps
// the result with the final version and re-encodes it. The returned version
// is the last one successfully applied.
func (r *Registry) Run(data []byte, fromVersion int) ([]byte, int, error) {
	doc := Document{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fromVersion, fmt.Errorf("decode: %w", err)
	}

	steps := make([]Migration, len(r.Migrations))
	copy(steps, r.Migrations)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })

	version := fromVersion
	for _, m := range steps {
		if version >= m.Version {
			continue
		}
		slog.Info("applying config migration", "version", m.Version, "description", m.Description)
		if err := m.Upgrade(doc); err != nil {
			return nil, version, fmt.Errorf("migration to v%d failed: %w", m.Version, err)
		}
		version = m.Version
	}
	doc["version"] = int64(version)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, version, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), version, nil
}

// ///////////////////////////////////////////////
// Document Helpers
// ///////////////////////////////////////////////

// Table returns the named sub-table of doc, creating it when absent.
func Table(doc Document, name string) (Document, error) {
	switch t := doc[name].(type) {
	case nil:
		nt := Document{}
		doc[name] = nt
		return nt, nil
	case map[string]any:
		return t, nil
	default:
		return nil, fmt.Errorf("%s is a %T, not a table", name, t)
	}
}

// Move relocates doc[key] to table[newKey]. Existing values at the
// destination win; the old key is always removed.
func Move(doc Document, key string, table Document, newKey string) {
	v, ok := doc[key]
	if !ok {
		return
	}
	delete(doc, key)
	if _, exists := table[newKey]; !exists {
		table[newKey] = v
	}
}
