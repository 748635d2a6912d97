package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type revision struct {
	version int
	name    string
	up      string
}

// Migrate brings the schema up to the newest embedded revision. Every
// pending revision applies inside one transaction, so a failed upgrade
// leaves the schema at the version it started from.
func Migrate(db *sql.DB) error {
	revs, err := revisions()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := schemaVersion(tx)
	if err != nil {
		return err
	}
	for _, r := range revs {
		if r.version <= current {
			continue
		}
		if _, err := tx.Exec(r.up); err != nil {
			return fmt.Errorf("migration %s: %w", r.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, r.version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = r.version
	}
	return tx.Commit()
}

func revisions() ([]revision, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	var revs []revision
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := schemaFS.ReadFile("sql/" + entry.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", entry.Name(), err)
		}
		revs = append(revs, revision{version: v, name: entry.Name(), up: string(data)})
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].version < revs[j].version })
	return revs, nil
}

// schemaVersion reads the stored version, seeding the table at 0 on a
// fresh database.
func schemaVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
