package store

import (
	"fmt"
	"os"
	"time"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
)

// migration is one numbered, monotonically applied schema step.
type migration struct {
	version int
	stmts   []string
}

// migrations is the contiguous, numbered sequence applied in order to
// bring a fresh or older database up to schemaVersion.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE aliases (
				alias TEXT PRIMARY KEY,
				kind  TEXT NOT NULL,
				uid   INTEGER NOT NULL UNIQUE
			)`,
			`CREATE TABLE uid_sequence (next INTEGER NOT NULL)`,
			`INSERT INTO uid_sequence (next) VALUES (2)`, // 1 is reserved for ManagementUid
			`CREATE TABLE nodes (
				uid          INTEGER PRIMARY KEY,
				node_type    TEXT NOT NULL,
				num_id       INTEGER NOT NULL,
				port         INTEGER NOT NULL,
				machine_uuid TEXT NOT NULL DEFAULT '',
				last_contact INTEGER NOT NULL DEFAULT 0,
				UNIQUE (node_type, num_id)
			)`,
			`CREATE TABLE nics (
				node_uid INTEGER NOT NULL REFERENCES nodes(uid) ON DELETE CASCADE,
				address  TEXT NOT NULL,
				name     TEXT NOT NULL,
				nic_type TEXT NOT NULL
			)`,
			`CREATE INDEX idx_nics_node_uid ON nics(node_uid)`,
			`CREATE TABLE pools (
				uid     INTEGER PRIMARY KEY,
				pool_id INTEGER NOT NULL UNIQUE
			)`,
			`CREATE TABLE targets (
				uid             INTEGER PRIMARY KEY,
				target_id       INTEGER NOT NULL,
				node_type       TEXT NOT NULL,
				node_uid        INTEGER NOT NULL REFERENCES nodes(uid) ON DELETE CASCADE,
				pool_uid        INTEGER REFERENCES pools(uid) ON DELETE SET NULL,
				total_space     INTEGER NOT NULL DEFAULT 0,
				free_space      INTEGER NOT NULL DEFAULT 0,
				total_inodes    INTEGER NOT NULL DEFAULT 0,
				free_inodes     INTEGER NOT NULL DEFAULT 0,
				consistency     TEXT NOT NULL DEFAULT 'Good',
				last_contact    INTEGER NOT NULL DEFAULT 0,
				UNIQUE (node_type, target_id)
			)`,
			`CREATE TABLE buddy_groups (
				uid                  INTEGER PRIMARY KEY,
				group_id             INTEGER NOT NULL,
				node_type            TEXT NOT NULL,
				primary_target_uid   INTEGER NOT NULL REFERENCES targets(uid) ON DELETE RESTRICT,
				secondary_target_uid INTEGER NOT NULL REFERENCES targets(uid) ON DELETE RESTRICT,
				pool_uid             INTEGER REFERENCES pools(uid) ON DELETE SET NULL,
				UNIQUE (node_type, group_id)
			)`,
			`CREATE TABLE root_inode (
				id         INTEGER PRIMARY KEY CHECK (id = 1),
				owner_kind TEXT NOT NULL,
				owner_uid  INTEGER NOT NULL
			)`,
			`CREATE TABLE config_entries (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
			`CREATE TABLE quota_default_limits (
				pool_id    INTEGER NOT NULL,
				id_type    TEXT NOT NULL,
				quota_type TEXT NOT NULL,
				value      INTEGER NOT NULL,
				PRIMARY KEY (pool_id, id_type, quota_type)
			)`,
			`CREATE TABLE quota_limits (
				quota_id   INTEGER NOT NULL,
				id_type    TEXT NOT NULL,
				quota_type TEXT NOT NULL,
				pool_id    INTEGER NOT NULL,
				value      INTEGER NOT NULL,
				PRIMARY KEY (quota_id, id_type, quota_type, pool_id)
			)`,
			`CREATE TABLE quota_usage (
				quota_id   INTEGER NOT NULL,
				id_type    TEXT NOT NULL,
				quota_type TEXT NOT NULL,
				target_id  INTEGER NOT NULL,
				value      INTEGER NOT NULL,
				PRIMARY KEY (quota_id, id_type, quota_type, target_id)
			)`,
		},
	},
}

func latestSchemaVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].version
}

func (s *Store) migrate() error {
	var current int
	if err := s.writeDB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return mgmterr.New(mgmterr.Internal, fmt.Errorf("read schema version: %w", err))
	}

	latest := latestSchemaVersion()
	if current == latest {
		return nil
	}
	if current > latest {
		return mgmterr.Newf(mgmterr.Internal,
			"database schema version %d is newer than this binary supports (max %d)", current, latest)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.writeDB.Begin()
	if err != nil {
		return mgmterr.New(mgmterr.Internal, fmt.Errorf("begin migration %d: %w", m.version, err))
	}
	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return mgmterr.New(mgmterr.Internal, fmt.Errorf("apply migration %d: %w", m.version, err))
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		tx.Rollback()
		return mgmterr.New(mgmterr.Internal, fmt.Errorf("set schema version %d: %w", m.version, err))
	}
	if err := tx.Commit(); err != nil {
		return mgmterr.New(mgmterr.Internal, fmt.Errorf("commit migration %d: %w", m.version, err))
	}
	return nil
}

// SchemaVersion reports the database's current schema version, for the
// standalone upgrade command to report before/after an upgrade.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	if err := s.writeDB.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, mgmterr.New(mgmterr.Internal, err)
	}
	return v, nil
}

// BackupFile copies the database file at path to a timestamped sibling
// file before an upgrade applies migrations, so a failed or unwanted
// upgrade can be rolled back by restoring the copy.
func BackupFile(path string) (string, error) {
	dst := fmt.Sprintf("%s.bak.%s", path, time.Now().UTC().Format("20060102T150405Z"))

	src, err := os.Open(path)
	if err != nil {
		return "", mgmterr.New(mgmterr.Internal, fmt.Errorf("open database for backup: %w", err))
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", mgmterr.New(mgmterr.Internal, fmt.Errorf("create backup file: %w", err))
	}
	defer out.Close()

	if _, err := out.ReadFrom(src); err != nil {
		return "", mgmterr.New(mgmterr.Internal, fmt.Errorf("copy database to backup: %w", err))
	}
	return dst, nil
}
