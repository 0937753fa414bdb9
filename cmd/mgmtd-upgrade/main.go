// Command mgmtd-upgrade applies pending schema migrations to an
// existing mgmtd database file, backing up the file first unless
// --dry-run is given. It is the schema-version analogue of the
// teacher's warren-migrate tool: same backup-then-mutate shape, applied
// against a SQLite user_version counter instead of a bucket rename.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/beegfs-io/mgmtd/pkg/store"
)

func main() {
	dataFile := flag.String("data-file", "/var/lib/beegfs/mgmtd.sqlite", "Path to the mgmtd database file")
	dryRun := flag.Bool("dry-run", false, "Report the pending schema version change without applying it")
	backup := flag.Bool("backup", true, "Back up the database file before applying migrations")
	flag.Parse()

	if _, err := os.Stat(*dataFile); os.IsNotExist(err) {
		log.Printf("%s does not exist; store.Open will create a fresh database at the latest schema version", *dataFile)
		if *dryRun {
			return
		}
		s, err := store.Open(*dataFile, zerolog.Nop())
		if err != nil {
			log.Fatalf("create database: %v", err)
		}
		s.Close()
		return
	}

	before, err := currentSchemaVersion(*dataFile)
	if err != nil {
		log.Fatalf("read current schema version: %v", err)
	}
	log.Printf("current schema version: %d", before)

	if *dryRun {
		log.Printf("dry-run: not backing up or applying migrations")
		return
	}

	if *backup {
		dst, err := store.BackupFile(*dataFile)
		if err != nil {
			log.Fatalf("back up database: %v", err)
		}
		log.Printf("backed up database to %s", dst)
	}

	s, err := store.Open(*dataFile, zerolog.Nop())
	if err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	defer s.Close()

	after, err := s.SchemaVersion()
	if err != nil {
		log.Fatalf("read schema version after upgrade: %v", err)
	}

	if after == before {
		log.Printf("schema already at version %d, nothing to do", after)
		return
	}
	log.Printf("upgraded schema from version %d to %d", before, after)
}

// currentSchemaVersion reads the database's PRAGMA user_version without
// going through store.Open, since Open itself applies any pending
// migrations immediately: the upgrade tool needs the pre-upgrade number
// to report a meaningful before/after.
func currentSchemaVersion(path string) (int, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=query_only(1)", path))
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
