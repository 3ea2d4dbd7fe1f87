package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"skippy/internal/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	class TEXT PRIMARY KEY,
	hash  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS coverage (
	test  TEXT NOT NULL,
	class TEXT NOT NULL,
	PRIMARY KEY (test, class)
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaCommitPending = "commit_pending"

// SQLiteState implements State on an embedded SQLite database stored as
// skippy.db inside the state directory.
//
// Each registry commit and each coverage record is a single transaction, which
// gives the same per-unit atomicity as the file backend.
type SQLiteState struct {
	dir    string
	db     *sql.DB
	logger *zap.Logger
}

var _ State = (*SQLiteState)(nil)

// OpenSQLiteState opens (creating if needed) the database in dir.
func OpenSQLiteState(dir string, logger *zap.Logger) (*SQLiteState, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := "file:" + filepath.Join(dir, DatabaseFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state db: %w", err)
	}
	return &SQLiteState{dir: dir, db: db, logger: logger}, nil
}

// Dir implements State.Dir.
func (s *SQLiteState) Dir() string { return s.dir }

// LoadRegistry implements RegistryStore.LoadRegistry.
func (s *SQLiteState) LoadRegistry() (core.Fingerprints, error) {
	rows, err := s.db.Query(`SELECT class, hash FROM fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	fp := make(core.Fingerprints)
	for rows.Next() {
		var class, hash string
		if err := rows.Scan(&class, &hash); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		if !validClassName(class) || !isMD5Hex(hash) {
			s.logger.Warn("ignoring unreadable hash registry", zap.String("class", class))
			return core.Fingerprints{}, nil
		}
		fp[core.ClassName(class)] = core.Hash(hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return fp, nil
}

// CommitRegistry implements RegistryStore.CommitRegistry.
func (s *SQLiteState) CommitRegistry(fp core.Fingerprints) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM fingerprints`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`INSERT INTO fingerprints (class, hash) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range fp.Sorted() {
			if _, err := stmt.Exec(string(f.Class), string(f.Hash)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCoverage implements CoverageStore.LoadCoverage.
func (s *SQLiteState) LoadCoverage(test core.ClassName) (core.CoverageSet, bool, error) {
	if err := validateTest(test); err != nil {
		return nil, false, err
	}
	rows, err := s.db.Query(`SELECT class FROM coverage WHERE test = ?`, string(test))
	if err != nil {
		return nil, false, fmt.Errorf("query coverage for %s: %w", test, err)
	}
	defer rows.Close()

	set := make(core.CoverageSet)
	for rows.Next() {
		var class string
		if err := rows.Scan(&class); err != nil {
			return nil, false, fmt.Errorf("scan coverage for %s: %w", test, err)
		}
		set.Add(core.ClassName(class))
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate coverage for %s: %w", test, err)
	}
	if len(set) == 0 {
		return nil, false, nil
	}
	return set, true, nil
}

// LoadAllCoverage implements CoverageStore.LoadAllCoverage.
func (s *SQLiteState) LoadAllCoverage() (map[core.ClassName]core.CoverageSet, error) {
	rows, err := s.db.Query(`SELECT test, class FROM coverage ORDER BY test, class`)
	if err != nil {
		return nil, fmt.Errorf("query coverage: %w", err)
	}
	defer rows.Close()

	out := make(map[core.ClassName]core.CoverageSet)
	for rows.Next() {
		var test, class string
		if err := rows.Scan(&test, &class); err != nil {
			return nil, fmt.Errorf("scan coverage: %w", err)
		}
		set, ok := out[core.ClassName(test)]
		if !ok {
			set = make(core.CoverageSet)
			out[core.ClassName(test)] = set
		}
		set.Add(core.ClassName(class))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coverage: %w", err)
	}
	return out, nil
}

// RecordCoverage implements CoverageStore.RecordCoverage.
func (s *SQLiteState) RecordCoverage(test core.ClassName, set core.CoverageSet) error {
	if err := validateTest(test); err != nil {
		return err
	}
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM coverage WHERE test = ?`, string(test)); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`INSERT INTO coverage (test, class) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range set.With(test).Sorted() {
			if _, err := stmt.Exec(string(test), string(c)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveCoverage implements CoverageStore.RemoveCoverage.
func (s *SQLiteState) RemoveCoverage(test core.ClassName) error {
	if _, err := s.db.Exec(`DELETE FROM coverage WHERE test = ?`, string(test)); err != nil {
		return fmt.Errorf("remove coverage for %s: %w", test, err)
	}
	return nil
}

// BeginCommit implements State.BeginCommit.
func (s *SQLiteState) BeginCommit() error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, '1')`, metaCommitPending)
	if err != nil {
		return fmt.Errorf("write commit marker: %w", err)
	}
	return nil
}

// FinishCommit implements State.FinishCommit.
func (s *SQLiteState) FinishCommit() error {
	if _, err := s.db.Exec(`DELETE FROM meta WHERE key = ?`, metaCommitPending); err != nil {
		return fmt.Errorf("remove commit marker: %w", err)
	}
	return nil
}

// CommitPending implements State.CommitPending.
func (s *SQLiteState) CommitPending() (bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaCommitPending).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read commit marker: %w", err)
	}
	return true, nil
}

// ClearAll implements State.ClearAll.
//
// The database file stays open; its tables are emptied and the flat files
// skippy owns (decisions.log, stray records) are removed.
func (s *SQLiteState) ClearAll() error {
	err := s.inTx(func(tx *sql.Tx) error {
		for _, table := range []string{"fingerprints", "coverage", "meta"} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear state db: %w", err)
	}

	if err := clearDir(s.dir); err != nil {
		return fmt.Errorf("clear state dir: %w", err)
	}
	return nil
}

// Close implements State.Close.
func (s *SQLiteState) Close() error {
	return s.db.Close()
}

func (s *SQLiteState) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
