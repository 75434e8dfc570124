package store

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/tape/vm"
	"github.com/chazu/tape/vm/dist"
)

var log = commonlog.GetLogger("tape.store")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) the cache database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Get returns the cached program for key. Rows that no longer decode are
// dropped and reported as a miss.
func (s *SQLiteStore) Get(key [32]byte) (*vm.Program, bool, error) {
	id := hex.EncodeToString(key[:])

	var data []byte
	err := s.db.QueryRow(`SELECT image FROM programs WHERE source_hash = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying program: %w", err)
	}

	img, err := dist.UnmarshalImage(data)
	if err != nil {
		log.Warningf("discarding unreadable cache entry %s: %v", id[:12], err)
		if _, derr := s.db.Exec(`DELETE FROM programs WHERE source_hash = ?`, id); derr != nil {
			return nil, false, fmt.Errorf("deleting corrupt entry: %w", derr)
		}
		return nil, false, nil
	}
	if img.SourceHash != key {
		log.Warningf("cache entry %s holds image for another source", id[:12])
		return nil, false, nil
	}

	if _, err := s.db.Exec(`UPDATE programs SET hits = hits + 1 WHERE source_hash = ?`, id); err != nil {
		return nil, false, fmt.Errorf("recording hit: %w", err)
	}
	return img.Program(), true, nil
}

// Put stores img, replacing any previous entry for the same source.
func (s *SQLiteStore) Put(img *dist.Image) error {
	data, err := dist.MarshalImage(img)
	if err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO programs (source_hash, code_hash, image, created_at, hits)
		VALUES (?, ?, ?, ?, 0)
	`,
		hex.EncodeToString(img.SourceHash[:]),
		hex.EncodeToString(img.CodeHash[:]),
		data,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting program: %w", err)
	}
	return nil
}

// Stats reports cache size and hit count.
func (s *SQLiteStore) Stats() (Stats, error) {
	var st Stats
	var hits sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), SUM(hits) FROM programs`).Scan(&st.Entries, &hits)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	st.Hits = int(hits.Int64)
	return st, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
