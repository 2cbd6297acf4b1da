// Package workspace stores scan results per workspace and protocol.
//
// Each protocol gets its own SQLite database at
// <db dir>/<workspace>/<protocol>.db.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Host is one reachable service recorded by a scan.
type Host struct {
	IP        string
	Hostname  string
	Port      int
	Banner    string
	FirstSeen time.Time
	LastSeen  time.Time
}

// Store manages one workspace/protocol database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the database for protocol inside workspace.
func Open(dbDir, workspace, protocol string) (*Store, error) {
	for _, name := range []string{workspace, protocol} {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("invalid workspace path component %q", name)
		}
	}
	dbPath := filepath.Join(dbDir, workspace, protocol+".db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Scanner workers share one connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS hosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip TEXT NOT NULL,
		hostname TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL,
		banner TEXT NOT NULL DEFAULT '',
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		UNIQUE(ip, port)
	);`
	_, err := s.db.Exec(schema)
	return err
}

// AddHost records h, refreshing LastSeen (and a non-empty hostname or banner)
// if the ip/port pair is already known.
func (s *Store) AddHost(ctx context.Context, h Host) error {
	if h.IP == "" {
		return errors.New("host has no address")
	}
	seen := h.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosts (ip, hostname, port, banner, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip, port) DO UPDATE SET
			hostname = CASE WHEN excluded.hostname != '' THEN excluded.hostname ELSE hostname END,
			banner = CASE WHEN excluded.banner != '' THEN excluded.banner ELSE banner END,
			last_seen = excluded.last_seen`,
		h.IP, h.Hostname, h.Port, h.Banner, seen.Unix(), seen.Unix())
	if err != nil {
		return fmt.Errorf("failed to record host %s:%d: %w", h.IP, h.Port, err)
	}
	return nil
}

// Hosts lists recorded hosts ordered by address and port.
func (s *Store) Hosts(ctx context.Context) ([]Host, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ip, hostname, port, banner, first_seen, last_seen FROM hosts ORDER BY ip, port`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []Host
	for rows.Next() {
		var h Host
		var first, last int64
		if err := rows.Scan(&h.IP, &h.Hostname, &h.Port, &h.Banner, &first, &last); err != nil {
			return nil, err
		}
		h.FirstSeen = time.Unix(first, 0)
		h.LastSeen = time.Unix(last, 0)
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}
