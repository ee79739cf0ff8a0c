// Package index persists what the archive already holds, so re-runs never
// re-store a message.
package index

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Index is a durable key-value store carrying two keyspaces in one table:
// message header digests mapping to archive locations, and folder names
// mapping to the highest fully processed UID. A 64-byte binary digest will
// not collide with a human-readable folder name in practice, but that is a
// convention, not a structural guarantee; callers must not invent folder
// names that match a digest byte-for-byte.
//
// Every write is flushed to disk before the call returns.
type Index struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key   BLOB NOT NULL PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (creating if necessary) the index database at path.
func Open(path string) (*Index, error) {
	busyTimeout := int(5*time.Second) / int(time.Millisecond)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=FULL", path, busyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open index at %s", path)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not create index schema")
	}

	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Has reports whether a message with this header digest was archived before.
func (ix *Index) Has(digest []byte) (bool, error) {
	var one int
	err := ix.db.QueryRow(`SELECT 1 FROM entries WHERE key = ?`, digest).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "index digest lookup failed")
	}
	return true, nil
}

// Location returns the archive location recorded for a digest.
func (ix *Index) Location(digest []byte) (string, bool, error) {
	var location string
	err := ix.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, digest).Scan(&location)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "index location lookup failed")
	}
	return location, true, nil
}

// Put records that the message with this digest now lives at location. Only
// call this after the archive write has been acknowledged; the absence of a
// record is the sole signal that a message still needs archiving.
func (ix *Index) Put(digest []byte, location string) error {
	_, err := ix.db.Exec(`INSERT OR REPLACE INTO entries (key, value) VALUES (?, ?)`, digest, location)
	return errors.Wrap(err, "index digest write failed")
}

// Watermark returns the highest fully processed UID for a folder, 0 if the
// folder was never synced.
func (ix *Index) Watermark(folder string) (uint32, error) {
	var value string
	err := ix.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, []byte(folder)).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "index watermark lookup failed")
	}

	uid, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "corrupt watermark for folder %q", folder)
	}
	return uint32(uid), nil
}

// SetWatermark advances the folder's watermark to uid. The watermark never
// regresses: a lower uid is ignored.
func (ix *Index) SetWatermark(folder string, uid uint32) error {
	_, err := ix.db.Exec(`
		INSERT INTO entries (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
		WHERE CAST(excluded.value AS INTEGER) > CAST(entries.value AS INTEGER)`,
		[]byte(folder), strconv.FormatUint(uint64(uid), 10))
	return errors.Wrap(err, "index watermark write failed")
}
