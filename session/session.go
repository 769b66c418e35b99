/*
Package session saves conversion sessions to an SQLite database.

A session is a named set of frames and cycles plus the config lines of the
filter chain. Frame images are stored as PNG and shared between sessions
when they are identical.
*/
package session

import (
	"bytes"
	"crypto/sha1"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/bodgit/bamconv/frame"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when loading a session that doesn't exist.
var ErrNotFound = errors.New("session: not found")

// Session is what is saved.
type Session struct {
	Set *frame.Set
	// Filters holds the config line of every filter in chain order.
	Filters []string
	// Active is the index of the active output filter, -1 for the default.
	Active int
}

// DB is a session database.
type DB struct {
	db *sql.DB
}

var schema = []string{
	"CREATE TABLE IF NOT EXISTS image (id INTEGER PRIMARY KEY NOT NULL, sha1 TEXT NOT NULL UNIQUE, png BLOB NOT NULL)",
	"CREATE TABLE IF NOT EXISTS session (id INTEGER PRIMARY KEY NOT NULL, name TEXT NOT NULL UNIQUE, active INTEGER NOT NULL)",
	"CREATE TABLE IF NOT EXISTS session_frame (session_id INTEGER NOT NULL, position INTEGER NOT NULL, image_id INTEGER NOT NULL, cx INTEGER NOT NULL, cy INTEGER NOT NULL, PRIMARY KEY(session_id, position), FOREIGN KEY(session_id) REFERENCES session(id) ON DELETE CASCADE, FOREIGN KEY(image_id) REFERENCES image(id))",
	"CREATE TABLE IF NOT EXISTS frame_option (session_id INTEGER NOT NULL, frame INTEGER NOT NULL, name TEXT NOT NULL, value TEXT NOT NULL, PRIMARY KEY(session_id, frame, name), FOREIGN KEY(session_id) REFERENCES session(id) ON DELETE CASCADE)",
	"CREATE TABLE IF NOT EXISTS cycle_entry (session_id INTEGER NOT NULL, cycle INTEGER NOT NULL, position INTEGER NOT NULL, frame INTEGER NOT NULL, PRIMARY KEY(session_id, cycle, position), FOREIGN KEY(session_id) REFERENCES session(id) ON DELETE CASCADE)",
	"CREATE TABLE IF NOT EXISTS cycle_count (session_id INTEGER NOT NULL, cycles INTEGER NOT NULL, FOREIGN KEY(session_id) REFERENCES session(id) ON DELETE CASCADE)",
	"CREATE TABLE IF NOT EXISTS chain_filter (session_id INTEGER NOT NULL, position INTEGER NOT NULL, config TEXT NOT NULL, PRIMARY KEY(session_id, position), FOREIGN KEY(session_id) REFERENCES session(id) ON DELETE CASCADE)",
}

// Open opens or creates the database in file.
func Open(file string) (*DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	for _, s := range schema {
		if _, err = db.Exec(s); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &DB{
		db: db,
	}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

func addImage(tx *sql.Tx, m image.Image) (int64, error) {
	b := new(bytes.Buffer)
	if err := png.Encode(b, m); err != nil {
		return 0, err
	}
	sha := fmt.Sprintf("%X", sha1.Sum(b.Bytes()))

	var id int64
	switch err := tx.QueryRow("SELECT id FROM image WHERE sha1 = ?", sha).Scan(&id); err {
	case sql.ErrNoRows:
		result, err := tx.Exec("INSERT INTO image (sha1, png) VALUES (?, ?)", sha, b.Bytes())
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	case nil:
		return id, nil
	default:
		return 0, err
	}
}

// Save stores s under name, replacing any session with the same name.
func (db *DB) Save(name string, s *Session) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM session WHERE name = ?", name); err != nil {
		return err
	}

	result, err := tx.Exec("INSERT INTO session (name, active) VALUES (?, ?)", name, s.Active)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	for i, f := range s.Set.Frames {
		img, err := addImage(tx, f.Image)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if _, err := tx.Exec("INSERT INTO session_frame (session_id, position, image_id, cx, cy) VALUES (?, ?, ?, ?, ?)", id, i, img, f.Center.X, f.Center.Y); err != nil {
			return err
		}
		for k, v := range f.Options {
			if _, err := tx.Exec("INSERT INTO frame_option (session_id, frame, name, value) VALUES (?, ?, ?, ?)", id, i, k, v); err != nil {
				return err
			}
		}
	}

	// Empty cycles have no rows so the count is kept separately
	if _, err := tx.Exec("INSERT INTO cycle_count (session_id, cycles) VALUES (?, ?)", id, len(s.Set.Cycles)); err != nil {
		return err
	}
	for ci, c := range s.Set.Cycles {
		for pos, v := range c {
			if _, err := tx.Exec("INSERT INTO cycle_entry (session_id, cycle, position, frame) VALUES (?, ?, ?, ?)", id, ci, pos, v); err != nil {
				return err
			}
		}
	}

	for i, l := range s.Filters {
		if _, err := tx.Exec("INSERT INTO chain_filter (session_id, position, config) VALUES (?, ?, ?)", id, i, l); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func decodeImage(b []byte) (image.Image, error) {
	m, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if _, ok := m.(*image.Paletted); ok {
		return m, nil
	}
	return frame.ToNRGBA(m), nil
}

// Load returns the session saved under name.
func (db *DB) Load(name string) (*Session, error) {
	var id int64
	s := &Session{Set: new(frame.Set)}
	switch err := db.db.QueryRow("SELECT id, active FROM session WHERE name = ?", name).Scan(&id, &s.Active); err {
	case sql.ErrNoRows:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	case nil:
	default:
		return nil, err
	}

	if err := db.loadFrames(id, s.Set); err != nil {
		return nil, err
	}
	if err := db.loadCycles(id, s.Set); err != nil {
		return nil, err
	}

	rows, err := db.db.Query("SELECT config FROM chain_filter WHERE session_id = ? ORDER BY position", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		s.Filters = append(s.Filters, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.Set.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (db *DB) loadFrames(id int64, s *frame.Set) error {
	rows, err := db.db.Query("SELECT f.cx, f.cy, i.png FROM session_frame AS f JOIN image AS i ON f.image_id = i.id WHERE f.session_id = ? ORDER BY f.position", id)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cx, cy int
		var b []byte
		if err := rows.Scan(&cx, &cy, &b); err != nil {
			return err
		}
		m, err := decodeImage(b)
		if err != nil {
			return fmt.Errorf("frame %d: %w", len(s.Frames), err)
		}
		s.Frames = append(s.Frames, frame.New(m, cx, cy))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.db.Query("SELECT frame, name, value FROM frame_option WHERE session_id = ?", id)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var i int
		var k, v string
		if err := rows.Scan(&i, &k, &v); err != nil {
			return err
		}
		if i >= 0 && i < len(s.Frames) {
			s.Frames[i].Options[k] = v
		}
	}
	return rows.Err()
}

func (db *DB) loadCycles(id int64, s *frame.Set) error {
	var n int
	if err := db.db.QueryRow("SELECT cycles FROM cycle_count WHERE session_id = ?", id).Scan(&n); err != nil {
		return err
	}
	s.Cycles = make([]frame.Cycle, n)

	rows, err := db.db.Query("SELECT cycle, frame FROM cycle_entry WHERE session_id = ? ORDER BY cycle, position", id)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c, v int
		if err := rows.Scan(&c, &v); err != nil {
			return err
		}
		if c < 0 || c >= n {
			return fmt.Errorf("%w: cycle %d", frame.ErrIndexOutOfRange, c)
		}
		s.Cycles[c] = append(s.Cycles[c], v)
	}
	return rows.Err()
}

// Names returns the names of all saved sessions.
func (db *DB) Names() ([]string, error) {
	rows, err := db.db.Query("SELECT name FROM session ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Delete removes the named session. Images no other session uses are
// removed too.
func (db *DB) Delete(name string) error {
	result, err := db.db.Exec("DELETE FROM session WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	_, err = db.db.Exec("DELETE FROM image WHERE id NOT IN (SELECT image_id FROM session_frame)")
	return err
}
