package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meeplelab/parlor/game/serial"
	"github.com/meeplelab/parlor/game/session"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS games (
	id          TEXT PRIMARY KEY,
	game_type   TEXT NOT NULL,
	record      TEXT NOT NULL,
	complete    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	last_active INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS actions (
	game_id TEXT NOT NULL,
	idx     INTEGER NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (game_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_games_last_active ON games(last_active);
`

// SQLiteBackend stores session images in a SQLite database: one metadata row
// per game plus an append-only actions table. Saves are idempotent; an
// unchanged history writes nothing to the log, and a truncated one (undo,
// rewind, restart) trims the stored tail before new actions land.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent sessions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) SaveRecord(rec *session.PersistRecord) error {
	meta := *rec
	meta.History = nil // the actions table is authoritative for history
	metaJSON, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshal game %s: %w", rec.ID, err)
	}

	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	complete := 0
	if rec.Complete {
		complete = 1
	}
	_, err = tx.Exec(`
		INSERT INTO games (id, game_type, record, complete, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record = excluded.record,
			complete = excluded.complete,
			last_active = excluded.last_active`,
		rec.ID, rec.GameType, string(metaJSON), complete, rec.CreatedAtMS, rec.LastActiveMS)
	if err != nil {
		return fmt.Errorf("upsert game %s: %w", rec.ID, err)
	}

	var stored int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM actions WHERE game_id = ?`, rec.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count actions for %s: %w", rec.ID, err)
	}
	if stored > len(rec.History) {
		if _, err := tx.Exec(`DELETE FROM actions WHERE game_id = ? AND idx >= ?`, rec.ID, len(rec.History)); err != nil {
			return fmt.Errorf("trim actions for %s: %w", rec.ID, err)
		}
		stored = len(rec.History)
	}
	for i := stored; i < len(rec.History); i++ {
		payload, err := json.Marshal(rec.History[i])
		if err != nil {
			return fmt.Errorf("marshal action %d of %s: %w", i, rec.ID, err)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO actions (game_id, idx, payload) VALUES (?, ?, ?)`,
			rec.ID, i, string(payload)); err != nil {
			return fmt.Errorf("append action %d of %s: %w", i, rec.ID, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) LoadRecord(id string) (*session.PersistRecord, error) {
	var metaJSON string
	err := b.db.QueryRow(`SELECT record FROM games WHERE id = ?`, id).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return nil, session.NewError(session.CodeNotFound, "no game %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	var rec session.PersistRecord
	if err := json.Unmarshal([]byte(metaJSON), &rec); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}

	rows, err := b.db.Query(`SELECT payload FROM actions WHERE game_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("load actions for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a serial.Action
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("decode action for %s: %w", id, err)
		}
		rec.History = append(rec.History, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *SQLiteBackend) DeleteRecord(id string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM actions WHERE game_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM games WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLiteBackend) ListIDs() ([]string, error) {
	rows, err := b.db.Query(`SELECT id FROM games ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
