package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/gencanvas/internal/types"
)

const canvasSchema = `
CREATE TABLE IF NOT EXISTS canvases (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	saved_at   TEXT NOT NULL,
	node_count INTEGER NOT NULL,
	data       BLOB NOT NULL
)`

// SQLiteCanvasStore keeps canvas snapshots as JSON documents in a SQLite
// table, one row per canvas.
type SQLiteCanvasStore struct {
	conn *sql.DB
	Path string
}

// OpenSQLiteCanvasStore opens a SQLite database with WAL mode and foreign
// keys enabled and creates the canvas table if needed.
func OpenSQLiteCanvasStore(path string) (*SQLiteCanvasStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec(canvasSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteCanvasStore{conn: conn, Path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteCanvasStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteCanvasStore) Save(ctx context.Context, snap *types.CanvasSnapshot) error {
	if snap.CanvasID == "" {
		return errors.New("save canvas: empty canvas id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal canvas: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO canvases (id, version, saved_at, node_count, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			saved_at = excluded.saved_at,
			node_count = excluded.node_count,
			data = excluded.data`,
		string(snap.CanvasID),
		snap.Version,
		snap.SavedAt.UTC().Format(time.RFC3339Nano),
		len(snap.Nodes),
		data,
	)
	if err != nil {
		return fmt.Errorf("upsert canvas: %w", err)
	}
	return nil
}

func (s *SQLiteCanvasStore) Load(ctx context.Context, id types.CanvasID) (*types.CanvasSnapshot, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM canvases WHERE id = ?`, string(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load canvas %s: %w", id, ErrCanvasNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query canvas: %w", err)
	}
	var snap types.CanvasSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal canvas: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteCanvasStore) List(ctx context.Context) ([]types.CanvasID, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM canvases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query canvases: %w", err)
	}
	defer rows.Close()

	ids := []types.CanvasID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan canvas id: %w", err)
		}
		ids = append(ids, types.CanvasID(id))
	}
	return ids, rows.Err()
}
