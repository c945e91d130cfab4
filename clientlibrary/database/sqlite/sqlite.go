/*
 * Copyright (c) 2018 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/database"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/database/models"
)

const (
	createTableStmt = `CREATE TABLE IF NOT EXISTS couchhouse_checkpoints (
	feed_id    TEXT PRIMARY KEY,
	last_seq   TEXT NOT NULL,
	worker_id  TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
)`

	upsertStmt = `INSERT INTO couchhouse_checkpoints (feed_id, last_seq, worker_id, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (feed_id) DO UPDATE SET
	last_seq = excluded.last_seq,
	worker_id = excluded.worker_id,
	updated_at = excluded.updated_at`

	selectStmt = `SELECT feed_id, last_seq, worker_id, updated_at FROM couchhouse_checkpoints WHERE feed_id = ?`
	deleteStmt = `DELETE FROM couchhouse_checkpoints WHERE feed_id = ?`
)

// Store is a database.CheckpointDatastore kept in a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ database.CheckpointDatastore = (*Store)(nil)

// Open opens, and creates when needed, the checkpoint database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// SQLite allows a single writer, serialise access through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createTableStmt); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating checkpoint table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetCheckpoint(ctx context.Context, feedID string) (*models.Checkpoint, error) {
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, selectStmt, feedID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, upsertStmt, cp.FeedID, cp.SequenceNumber, cp.WorkerID, cp.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) RemoveCheckpoint(ctx context.Context, feedID string) error {
	_, err := s.db.ExecContext(ctx, deleteStmt, feedID)
	return err
}

func scanCheckpoint(row *sql.Row) (*models.Checkpoint, error) {
	var (
		cp        models.Checkpoint
		updatedAt string
	)
	if err := row.Scan(&cp.FeedID, &cp.SequenceNumber, &cp.WorkerID, &updatedAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at of feed %s: %w", cp.FeedID, err)
	}
	cp.UpdatedAt = t
	return &cp, nil
}
