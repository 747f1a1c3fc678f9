package receipt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/homestar-labs/homestar/ipld"
)

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	cid        TEXT PRIMARY KEY,
	ran        TEXT NOT NULL,
	dag_cbor   BLOB NOT NULL,
	version    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS receipts_ran ON receipts (ran);
CREATE TABLE IF NOT EXISTS workflows (
	cid          TEXT PRIMARY KEY,
	created_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS workflows_receipts (
	workflow_cid TEXT NOT NULL,
	receipt_cid  TEXT NOT NULL,
	PRIMARY KEY (workflow_cid, receipt_cid)
);
`

// SQLiteStore is the production Store, backed by the pure-Go modernc.org/sqlite
// driver. Transient failures (locked database, disk
// I/O) are retried with bounded exponential backoff before being surfaced
// as StoreUnavailableError.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store at
// path and applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("receipt: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, avoid SQLITE_BUSY storms
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("receipt: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) retry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) // 3 attempts total
	err := backoff.Retry(func() error {
		err := fn()
		if errors.Is(err, sql.ErrNoRows) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &StoreUnavailableError{Op: op, Err: err}
	}
	return err
}

func (s *SQLiteStore) FindReceipt(ctx context.Context, taskCID ipld.Cid) (*Receipt, error) {
	var dagCBOR []byte
	err := s.retry(ctx, "FindReceipt", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT dag_cbor FROM receipts WHERE ran = ?`, taskCID.String())
		return row.Scan(&dagCBOR)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, verr := Verify(dagCBOR, taskCID)
	if verr != nil {
		return nil, fmt.Errorf("receipt: stored row for %s corrupt: %w", taskCID, verr)
	}
	return &r, nil
}

func (s *SQLiteStore) PutReceipt(ctx context.Context, r Receipt) error {
	dagCBOR, err := r.Encode()
	if err != nil {
		return fmt.Errorf("receipt: encode: %w", err)
	}
	receiptCID, err := r.CID()
	if err != nil {
		return fmt.Errorf("receipt: cid: %w", err)
	}
	return s.retry(ctx, "PutReceipt", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO receipts (cid, ran, dag_cbor, version, created_at) VALUES (?, ?, ?, ?, ?)`,
			receiptCID.String(), r.Ran.String(), dagCBOR, r.Version, time.Now().UTC())
		return err
	})
}

func (s *SQLiteStore) LinkReceipt(ctx context.Context, workflowCID, receiptCID ipld.Cid) error {
	return s.retry(ctx, "LinkReceipt", func() error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO workflows (cid, created_at) VALUES (?, ?)`,
			workflowCID.String(), time.Now().UTC()); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO workflows_receipts (workflow_cid, receipt_cid) VALUES (?, ?)`,
			workflowCID.String(), receiptCID.String())
		return err
	})
}

func (s *SQLiteStore) MarkWorkflowComplete(ctx context.Context, workflowCID ipld.Cid, at time.Time) error {
	return s.retry(ctx, "MarkWorkflowComplete", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO workflows (cid, created_at, completed_at) VALUES (?, ?, ?)
			 ON CONFLICT(cid) DO UPDATE SET completed_at = excluded.completed_at`,
			workflowCID.String(), at.UTC(), at.UTC())
		return err
	})
}

var _ Store = (*SQLiteStore)(nil)
