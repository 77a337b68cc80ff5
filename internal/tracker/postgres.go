package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/rostersync/internal/model"
)

// PostgresPersister はスナップショットをtracker_snapshotsテーブルの1行として保存する。
// document列（JSONB）を毎回丸ごと上書きするため、ファイル版と同じく行単位の耐久性は持たない。
type PostgresPersister struct {
	db   *sql.DB
	name string
}

// NewPostgresPersister はPostgresPersisterを生成する。
// nameはトラッカーを識別するキー。
func NewPostgresPersister(db *sql.DB, name string) *PostgresPersister {
	return &PostgresPersister{db: db, name: name}
}

// Read は指定名のスナップショットを読み込む。
func (p *PostgresPersister) Read(ctx context.Context) (*model.Snapshot, error) {
	var document []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT document FROM tracker_snapshots WHERE name = $1`,
		p.name,
	).Scan(&document)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker snapshot: %w", err)
	}

	snapshot, err := decodeSnapshot(document)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tracker snapshot %s: %w", p.name, err)
	}
	return snapshot, nil
}

// Write はスナップショットをUPSERTする。
func (p *PostgresPersister) Write(ctx context.Context, snapshot *model.Snapshot) error {
	document, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal tracker: %w", err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO tracker_snapshots (name, document, created_at, updated_at)
		 VALUES ($1, $2::jsonb, $3, now())
		 ON CONFLICT (name) DO UPDATE
		 SET document = EXCLUDED.document, updated_at = now()`,
		p.name, string(document), snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write tracker snapshot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Persister = (*PostgresPersister)(nil)
