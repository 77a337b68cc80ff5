package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hitoshi/rostersync/internal/model"
)

// FilePersister はスナップショットをローカルファイルのJSONドキュメントとして保存する。
// 書き込みはファイル全体の上書きで、クラッシュ時のアトミック性は保証しない。
type FilePersister struct {
	path string
}

// NewFilePersister はFilePersisterを生成する。
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Read はJSONファイルからスナップショットを読み込む。
func (f *FilePersister) Read(_ context.Context) (*model.Snapshot, error) {
	// #nosec G304 -- path is operator supplied configuration
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read tracker file: %w", err)
	}

	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tracker file %s: %w", f.path, err)
	}
	return snapshot, nil
}

// Write はスナップショットをJSONファイルに書き込む。
func (f *FilePersister) Write(_ context.Context, snapshot *model.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("failed to create tracker directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tracker: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write tracker file: %w", err)
	}
	return nil
}

// decodeSnapshot はJSONドキュメントをSnapshotに変換し、ロスター順序との整合性を検証する。
func decodeSnapshot(data []byte) (*model.Snapshot, error) {
	var snapshot model.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Entries == nil {
		snapshot.Entries = make(map[string]model.TrackerRecord)
	}
	for _, id := range snapshot.Roster {
		if _, ok := snapshot.Entries[id]; !ok {
			return nil, fmt.Errorf("roster identity %q has no entry", id)
		}
	}
	if len(snapshot.Entries) != len(snapshot.Roster) {
		return nil, fmt.Errorf("entries (%d) and roster (%d) disagree", len(snapshot.Entries), len(snapshot.Roster))
	}
	return &snapshot, nil
}

var _ Persister = (*FilePersister)(nil)
