// Package tracker はロスター処理状況の永続化と次の処理対象の選択を提供する。
// トラッカーは処理進捗の唯一の情報源であり、更新はCommitのみで行う。
package tracker

import (
	"context"
	"errors"

	"github.com/hitoshi/rostersync/internal/model"
)

// ErrNotFound は永続化先にスナップショットが存在しないことを示す。
var ErrNotFound = errors.New("tracker snapshot not found")

// Persister はスナップショットの永続化インターフェース。
// Writeは常にドキュメント全体を上書きする。
type Persister interface {
	// Read は永続化済みのスナップショットを読み込む。存在しない場合はErrNotFoundを返す。
	Read(ctx context.Context) (*model.Snapshot, error)

	// Write はスナップショット全体を書き込む。
	Write(ctx context.Context, snapshot *model.Snapshot) error
}
