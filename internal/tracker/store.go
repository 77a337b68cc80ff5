package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/rostersync/internal/model"
)

var (
	// ErrExhausted は未処理のアイデンティティが残っていないことを示す。
	ErrExhausted = errors.New("tracker exhausted")
	// ErrNotLoaded はLoadまたはCreateの前にストアが使用されたことを示す。
	ErrNotLoaded = errors.New("tracker not loaded")
	// ErrUnknownIdentity はロスターに存在しないアイデンティティへのCommitを示す。
	ErrUnknownIdentity = errors.New("identity not in roster")
	// ErrAlreadyTerminal は処理済みレコードへの再Commitを示す。
	ErrAlreadyTerminal = errors.New("record already terminal")
)

// Store はスナップショットをメモリ上に保持し、Commitのたびに全体を永続化する。
// 単一ライター前提のためロックは持たない。並行書き込みには対応しない。
type Store struct {
	persister Persister
	logger    *slog.Logger

	snapshot        *model.Snapshot
	cursor          int
	persistFailures int
}

// NewStore はStoreを生成する。
func NewStore(persister Persister, logger *slog.Logger) *Store {
	return &Store{
		persister: persister,
		logger:    logger,
	}
}

// Load は永続化済みスナップショットを1回だけ読み込みキャッシュする。
// 読み込み済みの場合は何もしない。
func (s *Store) Load(ctx context.Context) error {
	if s.snapshot != nil {
		s.logger.Debug("トラッカーは読み込み済みです")
		return nil
	}

	snapshot, err := s.persister.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tracker: %w", err)
	}

	s.snapshot = snapshot
	s.cursor = 0
	s.logger.Info("トラッカーを読み込みました",
		slog.Int("roster_size", len(snapshot.Roster)),
		slog.Int("pending", snapshot.Pending()),
		slog.Time("created_at", snapshot.CreatedAt),
	)
	return nil
}

// Create は全レコードが未処理の新しいスナップショットを作成し永続化する。
// 既存のスナップショットは上書きされる。作成時の書き込み失敗はエラーとして返す。
func (s *Store) Create(ctx context.Context, roster []string, createdAt time.Time) error {
	snapshot := model.NewSnapshot(roster, createdAt)
	if err := s.persister.Write(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	s.snapshot = snapshot
	s.cursor = 0
	s.logger.Info("トラッカーを作成しました",
		slog.Int("roster_size", len(roster)),
	)
	return nil
}

// NextUnresolved はロスター順で最初の未処理アイデンティティを返す。
// 残っていない場合はErrExhaustedを返す。
func (s *Store) NextUnresolved() (string, error) {
	if s.snapshot == nil {
		return "", ErrNotLoaded
	}

	// レコードは未処理から処理済みへの一方向にしか遷移しないため、
	// カーソルより前に未処理レコードが現れることはない
	for s.cursor < len(s.snapshot.Roster) {
		id := s.snapshot.Roster[s.cursor]
		if !s.snapshot.Entries[id].IsTerminal() {
			return id, nil
		}
		s.cursor++
	}
	return "", ErrExhausted
}

// Commit はレコードをメモリ上で上書きし、スナップショット全体を永続化する。
// 永続化の失敗はログに記録して握りつぶし、メモリ上の状態はそのまま進める。
// この場合クラッシュすると当該レコードの結果は失われる。
func (s *Store) Commit(ctx context.Context, identity string, record model.TrackerRecord) error {
	if s.snapshot == nil {
		return ErrNotLoaded
	}
	current, ok := s.snapshot.Entries[identity]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}
	if current.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, identity)
	}
	if !record.IsTerminal() {
		return fmt.Errorf("record for %s has no update timestamp", identity)
	}

	s.snapshot.Entries[identity] = record

	if err := s.persister.Write(ctx, s.snapshot); err != nil {
		s.persistFailures++
		s.logger.Error("トラッカーの永続化に失敗しました",
			slog.String("identity", identity),
			slog.Int("persist_failures", s.persistFailures),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Snapshot は読み取り専用の利用者向けにスナップショットのコピーを返す。
func (s *Store) Snapshot() (*model.Snapshot, error) {
	if s.snapshot == nil {
		return nil, ErrNotLoaded
	}
	return s.snapshot.Clone(), nil
}

// Pending は未処理レコード数を返す。
func (s *Store) Pending() int {
	if s.snapshot == nil {
		return 0
	}
	return s.snapshot.Pending()
}

// PersistFailures はこのプロセスで発生した永続化失敗の回数を返す。
func (s *Store) PersistFailures() int {
	return s.persistFailures
}
