// Package reconcile はロスター全体の同期バッチを実行する。
// トラッカーから未処理のアイデンティティを1件ずつ取り出し、
// ディレクトリ解決、ダウンストリーム反映、コミットを順番に行う。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/rostersync/internal/metrics"
	"github.com/hitoshi/rostersync/internal/model"
	"github.com/hitoshi/rostersync/internal/roster"
	"github.com/hitoshi/rostersync/internal/tracker"
)

// StopReason はバッチが終了した理由。
type StopReason string

const (
	// StopExhausted は未処理のアイデンティティがなくなったことを示す。
	StopExhausted StopReason = "exhausted"
	// StopCapReached は処理件数の上限に達したことを示す。
	StopCapReached StopReason = "cap-reached"
	// StopInterrupted はシグナル等でコンテキストがキャンセルされたことを示す。
	StopInterrupted StopReason = "interrupted"
)

// Tracker はドライバーが利用するトラッカー操作。
type Tracker interface {
	Load(ctx context.Context) error
	Create(ctx context.Context, roster []string, createdAt time.Time) error
	NextUnresolved() (string, error)
	Commit(ctx context.Context, identity string, record model.TrackerRecord) error
	Pending() int
	PersistFailures() int
}

// StatusResolver は1アイデンティティのステータスを解決する。
type StatusResolver interface {
	Resolve(ctx context.Context, identity string) (model.Outcome, error)
}

// StatusApplier は解決結果をダウンストリームに反映し、処理済みレコードを返す。
type StatusApplier interface {
	Apply(ctx context.Context, identity string, outcome model.Outcome) model.TrackerRecord
}

// Config はバッチドライバーの設定パラメータ。
type Config struct {
	// BuildTracker がtrueの場合、RosterPathから新しいトラッカーを作成してから処理する。
	BuildTracker bool
	RosterPath   string
	// MaxRecords は1回の実行で処理する最大件数。0以下は無制限。
	MaxRecords int
	// RecordInterval はレコード間の待機時間。
	RecordInterval time.Duration
	// ResolveRetryDelay はインフラ障害時のリトライまでの待機時間。
	ResolveRetryDelay time.Duration
}

// Summary は1回の実行結果。
type Summary struct {
	RunID           string
	Processed       int
	Reason          StopReason
	Pending         int
	PersistFailures int
	Duration        time.Duration
}

// FatalError はディレクトリのインフラ障害がリトライ後も解消しなかったことを示す。
// バッチ全体を中断し、該当アイデンティティはコミットされない。
type FatalError struct {
	Identity string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("directory unavailable while resolving %s: %v", e.Identity, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// resolveMaxTries は初回を含むディレクトリ解決の最大試行回数。
const resolveMaxTries = 2

// Driver はバッチ同期ループを実行する。
type Driver struct {
	tracker  Tracker
	resolver StatusResolver
	applier  StatusApplier
	recorder metrics.Recorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time
}

// NewDriver はDriverの新しいインスタンスを生成する。
func NewDriver(
	tracker Tracker,
	resolver StatusResolver,
	applier StatusApplier,
	recorder metrics.Recorder,
	logger *slog.Logger,
	config Config,
) *Driver {
	return &Driver{
		tracker:  tracker,
		resolver: resolver,
		applier:  applier,
		recorder: recorder,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Run はトラッカーを準備し、終了条件に達するまで1件ずつ処理する。
// インフラ障害が2回続いた場合は*FatalErrorを返す。
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := d.logger.With(slog.String("run_id", summary.RunID))

	if err := d.prepare(ctx, logger); err != nil {
		return summary, err
	}

	pending := d.tracker.Pending()
	d.recorder.SetPending(pending)

	logger.Info("同期バッチを開始します",
		slog.Int("pending", pending),
		slog.Int("max_records", d.config.MaxRecords),
		slog.Duration("record_interval", d.config.RecordInterval),
	)

	for {
		if ctx.Err() != nil {
			summary.Reason = StopInterrupted
			break
		}

		identity, err := d.tracker.NextUnresolved()
		if errors.Is(err, tracker.ErrExhausted) {
			summary.Reason = StopExhausted
			break
		}
		if err != nil {
			return summary, fmt.Errorf("failed to select next identity: %w", err)
		}

		outcome, err := d.resolve(ctx, logger, identity)
		if err != nil {
			if ctx.Err() != nil {
				// 解決中のキャンセルはこのアイデンティティをコミットせずに終了する
				summary.Reason = StopInterrupted
				break
			}
			fatal := &FatalError{Identity: identity, Err: err}
			logger.Error("ディレクトリ障害が解消しないためバッチを中断します",
				slog.String("identity", identity),
				slog.Int("processed", summary.Processed),
				slog.String("error", err.Error()),
			)
			return summary, fatal
		}

		if err := d.applyAndCommit(ctx, logger, identity, outcome); err != nil {
			return summary, err
		}

		summary.Processed++
		pending--
		d.recorder.SetPending(pending)

		if d.config.MaxRecords > 0 && summary.Processed >= d.config.MaxRecords {
			summary.Reason = StopCapReached
			break
		}
		if pending <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(d.config.RecordInterval):
		}
	}

	summary.Pending = pending
	summary.PersistFailures = d.tracker.PersistFailures()
	summary.Duration = time.Since(start)

	logger.Info("同期バッチが終了しました",
		slog.String("reason", string(summary.Reason)),
		slog.Int("processed", summary.Processed),
		slog.Int("pending", summary.Pending),
		slog.Int("persist_failures", summary.PersistFailures),
		slog.Float64("duration_ms", float64(summary.Duration.Milliseconds())),
	)
	return summary, nil
}

// prepare はトラッカーを新規作成または読み込む。
func (d *Driver) prepare(ctx context.Context, logger *slog.Logger) error {
	if !d.config.BuildTracker {
		if err := d.tracker.Load(ctx); err != nil {
			if errors.Is(err, tracker.ErrNotFound) {
				return fmt.Errorf("tracker does not exist, run with BUILD_TRACKER=true first: %w", err)
			}
			return err
		}
		return nil
	}

	identities, err := roster.ReadFile(d.config.RosterPath)
	if err != nil {
		return err
	}
	if err := d.tracker.Create(ctx, identities, d.now()); err != nil {
		return err
	}
	logger.Info("ロスターからトラッカーを作成しました",
		slog.String("roster_path", d.config.RosterPath),
		slog.Int("roster_size", len(identities)),
	)
	return nil
}

// resolve はディレクトリ解決を行い、インフラ障害の場合のみ1回だけリトライする。
func (d *Driver) resolve(ctx context.Context, logger *slog.Logger, identity string) (model.Outcome, error) {
	operation := func() (model.Outcome, error) {
		start := time.Now()
		outcome, err := d.resolver.Resolve(ctx, identity)
		d.recorder.RecordResolveLatency(time.Since(start))
		if err != nil && ctx.Err() != nil {
			return outcome, backoff.Permanent(err)
		}
		return outcome, err
	}

	outcome, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(d.config.ResolveRetryDelay)),
		backoff.WithMaxTries(resolveMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.recorder.RecordResolveRetry()
			logger.Warn("ディレクトリ解決に失敗したためリトライします",
				slog.String("identity", identity),
				slog.Duration("retry_after", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return model.Outcome{}, err
	}

	d.recorder.RecordOutcome(outcomeLabel(outcome.Kind))
	return outcome, nil
}

// applyAndCommit は解決結果を反映してコミットする。
// 処理中のレコードは途中でキャンセルせず最後まで完了させる。
func (d *Driver) applyAndCommit(ctx context.Context, logger *slog.Logger, identity string, outcome model.Outcome) error {
	recordCtx := context.WithoutCancel(ctx)

	start := time.Now()
	record := d.applier.Apply(recordCtx, identity, outcome)
	d.recorder.RecordApplyLatency(time.Since(start))

	failuresBefore := d.tracker.PersistFailures()
	if err := d.tracker.Commit(recordCtx, identity, record); err != nil {
		return fmt.Errorf("failed to commit %s: %w", identity, err)
	}
	if d.tracker.PersistFailures() > failuresBefore {
		d.recorder.RecordPersistFailure()
	}
	d.recorder.RecordProcessed(string(record.ResultKind))

	result := ""
	if record.UpdateResult != nil {
		result = *record.UpdateResult
	}
	logger.Info("レコードを処理しました",
		slog.String("identity", identity),
		slog.String("outcome", outcome.String()),
		slog.String("result_kind", string(record.ResultKind)),
		slog.String("update_result", result),
	)
	return nil
}

func outcomeLabel(kind model.OutcomeKind) string {
	switch kind {
	case model.OutcomeResolved:
		return "resolved"
	case model.OutcomeClassified:
		return "classified"
	case model.OutcomeNotFound:
		return "not_found"
	case model.OutcomeDirectoryError:
		return "directory_error"
	default:
		return "unknown"
	}
}

var _ Tracker = (*tracker.Store)(nil)
