package downstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/rostersync/internal/model"
	"github.com/hitoshi/rostersync/internal/security"
)

// 更新結果メッセージ。
const (
	MessageNoStatus         = "not updated, no status found"
	messageNotUpdatedPrefix = "not updated, "
	messageUpdatedFormat    = "updated, %s -> %s"
	messageProblemPrefix    = "problem updating status, "
)

// Applier は解決結果に応じてダウンストリームを更新し、処理済みレコードを生成する。
type Applier struct {
	updater   StatusUpdater
	sanitizer security.MessageSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewApplier はApplierを生成する。
func NewApplier(updater StatusUpdater, sanitizer security.MessageSanitizer, logger *slog.Logger) *Applier {
	return &Applier{
		updater:   updater,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply はOutcomeを反映し、現在時刻付きの処理済みレコードを返す。
// ステータスが得られなかった場合はダウンストリームを呼び出さない。
// ダウンストリームの失敗はレコードに記録し、リトライしない。
func (a *Applier) Apply(ctx context.Context, identity string, outcome model.Outcome) model.TrackerRecord {
	status, ok := outcome.TargetStatus()
	if !ok {
		return model.NewTerminalRecord("", skipResult(outcome), a.now())
	}

	result := a.update(ctx, identity, status)
	return model.NewTerminalRecord(status, result, a.now())
}

func skipResult(outcome model.Outcome) model.UpdateResult {
	msg := MessageNoStatus
	if outcome.Kind == model.OutcomeDirectoryError {
		msg = messageNotUpdatedPrefix + outcome.Detail
	}
	return model.UpdateResult{Kind: model.ResultSkipped, Message: msg}
}

func (a *Applier) update(ctx context.Context, identity, status string) model.UpdateResult {
	resp, err := a.updater.UpdateStatus(ctx, identity, status)
	if err != nil {
		a.logger.Error("ステータスの更新に失敗しました",
			slog.String("identity", identity),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		return model.UpdateResult{
			Kind:    model.ResultFailed,
			Message: messageProblemPrefix + err.Error(),
		}
	}

	if resp.UpdatedStatus == nil {
		// 拒否理由は受け取ったまま記録し、ログにはマークアップを除去した形で出す
		msg := resp.Error
		if strings.TrimSpace(msg) == "" {
			msg = messageProblemPrefix + "no updated status in response"
		}
		a.logger.Info("ステータスの更新が拒否されました",
			slog.String("identity", identity),
			slog.String("status", status),
			slog.String("reason", a.sanitizer.Sanitize(msg)),
		)
		return model.UpdateResult{Kind: model.ResultRejected, Message: msg}
	}

	initial := "NONE"
	if resp.InitialStatus != nil && *resp.InitialStatus != "" {
		initial = *resp.InitialStatus
	}
	msg := fmt.Sprintf(messageUpdatedFormat, initial, *resp.UpdatedStatus)
	a.logger.Info("ステータスを更新しました",
		slog.String("identity", identity),
		slog.String("initial_status", initial),
		slog.String("updated_status", *resp.UpdatedStatus),
	)
	return model.UpdateResult{Kind: model.ResultUpdated, Message: msg}
}
