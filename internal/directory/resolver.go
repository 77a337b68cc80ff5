package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/rostersync/internal/model"
)

// DirectoryErrorの詳細メッセージ。
const (
	DetailLookupFailed      = "lookup failed"
	DetailMalformedResponse = "malformed response"
	DetailMissingStatus     = "missing status field"
)

// Resolver は1アイデンティティのディレクトリレコードを取得し、Outcomeに正規化する。
type Resolver struct {
	client     Client
	classifier *Classifier
	logger     *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(client Client, classifier *Classifier, logger *slog.Logger) *Resolver {
	return &Resolver{
		client:     client,
		classifier: classifier,
		logger:     logger,
	}
}

// Resolve はアイデンティティのステータスを解決する。
// アイデンティティ単位の失敗はDirectoryErrorのOutcomeとして返し、
// ルックアップ先を利用できないインフラ障害のみerrorを返す。
func (r *Resolver) Resolve(ctx context.Context, identity string) (model.Outcome, error) {
	raw, err := r.client.Lookup(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrLookupFailed) {
			return model.DirectoryError(DetailLookupFailed), nil
		}
		return model.Outcome{}, err
	}

	outcome := r.parse(identity, raw)
	r.logger.Debug("ディレクトリステータスを解決しました",
		slog.String("identity", identity),
		slog.String("outcome", outcome.String()),
	)
	return outcome, nil
}

// parse はレスポンスを解釈する。statusキーの有無と値の空/nullを区別するため、
// 一度生のマップとしてデコードする。
func (r *Resolver) parse(identity string, raw []byte) model.Outcome {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		r.logger.Warn("ディレクトリレスポンスを解釈できません",
			slog.String("identity", identity),
			slog.String("response", truncate(string(raw), 200)),
		)
		return model.DirectoryError(DetailMalformedResponse)
	}

	rawStatus, ok := fields["status"]
	if !ok {
		return model.DirectoryError(DetailMissingStatus)
	}

	var status *string
	if err := json.Unmarshal(rawStatus, &status); err != nil {
		return model.DirectoryError(DetailMalformedResponse)
	}
	if status != nil {
		if trimmed := strings.TrimSpace(*status); trimmed != "" {
			return model.Resolved(trimmed)
		}
	}

	var groups []string
	if rawGroups, ok := fields["groups"]; ok {
		if err := json.Unmarshal(rawGroups, &groups); err != nil {
			return model.DirectoryError(DetailMalformedResponse)
		}
	}
	return r.classifier.Classify(identity, groups)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
