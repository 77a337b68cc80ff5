// Package directory はディレクトリサービスからアイデンティティのステータスを解決する。
// ルックアップ手段はClientインターフェースで差し替え可能。
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrLookupFailed はルックアップ先が応答したうえで失敗したことを示す。
// 非ゼロ終了やタイムアウトが該当し、アイデンティティ単位のエラーとして記録される。
// これ以外のClientのエラーはインフラ障害として扱われる。
var ErrLookupFailed = errors.New("directory lookup failed")

// Client はディレクトリの1アイデンティティ分のルックアップを行うインターフェース。
// 生のレスポンスを返し、解釈はResolverが行う。
type Client interface {
	Lookup(ctx context.Context, identity string) ([]byte, error)
}

// CommandClient は外部コマンドを起動してルックアップするClient。
// コマンドは `<command> <identity>` の形で呼び出され、標準出力にJSONを出力する。
type CommandClient struct {
	name    string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandClient はCommandClientを生成する。
// commandは空白区切りで実行ファイルと固定引数に分割される。
func NewCommandClient(command string, timeout time.Duration, logger *slog.Logger) (*CommandClient, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("directory command is empty")
	}
	return &CommandClient{
		name:    fields[0],
		args:    fields[1:],
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Lookup はコマンドを実行し標準出力を返す。
func (c *CommandClient) Lookup(ctx context.Context, identity string) ([]byte, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.args...), identity)
	// #nosec G204 -- command is operator supplied configuration
	cmd := exec.CommandContext(callCtx, c.name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// 子プロセスがパイプを保持し続けてもWaitが戻るようにする
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	// 呼び出し元のキャンセルはインフラ側のエラーとして返す
	if ctx.Err() != nil {
		return nil, fmt.Errorf("directory lookup interrupted: %w", ctx.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("ディレクトリルックアップがタイムアウトしました",
			slog.String("identity", identity),
			slog.Duration("timeout", c.timeout),
		)
		return nil, fmt.Errorf("%w: timed out after %s", ErrLookupFailed, c.timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c.logger.Warn("ディレクトリルックアップコマンドが失敗しました",
			slog.String("identity", identity),
			slog.Int("exit_code", exitErr.ExitCode()),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
		)
		return nil, fmt.Errorf("%w: exit code %d", ErrLookupFailed, exitErr.ExitCode())
	}

	return nil, fmt.Errorf("failed to run directory command: %w", err)
}

var _ Client = (*CommandClient)(nil)
