// Package downstream は解決済みステータスを依存サービスへ反映する。
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// maxResponseSize はレスポンスボディの最大読み取りサイズ（1MB）。
const maxResponseSize = 1 << 20

// StatusResponse はステータス更新APIのレスポンス本体。
// UpdatedStatusがnilの場合は更新されなかったことを示し、Errorに理由が入る。
type StatusResponse struct {
	InitialStatus *string `json:"initial_status"`
	UpdatedStatus *string `json:"updated_status"`
	Error         string  `json:"error"`
}

// StatusUpdater はダウンストリームのステータス更新を行うインターフェース。
// テスト時にモックに差し替え可能。
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, identity, status string) (*StatusResponse, error)
}

type updateRequest struct {
	AuthKey         string `json:"auth_key"`
	User            string `json:"user"`
	RequestedStatus string `json:"requested_status"`
}

type responseEnvelope struct {
	Response *StatusResponse `json:"response"`
	Error    string          `json:"error"`
}

// Client はステータス更新APIのHTTPクライアント。
// 全リクエストはレートリミッターを通過する。
type Client struct {
	httpClient *http.Client
	endpoint   string
	authKey    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient はClientを生成する。
// requestsPerSecondが0以下の場合はレート制限を行わない。
func NewClient(httpClient *http.Client, endpoint, authKey string, requestsPerSecond float64, logger *slog.Logger) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		authKey:    authKey,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// UpdateStatus はアイデンティティのステータス更新を要求する。
// 通信失敗と解釈できないレスポンスはエラーを返す。
// 非2xxステータスは拒否理由を含むレスポンスの場合のみ拒否として返し、それ以外はエラーとする。
func (c *Client) UpdateStatus(ctx context.Context, identity, status string) (*StatusResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(updateRequest{
		AuthKey:         c.authKey,
		User:            identity,
		RequestedStatus: status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "rostersync/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ステータス更新APIの呼び出しに失敗しました",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	result, parseErr := parseStatusResponse(body)

	// 非2xxでも拒否理由を含む整形済みレスポンスであれば拒否として扱う
	if !ok && (parseErr != nil || result.UpdatedStatus != nil || result.Error == "") {
		c.logger.Error("ステータス更新APIがエラーステータスを返しました",
			slog.String("identity", identity),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("status update api returned status %d", resp.StatusCode)
	}
	if parseErr != nil {
		c.logger.Error("ステータス更新APIのレスポンスのパースに失敗しました",
			slog.String("identity", identity),
			slog.String("error", parseErr.Error()),
		)
		return nil, parseErr
	}
	return result, nil
}

// parseStatusResponse はレスポンスボディからStatusResponseを取り出す。
// トップレベルのerrorはresponse内のerrorが空の場合に補う。
func parseStatusResponse(body []byte) (*StatusResponse, error) {
	var envelope responseEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	switch {
	case envelope.Response != nil:
		if envelope.Response.Error == "" {
			envelope.Response.Error = envelope.Error
		}
		return envelope.Response, nil
	case envelope.Error != "":
		return &StatusResponse{Error: envelope.Error}, nil
	default:
		return nil, errors.New("response has neither response nor error field")
	}
}

var _ StatusUpdater = (*Client)(nil)
