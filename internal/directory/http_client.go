package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// maxResponseSize はディレクトリレスポンスの最大読み取りサイズ（1MB）。
const maxResponseSize = 1 << 20

// HTTPClient はHTTP経由で公開されたディレクトリをルックアップするClient。
// `GET <baseURL>?user=<identity>` を発行し、レスポンスボディを返す。
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewHTTPClient はHTTPClientを生成する。
func NewHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Lookup はディレクトリにGETリクエストを送信する。
// 非2xxステータスとタイムアウトはErrLookupFailed、接続失敗はインフラ障害として返す。
func (c *HTTPClient) Lookup(ctx context.Context, identity string) ([]byte, error) {
	reqURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory url: %w", err)
	}
	q := reqURL.Query()
	q.Set("user", identity)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "rostersync/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("directory lookup interrupted: %w", ctx.Err())
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			c.logger.Warn("ディレクトリルックアップがタイムアウトしました",
				slog.String("identity", identity),
			)
			return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}
		return nil, fmt.Errorf("failed to call directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("ディレクトリがエラーステータスを返しました",
			slog.String("identity", identity),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory response: %w", err)
	}
	return body, nil
}

var _ Client = (*HTTPClient)(nil)
