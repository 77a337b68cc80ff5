package middleware

import "net/http"

// NewSecurityHeadersMiddleware は監視エンドポイント向けのレスポンスヘッダーを付与するミドルウェアを返す。
// メトリクスは実行中に刻々と変わるため、中間プロキシにキャッシュさせない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
