// Package security は外部サービスから受け取った値を安全に扱うための機能を提供する。
//
// MessageSanitizer はダウンストリームのエラーメッセージに含まれるHTMLを除去し、
// ログに平文として出力できる形に正規化する。トラッカーには受け取ったまま記録する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageLength はログに出すメッセージの最大文字数。
const maxMessageLength = 500

// MessageSanitizer は外部由来のメッセージを平文に正規化するインターフェース。
type MessageSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、連続する空白を1つにまとめる。
	// HTMLを含まない入力は前後の空白を除いてそのまま返す。
	Sanitize(raw string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのStrictPolicyはタグを全て除去しエンティティをエスケープするため、
// 除去後にアンエスケープして元の文字に戻す。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
func NewMessageSanitizer() MessageSanitizer {
	return &messageSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はメッセージからHTMLを除去する。
func (s *messageSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if r := []rune(text); len(r) > maxMessageLength {
		text = string(r[:maxMessageLength])
	}
	return text
}
