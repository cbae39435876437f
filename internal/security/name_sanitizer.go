// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はキッチン名や商品名などのユーザー入力からマークアップを除去し、
// 他のメンバーのクライアントに配信されても安全なプレーンテキストに変換する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はbluemondayのStrictPolicyで全てのタグを除去する。
// ポリシーは並行利用可能なため、1つのインスタンスを全接続で共有する。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer は新しいNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeName はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。
// 表示側でエスケープされるため、"&"を含む商品名をそのまま保存できる。
// "&lt;b&gt;"のようにエスケープされたタグは戻した後で再度除去する。
func (s *NameSanitizer) SanitizeName(name string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(name))
		if next == name {
			break
		}
		name = next
	}
	return strings.TrimSpace(name)
}

const maxSanitizePasses = 4
