// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizerService はユーザーが入力したプロフィール文字列（表示名等）から
// HTMLタグとスクリプトを除去し、ストアドXSSからUIを保護する。
// bluemondayのStrictPolicyにより全てのタグが除去され、テキストのみが残る。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService はプロフィール文字列のサニタイズ機能のインターフェース。
// プロフィールの登録時と更新時に使用される。
type ProfileSanitizerService interface {
	// Sanitize は入力からHTMLタグを全て除去したテキストを返す。
	// 前後の空白も取り除く。空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// プロフィール文字列は装飾を必要としないため、タグを一切許可しない
// StrictPolicyを使用する。script等の危険なタグはもちろん、
// 無害なタグもテキストのみに落とす。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は入力からHTMLタグを全て除去したテキストを返す。
func (s *profileSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
