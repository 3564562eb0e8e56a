// Package identity は外部IDプロバイダーとの連携を提供する。
package identity

import (
	"context"

	"github.com/hitoshi/timebank/internal/model"
)

// SignUpMetadata はアカウント作成時にIDプロバイダー側へ埋め込むメタデータ。
type SignUpMetadata struct {
	Name  string
	Phone string
}

// SignUpResult はアカウント作成の結果を表す。
// Sessionがnilの場合はメール確認等の外部確認待ちで、まだ認証済みセッションは存在しない。
type SignUpResult struct {
	UserID  string
	Session *model.ProviderSession
}

// Provider はIDプロバイダーのインターフェース。
// 全ての操作はプロバイダー定義のエラーを*model.APIErrorとして返す。
// 分類できない失敗（ネットワーク断等）は通常のerrorとして返す。
type Provider interface {
	// GetSession は有効な既存セッションを返す。セッションが存在しない場合はnilを返す。
	// 期限切れセッションはリフレッシュを試み、失敗した場合はnilを返す。
	GetSession(ctx context.Context) (*model.ProviderSession, error)

	// SignInWithPassword はメールアドレスとパスワードで認証する。
	SignInWithPassword(ctx context.Context, email, password string) (*model.ProviderSession, error)

	// SignUp は新規アカウントを作成する。
	// プロバイダーが即時セッションを発行する設定の場合はSignUpResult.Sessionが設定される。
	SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*SignUpResult, error)

	// SignOut は現在のセッションを無効化する。
	SignOut(ctx context.Context) error

	// OnSessionChange はセッション変更イベントの購読を開始する。
	// 返される関数を呼ぶと購読が解除される。イベントは単一のゴルーチンから直列に配送される。
	OnSessionChange(fn func(model.SessionEvent)) (unsubscribe func())
}
