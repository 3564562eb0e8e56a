// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultBalance は新規登録ユーザーに付与される初期タイムクレジット。
const DefaultBalance = 2

// UserProfile はローカルに保持するユーザープロフィールを表す。
// IDはIDプロバイダーが発行する不変の識別子で、プロフィールストアの主キーとなる。
// プロフィール行はIDプロバイダー側のアカウントと1対1で対応する（登録時に同時作成）。
type UserProfile struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Balance   int    // タイムクレジット残高（初期値は DefaultBalance）
	AvatarURL string // 任意。空文字列は未設定を表す
	JoinedAt  time.Time
	UpdatedAt time.Time
}

// ProfileUpdate はプロフィールの部分更新を表す。
// nilフィールドは変更しないことを意味する。
type ProfileUpdate struct {
	Name      *string
	Phone     *string
	Balance   *int
	AvatarURL *string
}

// IsEmpty は更新対象のフィールドが1つもないことを返す。
func (u *ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Phone == nil && u.Balance == nil && u.AvatarURL == nil
}

// ProviderSession はIDプロバイダーが発行した認証セッションを表す。
// プロセス内でのみ保持され、ログアウトまたはプロバイダー側のサインアウトで破棄される。
type ProviderSession struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired はセッションの有効期限が切れているかを返す。
func (s *ProviderSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// SessionEventType はIDプロバイダーのセッション変更イベントの種別。
type SessionEventType string

const (
	// SessionSignedIn はサインイン完了（新規セッション確立）を示す。
	SessionSignedIn SessionEventType = "SIGNED_IN"
	// SessionTokenRefreshed はアクセストークンの更新を示す。状態遷移は伴わない。
	SessionTokenRefreshed SessionEventType = "TOKEN_REFRESHED"
	// SessionSignedOut はプロバイダー側でのサインアウトを示す。
	SessionSignedOut SessionEventType = "SIGNED_OUT"
)

// SessionEvent はIDプロバイダーのセッション変更ストリームに流れるイベント。
type SessionEvent struct {
	Type   SessionEventType
	UserID string
}

// AuthResult は全ての認証系操作が返す統一コントラクト。
// 想定内の失敗（認証エラー、重複アカウント、ネットワーク断）は
// error値としてではなく、このコントラクトで呼び出し元に伝える。
type AuthResult struct {
	Success bool
	Error   string // 成功時は空文字列
}

// OK は成功のAuthResultを返す。
func OK() AuthResult {
	return AuthResult{Success: true}
}

// Fail は失敗のAuthResultを返す。
func Fail(msg string) AuthResult {
	return AuthResult{Success: false, Error: msg}
}
